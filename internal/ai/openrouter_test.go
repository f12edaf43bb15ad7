package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-chatbot/internal/model"
)

func testClient(baseURL string) *Client {
	return NewClient(Config{
		APIKey:  "sk-test",
		Model:   "test-model",
		BaseURL: baseURL,
		SiteURL: "http://localhost:3000",
	}, nil)
}

func TestFormatMessages(t *testing.T) {
	history := []model.Message{
		{SenderType: model.SenderUser, Content: "Hi"},
		{SenderType: model.SenderBot, Content: "Hello!"},
		{SenderType: model.SenderUser, Content: "Tell me more"},
	}

	formatted := FormatMessages(history)
	require.Len(t, formatted, 4)
	assert.Equal(t, "system", formatted[0].Role)
	assert.Equal(t, "user", formatted[1].Role)
	assert.Equal(t, "assistant", formatted[2].Role)
	assert.Equal(t, "user", formatted[3].Role)
	assert.Equal(t, "Tell me more", formatted[3].Content)
}

func TestGenerateResponse_NotConfigured(t *testing.T) {
	client := NewClient(Config{Model: "m", BaseURL: "http://example.invalid"}, nil)

	// No network call happens: the invalid base URL would fail otherwise.
	got := client.GenerateResponse(context.Background(), nil, false)
	assert.Equal(t, replyNotConfigured, got)
}

func TestGenerateResponse_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Write([]byte(`{"choices":[{"message":{"content":"  Hello there.  "}}]}`))
	}))
	defer server.Close()

	got := testClient(server.URL).GenerateResponse(context.Background(), nil, false)
	assert.Equal(t, "Hello there.", got)
}

func TestGenerateResponse_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	got := testClient(server.URL).GenerateResponse(context.Background(), nil, false)
	assert.Equal(t, replyBadFormat, got)
}

func TestGenerateResponse_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	got := testClient(server.URL).GenerateResponse(context.Background(), nil, false)
	assert.Equal(t, replyBadFormat, got)
}

func TestGenerateResponse_ProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	got := testClient(server.URL).GenerateResponse(context.Background(), nil, false)
	assert.Equal(t, replyUnexpected, got)
}

func TestGenerateResponse_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	client := testClient(server.URL)
	client.httpClient.Timeout = 50 * time.Millisecond

	start := time.Now()
	got := client.GenerateResponse(context.Background(), nil, false)
	assert.Equal(t, replyTimeout, got)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGenerateResponse_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	got := testClient(server.URL).GenerateResponse(context.Background(), nil, false)
	assert.Equal(t, replyConnectionFailed, got)
}

func TestGenerateResponse_StreamAccumulates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(": comment line ignored\n"))
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n"))
		w.Write([]byte("data: this is not json and gets skipped\n\n"))
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"after done, never read\"}}]}\n\n"))
	}))
	defer server.Close()

	got := testClient(server.URL).GenerateResponse(context.Background(), nil, true)
	assert.Equal(t, "Hello", got)
}

func TestGenerateResponse_StreamNoContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data: garbage\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	got := testClient(server.URL).GenerateResponse(context.Background(), nil, true)
	assert.Equal(t, replyEmptyStream, got)
}

func TestGenerateTitle_FromProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"\"Trip Planning Help\""}}]}`))
	}))
	defer server.Close()

	outcome := testClient(server.URL).GenerateTitle(context.Background(), "Help me plan a trip")
	assert.True(t, outcome.FromProvider)
	assert.Equal(t, "Trip Planning Help", outcome.Title)
}

func TestGenerateTitle_TruncatesLongTitles(t *testing.T) {
	long := "This Extremely Verbose Title Definitely Exceeds The Fifty Character Limit"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"` + long + `"}}]}`))
	}))
	defer server.Close()

	outcome := testClient(server.URL).GenerateTitle(context.Background(), "anything")
	assert.True(t, outcome.FromProvider)
	assert.Len(t, outcome.Title, 50)
	assert.Equal(t, long[:47]+"...", outcome.Title)
}

func TestGenerateTitle_CountsCharactersNotBytes(t *testing.T) {
	// 21 characters but 63 bytes; must pass through untouched.
	title := "会話のタイトルを生成するテストです長すぎる"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"` + title + `"}}]}`))
	}))
	defer server.Close()

	outcome := testClient(server.URL).GenerateTitle(context.Background(), "こんにちは")
	assert.True(t, outcome.FromProvider)
	assert.Equal(t, title, outcome.Title)
}

func TestGenerateTitle_TruncatesLongMultiByteTitles(t *testing.T) {
	long := strings.Repeat("長", 60)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"` + long + `"}}]}`))
	}))
	defer server.Close()

	outcome := testClient(server.URL).GenerateTitle(context.Background(), "anything")
	assert.True(t, outcome.FromProvider)
	assert.True(t, utf8.ValidString(outcome.Title))
	assert.Equal(t, strings.Repeat("長", 47)+"...", outcome.Title)
}

func TestGenerateTitle_FallsBackOnFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	outcome := testClient(server.URL).GenerateTitle(context.Background(), "anything")
	assert.False(t, outcome.FromProvider)
	assert.Equal(t, defaultTitle, outcome.Title)
}
