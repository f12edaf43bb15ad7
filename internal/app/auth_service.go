package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"ai-chatbot/internal/model"
	"ai-chatbot/internal/pkg/jwtutil"
	"ai-chatbot/internal/repository"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrEmailExists  = errors.New("email already registered")
	// ErrInvalidCredential covers both unknown email and wrong password,
	// so login failures reveal neither.
	ErrInvalidCredential = errors.New("incorrect email or password")
	ErrInactiveAccount   = errors.New("user account is inactive")
)

type AuthService struct {
	userRepo      *repository.UserRepository
	jwtSecret     string
	jwtAlgorithm  string
	jwtExpiration time.Duration
}

type RegisterInput struct {
	Email    string
	Name     string
	Password string
}

type LoginInput struct {
	Email    string
	Password string
}

type AuthResult struct {
	Token string
	User  *model.User
}

func NewAuthService(userRepo *repository.UserRepository, jwtSecret, jwtAlgorithm string, jwtExpiration time.Duration) *AuthService {
	if jwtAlgorithm == "" {
		jwtAlgorithm = "HS256"
	}
	return &AuthService{
		userRepo:      userRepo,
		jwtSecret:     jwtSecret,
		jwtAlgorithm:  jwtAlgorithm,
		jwtExpiration: jwtExpiration,
	}
}

func (s *AuthService) Register(input RegisterInput) (*model.User, error) {
	email := strings.TrimSpace(input.Email)
	name := strings.TrimSpace(input.Name)
	password := input.Password

	if email == "" || name == "" || password == "" {
		return nil, ErrInvalidInput
	}

	existing, err := s.userRepo.GetByEmail(email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password failed: %w", err)
	}

	user := &model.User{
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		IsActive:     true,
	}
	if err := s.userRepo.Create(user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *AuthService) Login(input LoginInput) (*AuthResult, error) {
	email := strings.TrimSpace(input.Email)
	password := input.Password
	if email == "" || password == "" {
		return nil, ErrInvalidInput
	}

	user, err := s.userRepo.GetByEmail(email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredential
	}
	if !user.IsActive {
		return nil, ErrInactiveAccount
	}

	token, err := jwtutil.GenerateToken(s.jwtSecret, s.jwtAlgorithm, s.jwtExpiration, user.Email)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user}, nil
}

// GetUserByEmail resolves a verified token subject back to a user record.
func (s *AuthService) GetUserByEmail(email string) (*model.User, error) {
	if email == "" {
		return nil, ErrInvalidInput
	}
	return s.userRepo.GetByEmail(email)
}
