package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"constructlink/internal/model"
	"constructlink/internal/repository"
	"constructlink/internal/workflow"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

type LoginUserRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type TokenResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	User      *UserResponse `json:"user"`
}

// UserResponse exposes a user without the password hash.
type UserResponse struct {
	ID               int64          `json:"id"`
	Username         string         `json:"username"`
	FullName         string         `json:"full_name"`
	Email            string         `json:"email"`
	Role             model.Role     `json:"role"`
	CurrentProjectID *int64         `json:"current_project_id"`
	CurrentProject   *model.Project `json:"current_project,omitempty"`
}

// CreateUserRequest is used by the seed command.
type CreateUserRequest struct {
	Username         string
	FullName         string
	Email            string
	Password         string
	Role             model.Role
	CurrentProjectID *int64
}

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	Issue(u *model.User) (string, time.Time, error)
}

type UserService interface {
	Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error)
	Me(ctx context.Context, id int64) (*UserResponse, error)
	CreateUser(ctx context.Context, req CreateUserRequest) (*UserResponse, error)
}

type userService struct {
	repo   repository.UserRepository
	tokens TokenIssuer
}

func NewUserService(repo repository.UserRepository, tokens TokenIssuer) UserService {
	return &userService{repo: repo, tokens: tokens}
}

func mapToResponse(user *model.User) *UserResponse {
	return &UserResponse{
		ID:               user.ID,
		Username:         user.Username,
		FullName:         user.FullName,
		Email:            user.Email,
		Role:             user.Role,
		CurrentProjectID: user.CurrentProjectID,
		CurrentProject:   user.CurrentProject,
	}
}

func (s *userService) Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error) {
	user, err := s.repo.GetByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, expires, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{Token: token, ExpiresAt: expires, User: mapToResponse(user)}, nil
}

func (s *userService) Me(ctx context.Context, id int64) (*UserResponse, error) {
	user, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, workflow.NotFound("user", id)
	}
	if err != nil {
		return nil, err
	}
	return mapToResponse(user), nil
}

func (s *userService) CreateUser(ctx context.Context, req CreateUserRequest) (*UserResponse, error) {
	if !req.Role.Valid() {
		return nil, fmt.Errorf("invalid role %q", req.Role)
	}
	if req.Role.ProjectScoped() && req.CurrentProjectID == nil {
		return nil, fmt.Errorf("%s must be assigned to a project", req.Role)
	}
	if _, err := s.repo.GetByUsername(ctx, req.Username); err == nil {
		return nil, errors.New("username already exists")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.New("failed to hash password")
	}

	user := &model.User{
		Username:         req.Username,
		FullName:         req.FullName,
		Email:            req.Email,
		Password:         string(hashedPassword),
		Role:             req.Role,
		CurrentProjectID: req.CurrentProjectID,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user %s: %w", req.Username, err)
	}
	return mapToResponse(user), nil
}
