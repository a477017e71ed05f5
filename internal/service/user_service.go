package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/brightdesk/brightdesk-api/internal/dto"
	"github.com/brightdesk/brightdesk-api/internal/repository"
)

// ErrInvalidUserID rejects identifiers that are not positive integers.
var ErrInvalidUserID = errors.New("invalid user id")

// UserService reads the staff directory for the conversation picker.
type UserService interface {
	List(ctx context.Context) ([]dto.UserResponse, error)
	GetByID(ctx context.Context, id string) (dto.UserResponse, error)
}

type userService struct {
	repo   repository.UserRepository
	logger zerolog.Logger
}

// NewUserService constructs the user directory service.
func NewUserService(repo repository.UserRepository, logger zerolog.Logger) UserService {
	return &userService{
		repo:   repo,
		logger: logger.With().Str("component", "user_service").Logger(),
	}
}

func (s *userService) List(ctx context.Context) ([]dto.UserResponse, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return dto.NewUserResponseSlice(users), nil
}

func (s *userService) GetByID(ctx context.Context, id string) (dto.UserResponse, error) {
	parsed, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
	if err != nil || parsed == 0 {
		return dto.UserResponse{}, ErrInvalidUserID
	}

	user, err := s.repo.FindByID(ctx, uint(parsed))
	if err != nil {
		return dto.UserResponse{}, err
	}
	return dto.NewUserResponse(user), nil
}
