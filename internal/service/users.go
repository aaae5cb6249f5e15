package service

import (
	"context"

	"gorm.io/gorm"

	"example.com/testnet/services/points/internal/models"
	"example.com/testnet/services/points/internal/repository"
)

// UserService wraps the account directory. Account creation provisions the
// user's aggregate row so the rank query never sees a missing one.
type UserService struct {
	users *repository.UserRepository
}

// NewUserService creates a new user service
func NewUserService(db *gorm.DB) *UserService {
	return &UserService{users: repository.NewUserRepository(db)}
}

// CreateUserOptions describes a new account.
type CreateUserOptions struct {
	Graffiti    string
	Email       string
	CountryCode string
}

// Create registers a user together with an empty points aggregate row.
func (s *UserService) Create(ctx context.Context, opts CreateUserOptions) (*models.User, error) {
	user := &models.User{
		Graffiti:    opts.Graffiti,
		Email:       opts.Email,
		CountryCode: opts.CountryCode,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Get returns a user by id.
func (s *UserService) Get(ctx context.Context, id uint) (*models.User, error) {
	return s.users.FindByID(ctx, id)
}
