package user

import (
	"context"
	defError "errors"
	"strings"

	"mavedb/internal/domain"
	"mavedb/internal/errors"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const searchLimit = 20

// Service defines the interface for user business logic
type Service interface {
	Register(ctx context.Context, user *domain.User) error
	Login(ctx context.Context, login, password string) (*domain.User, error)
	GetUserByID(ctx context.Context, id uint64) (*domain.User, error)
	GetUsersByIDs(ctx context.Context, ids []uint64) ([]domain.User, error)
	DeactivateUser(ctx context.Context, id uint64) error
	IncreaseTokenVersion(ctx context.Context, id uint64) error
	SearchUsers(ctx context.Context, query string) ([]domain.SafeUser, error)
}

// DefaultService implements Service
type DefaultService struct {
	repository UserRepository
}

// NewService creates a new user service
func NewService(repository UserRepository) Service {
	return &DefaultService{repository: repository}
}

// Register registers a new user
func (s *DefaultService) Register(ctx context.Context, user *domain.User) error {
	// Check if username or email is taken
	_, err := s.repository.FindByUsername(ctx, user.Username)
	if err != nil && !defError.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err == nil {
		return errors.Conflict("Username already taken", nil)
	}
	_, err = s.repository.FindByEmail(ctx, user.Email)
	if err != nil && !defError.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err == nil {
		return errors.Conflict("User already registered", nil)
	}

	// Hash the password before saving
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
	if err != nil {
		return errors.UnprocessableEntity("Invalid password", err)
	}
	user.PasswordHash = string(hashedPassword)
	user.Password = ""
	user.IsActive = true

	return s.repository.Create(ctx, user)
}

// Login authenticates a user by username or email
func (s *DefaultService) Login(ctx context.Context, login, password string) (*domain.User, error) {
	find := s.repository.FindByUsername
	if strings.Contains(login, "@") {
		find = s.repository.FindByEmail
	}
	user, err := find(ctx, login)
	if err != nil {
		return nil, errors.Unauthorized("Invalid credentials", err)
	}

	if !user.IsActive {
		return nil, errors.Unauthorized("User is not active", nil)
	}

	// Check password
	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	if err != nil {
		return nil, errors.Unauthorized("Invalid credentials", err)
	}

	return user, nil
}

// GetUserByID gets a user by ID
func (s *DefaultService) GetUserByID(ctx context.Context, id uint64) (*domain.User, error) {
	user, err := s.repository.FindByID(ctx, id)
	if defError.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFound("User not found", err)
	}
	return user, err
}

func (s *DefaultService) GetUsersByIDs(ctx context.Context, ids []uint64) ([]domain.User, error) {
	return s.repository.FindByIDs(ctx, ids)
}

// DeactivateUser deactivates a user
func (s *DefaultService) DeactivateUser(ctx context.Context, id uint64) error {
	return s.repository.Deactivate(ctx, id)
}

// IncreaseTokenVersion revokes every token issued so far
func (s *DefaultService) IncreaseTokenVersion(ctx context.Context, id uint64) error {
	return s.repository.IncrementTokenVersion(ctx, id)
}

func (s *DefaultService) SearchUsers(ctx context.Context, query string) ([]domain.SafeUser, error) {
	if strings.TrimSpace(query) == "" {
		return []domain.SafeUser{}, nil
	}
	users, err := s.repository.Search(ctx, query, searchLimit)
	if err != nil {
		return nil, err
	}
	result := make([]domain.SafeUser, 0, len(users))
	for i := range users {
		result = append(result, users[i].ToSafeUser())
	}
	return result, nil
}
