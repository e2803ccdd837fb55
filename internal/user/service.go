package user

import (
	"context"

	"github.com/Shashank188/CanvasCollab/internal/apierror"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// searchResultLimit bounds SearchUsers; the session protocol only needs
// this to resolve a handful of collaborator names, not a full directory.
const searchResultLimit = 20

// Service defines the interface for user business logic. This is the
// thin identity layer backing the session protocol's userId: real
// canvas collaboration doesn't require an account, but a registered
// user gives a connection a stable identity across reconnects.
type Service interface {
	Register(user *User) error
	Login(email, password string) (*User, error)
	GetUserByID(id uint64) (*User, error)
	DeactivateUser(id uint64) error
	IncreaseTokenVersion(id uint64) error
	SearchUsers(ctx context.Context, query string) ([]SafeUser, error)
}

type DefaultService struct {
	repository UserRepository
}

func NewService(repository UserRepository) Service {
	return &DefaultService{repository: repository}
}

func (s *DefaultService) Register(user *User) error {
	_, err := s.repository.FindByEmail(user.Email)
	if err != nil && err != gorm.ErrRecordNotFound {
		return err
	}
	if err == nil {
		return apierror.ErrUnprocessableEntity(nil).WithMessage("User already registered")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
	if err != nil {
		return apierror.ErrUnprocessableEntity(err)
	}
	user.PasswordHash = string(hashedPassword)
	user.IsActive = true

	return s.repository.Create(user)
}

func (s *DefaultService) Login(email, password string) (*User, error) {
	user, err := s.repository.FindByEmail(email)
	if err != nil {
		return nil, apierror.ErrUnauthorized(err).WithMessage("User not found")
	}

	if !user.IsActive {
		return nil, apierror.ErrUnauthorized(nil).WithMessage("User is not active")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apierror.ErrUnprocessableEntity(err).WithMessage("Wrong password")
	}

	return user, nil
}

func (s *DefaultService) GetUserByID(id uint64) (*User, error) {
	return s.repository.FindByID(id)
}

func (s *DefaultService) DeactivateUser(id uint64) error {
	return s.repository.Deactivate(id)
}

func (s *DefaultService) IncreaseTokenVersion(id uint64) error {
	return s.repository.IncreaseTokenVersion(id)
}

func (s *DefaultService) SearchUsers(ctx context.Context, query string) ([]SafeUser, error) {
	if query == "" {
		return []SafeUser{}, nil
	}

	users, err := s.repository.Search(ctx, query, searchResultLimit)
	if err != nil {
		return nil, err
	}

	safe := make([]SafeUser, 0, len(users))
	for i := range users {
		safe = append(safe, users[i].ToSafeUser())
	}
	return safe, nil
}
