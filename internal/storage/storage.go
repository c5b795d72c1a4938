// Package storage persists the users served by the /api/v1 routes.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common sentinel errors for storage operations.
var (
	// ErrUserNotFound is returned when a user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailExists is returned when another user already owns the email.
	ErrEmailExists = errors.New("email already registered")

	// ErrInvalidUser is returned when a user lacks an ID, name or email.
	ErrInvalidUser = errors.New("invalid user")

	// ErrStorageUnavailable is returned when the storage backend is unavailable.
	ErrStorageUnavailable = errors.New("storage backend unavailable")
)

// User is a registered user.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewUser returns a user with a fresh ID and creation time.
func NewUser(name, email string) *User {
	return &User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
}

// emailKey is the case-insensitive uniqueness key of an email.
func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateUser(u *User) error {
	if u == nil || u.ID == "" || u.Name == "" || u.Email == "" {
		return ErrInvalidUser
	}
	return nil
}

// Store defines the interface for user storage operations.
// Implementations must be safe for concurrent use.
//
// Example usage:
//
//	store := NewMemoryStore()
//	defer store.Close()
//
//	err := store.Create(ctx, NewUser("Ada", "ada@example.com"))
//	if errors.Is(err, ErrEmailExists) {
//	    // answer 409
//	}
type Store interface {
	// Create stores a new user.
	// Returns ErrEmailExists if the email is already registered.
	// Returns ErrInvalidUser if the ID, name or email is empty.
	Create(ctx context.Context, user *User) error

	// Get retrieves a user by ID.
	// Returns ErrUserNotFound if the user does not exist.
	Get(ctx context.Context, id string) (*User, error)

	// List returns up to limit users, oldest first, skipping offset users.
	// Returns an empty slice if the page is past the end.
	List(ctx context.Context, offset, limit int) ([]*User, error)

	// Count returns the total number of users.
	Count(ctx context.Context) (int, error)

	// Ping checks that the backend is reachable.
	// Returns an error wrapping ErrStorageUnavailable if it is not.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
