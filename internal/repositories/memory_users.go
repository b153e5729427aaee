package repositories

import (
	"context"
	"strings"
	"sync"

	"github.com/meetloop/backend/internal/models"
)

// MemoryUserRepository implements UserRepository in memory for local development.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	byID    map[string]models.User
	byEmail map[string]string
}

// NewMemoryUserRepository returns an empty in-memory user repository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:    make(map[string]models.User),
		byEmail: make(map[string]string),
	}
}

// Create stores a new user. Emails are unique case-insensitively.
func (r *MemoryUserRepository) Create(_ context.Context, user models.User) error {
	email := strings.ToLower(user.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[user.ID]; ok {
		return ErrConflict
	}
	if _, ok := r.byEmail[email]; ok {
		return ErrConflict
	}
	r.byID[user.ID] = user
	r.byEmail[email] = user.ID
	return nil
}

// FindByEmail fetches a user by email.
func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return r.byID[id], nil
}

// Update replaces an existing user record.
func (r *MemoryUserRepository) Update(_ context.Context, user models.User) error {
	email := strings.ToLower(user.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[user.ID]
	if !ok {
		return ErrNotFound
	}
	if owner, taken := r.byEmail[email]; taken && owner != user.ID {
		return ErrConflict
	}
	delete(r.byEmail, strings.ToLower(current.Email))
	r.byID[user.ID] = user
	r.byEmail[email] = user.ID
	return nil
}

var _ UserRepository = (*MemoryUserRepository)(nil)
