package users

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory user store for tests and local wiring.
type MemoryRepo struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]User
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: map[int64]User{}}
}

func (r *MemoryRepo) Create(_ context.Context, u User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.Email == u.Email {
			return User{}, ErrEmailTaken
		}
	}
	r.nextID++
	now := time.Now().UTC()
	u.ID = r.nextID
	u.CreatedAt, u.UpdatedAt = now, now
	r.byID[u.ID] = u
	return u, nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id int64) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (r *MemoryRepo) GetByEmail(_ context.Context, email string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (r *MemoryRepo) UpdateProfile(_ context.Context, u User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[u.ID]
	if !ok || cur.IsDeleted {
		return User{}, ErrNotFound
	}
	cur.Firstname, cur.Lastname = u.Firstname, u.Lastname
	cur.Bio, cur.ProfilePicture = u.Bio, u.ProfilePicture
	cur.UpdatedAt = time.Now().UTC()
	r.byID[u.ID] = cur
	return cur, nil
}

// SoftDelete marks a user deleted. Tests use it to exercise rejection paths.
func (r *MemoryRepo) SoftDelete(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.IsDeleted = true
		r.byID[id] = u
	}
}
