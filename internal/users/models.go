package users

import (
	"errors"
	"time"
)

// User is an account. Soft-deleted users keep their row but can neither
// authenticate nor observe activity.
type User struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	Firstname      string    `json:"firstname"`
	Lastname       string    `json:"lastname"`
	HashedPassword string    `json:"-"`
	IsAdmin        bool      `json:"is_admin"`
	Bio            *string   `json:"bio"`
	ProfilePicture *string   `json:"profile_picture"`
	IsDeleted      bool      `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ProfileUpdate carries the profile fields a caller set. Nil means unset.
type ProfileUpdate struct {
	Firstname      *string `json:"firstname"`
	Lastname       *string `json:"lastname"`
	Bio            *string `json:"bio"`
	ProfilePicture *string `json:"profile_picture"`
}

var (
	ErrNotFound           = errors.New("users: not found")
	ErrEmailTaken         = errors.New("users: email already registered")
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	ErrNotAdmin           = errors.New("users: administrator privilege required")
	ErrInvalidInput       = errors.New("users: invalid input")
)
