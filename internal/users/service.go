package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"activity-platform/internal/activity"
	"activity-platform/internal/event"
	"activity-platform/pkg/logger"
)

// ActivitySink accepts activities for asynchronous recording.
type ActivitySink interface {
	Submit(ctx context.Context, e activity.Entry) bool
}

type Service struct {
	repo       Repository
	activities ActivitySink
	hashCost   int
}

func NewService(repo Repository, activities ActivitySink) *Service {
	return &Service{repo: repo, activities: activities, hashCost: bcrypt.DefaultCost}
}

type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
}

const minPasswordLen = 8

func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	email := normalizeEmail(in.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return User{}, fmt.Errorf("%w: email", ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLen {
		return User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	if strings.TrimSpace(in.Firstname) == "" || strings.TrimSpace(in.Lastname) == "" {
		return User{}, fmt.Errorf("%w: firstname and lastname required", ErrInvalidInput)
	}
	return s.create(ctx, email, in.Password, strings.TrimSpace(in.Firstname), strings.TrimSpace(in.Lastname), false)
}

func (s *Service) create(ctx context.Context, email, password, first, last string, admin bool) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	return s.repo.Create(ctx, User{
		Email:          email,
		Firstname:      first,
		Lastname:       last,
		HashedPassword: string(hash),
		IsAdmin:        admin,
	})
}

// Authenticate checks credentials. Unknown, deleted and mismatching accounts
// all report ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	u, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if u.IsDeleted {
		return User{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.HashedPassword), []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

func (s *Service) AuthenticateAdmin(ctx context.Context, email, password string) (User, error) {
	u, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return User{}, err
	}
	if !u.IsAdmin {
		return User{}, ErrNotAdmin
	}
	return u, nil
}

// Active returns the user if it exists and is not deleted.
func (s *Service) Active(ctx context.Context, id int64) (User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if u.IsDeleted {
		return User{}, ErrNotFound
	}
	return u, nil
}

// ActiveAdmin is Active plus the administrator check used by activity
// observers.
func (s *Service) ActiveAdmin(ctx context.Context, id int64) (User, error) {
	u, err := s.Active(ctx, id)
	if err != nil {
		return User{}, err
	}
	if !u.IsAdmin {
		return User{}, ErrNotAdmin
	}
	return u, nil
}

// UpdateProfile applies the set fields and records a profile_updated
// activity holding the {field: {old, new}} diff. Blank strings clear
// optional fields; an update that changes nothing records nothing.
func (s *Service) UpdateProfile(ctx context.Context, id int64, in ProfileUpdate) (User, error) {
	cur, err := s.Active(ctx, id)
	if err != nil {
		return User{}, err
	}

	next := cur
	changes := map[string]any{}
	if in.Firstname != nil {
		v := strings.TrimSpace(*in.Firstname)
		if v == "" {
			return User{}, fmt.Errorf("%w: firstname cannot be blank", ErrInvalidInput)
		}
		if v != cur.Firstname {
			changes["firstname"] = diff(cur.Firstname, v)
			next.Firstname = v
		}
	}
	if in.Lastname != nil {
		v := strings.TrimSpace(*in.Lastname)
		if v == "" {
			return User{}, fmt.Errorf("%w: lastname cannot be blank", ErrInvalidInput)
		}
		if v != cur.Lastname {
			changes["lastname"] = diff(cur.Lastname, v)
			next.Lastname = v
		}
	}
	if in.Bio != nil {
		v := blankToNil(*in.Bio)
		if !sameOptional(cur.Bio, v) {
			changes["bio"] = diff(optional(cur.Bio), optional(v))
			next.Bio = v
		}
	}
	if in.ProfilePicture != nil {
		v := blankToNil(*in.ProfilePicture)
		if !sameOptional(cur.ProfilePicture, v) {
			changes["profile_picture"] = diff(optional(cur.ProfilePicture), optional(v))
			next.ProfilePicture = v
		}
	}
	if len(changes) == 0 {
		return cur, nil
	}

	updated, err := s.repo.UpdateProfile(ctx, next)
	if err != nil {
		return User{}, err
	}

	s.activities.Submit(ctx, activity.Entry{
		UserID:    updated.ID,
		Type:      activity.ProfileUpdated,
		RequestID: logger.RequestID(ctx),
		Data:      changes,
		Payload:   map[string]any{"changes": changes},
		Actor:     ActorOf(updated),
		Meta:      logger.Meta(ctx).Map(),
	})
	return updated, nil
}

// EnsureAdmin creates the administrator account unless the email is already
// registered. It reports whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (User, bool, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return User{}, false, fmt.Errorf("%w: admin email and password required", ErrInvalidInput)
	}
	existing, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, false, err
	}
	u, err := s.create(ctx, email, password, "System", "Admin", true)
	if err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

// ActorOf is the envelope actor for u.
func ActorOf(u User) event.Actor {
	return event.Actor{ID: u.ID, Email: u.Email, IsAdmin: u.IsAdmin}
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func diff(before, after any) map[string]any {
	return map[string]any{"old": before, "new": after}
}

func blankToNil(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func sameOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func optional(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
