package users

import (
	"context"
	"errors"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"activity-platform/internal/activity"
	"activity-platform/pkg/logger"
)

type captureSink struct {
	mu      sync.Mutex
	entries []activity.Entry
}

func (s *captureSink) Submit(_ context.Context, e activity.Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return true
}

func newTestService() (*Service, *MemoryRepo, *captureSink) {
	repo := NewMemoryRepo()
	sink := &captureSink{}
	svc := NewService(repo, sink)
	svc.hashCost = bcrypt.MinCost
	return svc, repo, sink
}

func strp(s string) *string { return &s }

func TestRegisterAndAuthenticate(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterInput{Email: " Ada@Example.com ", Password: "correct-horse", Firstname: "Ada", Lastname: "Lovelace"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Email != "ada@example.com" || u.IsAdmin {
		t.Fatalf("unexpected user: %+v", u)
	}

	if _, err := svc.Register(ctx, RegisterInput{Email: "ada@example.com", Password: "correct-horse", Firstname: "A", Lastname: "L"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	if _, err := svc.Authenticate(ctx, "ada@example.com", "correct-horse"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "ada@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@example.com", "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
	if _, err := svc.AuthenticateAdmin(ctx, "ada@example.com", "correct-horse"); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
}

func TestRegister_Validates(t *testing.T) {
	svc, _, _ := newTestService()
	cases := []RegisterInput{
		{Email: "not-an-email", Password: "long-enough", Firstname: "a", Lastname: "b"},
		{Email: "a@example.com", Password: "short", Firstname: "a", Lastname: "b"},
		{Email: "a@example.com", Password: "long-enough", Firstname: " ", Lastname: "b"},
	}
	for i, in := range cases {
		if _, err := svc.Register(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestDeletedUsersAreRejected(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	admin, created, err := svc.EnsureAdmin(ctx, "root@example.com", "admin-password")
	if err != nil || !created {
		t.Fatalf("ensure admin: %v created=%v", err, created)
	}
	if _, err := svc.ActiveAdmin(ctx, admin.ID); err != nil {
		t.Fatalf("expected active admin: %v", err)
	}

	repo.SoftDelete(admin.ID)
	if _, err := svc.ActiveAdmin(ctx, admin.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for deleted admin, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "root@example.com", "admin-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("deleted user must not authenticate, got %v", err)
	}
}

func TestEnsureAdmin_Idempotent(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	first, created, err := svc.EnsureAdmin(ctx, "root@example.com", "admin-password")
	if err != nil || !created || !first.IsAdmin {
		t.Fatalf("first ensure: %+v created=%v err=%v", first, created, err)
	}
	again, created, err := svc.EnsureAdmin(ctx, "ROOT@example.com", "other")
	if err != nil || created || again.ID != first.ID {
		t.Fatalf("second ensure must be a no-op: %+v created=%v err=%v", again, created, err)
	}
	if _, _, err := svc.EnsureAdmin(ctx, "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUpdateProfile_RecordsDiff(t *testing.T) {
	svc, _, sink := newTestService()
	u, err := svc.Register(context.Background(), RegisterInput{Email: "u@example.com", Password: "long-enough", Firstname: "Ann", Lastname: "Lee"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := logger.WithRequest(context.Background(), "req-42", logger.RequestMeta{IPAddress: "10.0.0.1", Source: "api"})
	updated, err := svc.UpdateProfile(ctx, u.ID, ProfileUpdate{
		Firstname: strp("Anne"),
		Lastname:  strp("Lee"),
		Bio:       strp("hello"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Firstname != "Anne" || updated.Bio == nil || *updated.Bio != "hello" {
		t.Fatalf("unexpected user: %+v", updated)
	}

	if len(sink.entries) != 1 {
		t.Fatalf("expected 1 activity, got %d", len(sink.entries))
	}
	e := sink.entries[0]
	if e.Type != activity.ProfileUpdated || e.RequestID != "req-42" || e.UserID != u.ID {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if len(e.Data) != 2 {
		t.Fatalf("expected only changed fields in diff, got %v", e.Data)
	}
	first := e.Data["firstname"].(map[string]any)
	if first["old"] != "Ann" || first["new"] != "Anne" {
		t.Fatalf("unexpected firstname diff: %v", first)
	}
	bio := e.Data["bio"].(map[string]any)
	if bio["old"] != nil || bio["new"] != "hello" {
		t.Fatalf("unexpected bio diff: %v", bio)
	}
	if e.Payload["changes"] == nil || e.Meta["ip_address"] != "10.0.0.1" {
		t.Fatalf("expected changes payload and request meta, got %+v", e)
	}
}

func TestUpdateProfile_NoChangeRecordsNothing(t *testing.T) {
	svc, _, sink := newTestService()
	u, _ := svc.Register(context.Background(), RegisterInput{Email: "u@example.com", Password: "long-enough", Firstname: "Ann", Lastname: "Lee"})

	if _, err := svc.UpdateProfile(context.Background(), u.ID, ProfileUpdate{Firstname: strp("Ann"), Bio: strp("  ")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(sink.entries) != 0 {
		t.Fatalf("expected no activity for a no-op update")
	}
	if _, err := svc.UpdateProfile(context.Background(), u.ID, ProfileUpdate{Lastname: strp(" ")}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank lastname, got %v", err)
	}
}
