package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
)

// stubAPIKeyRepo keeps keys by token hash in memory.
type stubAPIKeyRepo struct {
	keys    map[string]domain.APIKey
	findErr error
}

func newStubAPIKeyRepo(keys ...domain.APIKey) *stubAPIKeyRepo {
	r := &stubAPIKeyRepo{keys: map[string]domain.APIKey{}}
	for _, k := range keys {
		r.keys[k.TokenHash] = k
	}
	return r
}

func (s *stubAPIKeyRepo) FindByTokenHash(_ context.Context, tokenHash string) (domain.APIKey, error) {
	if s.findErr != nil {
		return domain.APIKey{}, s.findErr
	}
	k, ok := s.keys[tokenHash]
	if !ok {
		return domain.APIKey{}, domain.ErrNotFound
	}
	return k, nil
}

func (s *stubAPIKeyRepo) Upsert(_ context.Context, key domain.APIKey) error {
	s.keys[key.TokenHash] = key
	return nil
}

func TestAuthServiceAuthenticateDefaultsActorToKeyName(t *testing.T) {
	repo := newStubAPIKeyRepo(domain.APIKey{TokenHash: HashToken("token-1"), TenantID: "tenant-a", Name: "ci", Active: true})

	principal, err := NewAuthService(repo).Authenticate(context.Background(), " token-1 ")
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	want := domain.Principal{TenantID: "tenant-a", KeyName: "ci", ActorID: "apikey:ci"}
	if principal != want {
		t.Fatalf("expected %+v, got %+v", want, principal)
	}
}

func TestAuthServiceAuthenticateUsesStoredActor(t *testing.T) {
	repo := newStubAPIKeyRepo(domain.APIKey{TokenHash: HashToken("token-1"), TenantID: "tenant-a", Name: "ci", ActorID: "user-42", Active: true})

	principal, err := NewAuthService(repo).Authenticate(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if principal.ActorID != "user-42" {
		t.Fatalf("expected stored actor, got %q", principal.ActorID)
	}
}

func TestAuthServiceAuthenticateUnauthorized(t *testing.T) {
	repo := newStubAPIKeyRepo(domain.APIKey{TokenHash: HashToken("revoked"), TenantID: "tenant-a", Name: "old", Active: false})
	svc := NewAuthService(repo)

	for _, token := range []string{"", "   ", "unknown", "revoked"} {
		principal, err := svc.Authenticate(context.Background(), token)
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("token %q: expected unauthorized, got %v", token, err)
		}
		if principal != (domain.Principal{}) {
			t.Fatalf("token %q: expected no principal, got %+v", token, principal)
		}
	}
}

func TestAuthServiceAuthenticatePassesRepoErrors(t *testing.T) {
	repo := newStubAPIKeyRepo()
	repo.findErr = errors.New("disk gone")

	_, err := NewAuthService(repo).Authenticate(context.Background(), "token-1")
	if err == nil || errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected repository error, got %v", err)
	}
}

func TestAuthServiceIssue(t *testing.T) {
	repo := newStubAPIKeyRepo()
	svc := NewAuthService(repo)
	svc.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	if err := svc.Issue(context.Background(), "token-1", domain.APIKey{TenantID: "tenant-a", Name: " ops ", ActorID: " svc:deploy "}); err != nil {
		t.Fatalf("issue: %v", err)
	}
	stored, ok := repo.keys[HashToken("token-1")]
	if !ok {
		t.Fatal("expected key stored under token hash")
	}
	if !stored.Active || stored.Name != "ops" || stored.ActorID != "svc:deploy" {
		t.Fatalf("unexpected stored key: %+v", stored)
	}
	if !stored.CreatedAt.Equal(svc.now()) {
		t.Fatalf("expected created at from clock, got %v", stored.CreatedAt)
	}

	principal, err := svc.Authenticate(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if principal.ActorID != "svc:deploy" {
		t.Fatalf("expected issued actor, got %q", principal.ActorID)
	}
}

func TestAuthServiceIssueRejectsBadInput(t *testing.T) {
	svc := NewAuthService(newStubAPIKeyRepo())
	cases := []struct {
		token string
		key   domain.APIKey
	}{
		{token: "", key: domain.APIKey{TenantID: "tenant-a", Name: "ops"}},
		{token: "t", key: domain.APIKey{TenantID: "bad tenant", Name: "ops"}},
		{token: "t", key: domain.APIKey{TenantID: "tenant-a", Name: "  "}},
	}
	for _, tc := range cases {
		if err := svc.Issue(context.Background(), tc.token, tc.key); !errors.Is(err, domain.ErrInvalidKey) {
			t.Fatalf("%+v: expected invalid key, got %v", tc, err)
		}
	}
}
