package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
	"github.com/atvirokodosprendimai/doctrail/internal/core/ports"
)

var ErrUnauthorized = errors.New("unauthorized")

// AuthService issues API keys and resolves request tokens to principals.
type AuthService struct {
	repo ports.APIKeyRepository
	now  func() time.Time
}

func NewAuthService(repo ports.APIKeyRepository) *AuthService {
	return &AuthService{repo: repo, now: time.Now}
}

// Issue stores key as active under the hash of token. Issuing an existing
// token updates its tenant, name and actor.
func (s *AuthService) Issue(ctx context.Context, token string, key domain.APIKey) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: empty token", domain.ErrInvalidKey)
	}
	if err := domain.ValidateKey(key.TenantID); err != nil {
		return fmt.Errorf("tenant %q: %w", key.TenantID, err)
	}
	key.Name = strings.TrimSpace(key.Name)
	if key.Name == "" {
		return fmt.Errorf("%w: empty key name", domain.ErrInvalidKey)
	}
	key.ActorID = strings.TrimSpace(key.ActorID)
	key.TokenHash = HashToken(token)
	key.Active = true
	if key.CreatedAt.IsZero() {
		key.CreatedAt = s.now().UTC()
	}
	return s.repo.Upsert(ctx, key)
}

// Authenticate resolves token to the principal of an active key.
func (s *AuthService) Authenticate(ctx context.Context, token string) (domain.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Principal{}, ErrUnauthorized
	}

	apiKey, err := s.repo.FindByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Principal{}, ErrUnauthorized
		}
		return domain.Principal{}, err
	}
	principal, ok := apiKey.Principal()
	if !ok {
		return domain.Principal{}, ErrUnauthorized
	}
	return principal, nil
}

func HashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}
