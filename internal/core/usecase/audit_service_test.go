package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
)

type stubHistoryReader struct {
	entries []domain.AuditEntry
	calls   []domain.HistoryFilter
}

func (r *stubHistoryReader) List(_ context.Context, filter domain.HistoryFilter) ([]domain.AuditEntry, error) {
	r.calls = append(r.calls, filter)
	var out []domain.AuditEntry
	for _, e := range r.entries {
		if e.ID <= filter.AfterID {
			continue
		}
		out = append(out, e)
		if len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func TestHistoryServiceListAppliesDefaultLimit(t *testing.T) {
	repo := &stubHistoryReader{}
	svc := NewHistoryService(repo)

	if _, err := svc.List(context.Background(), domain.HistoryFilter{TenantID: "tenant-a"}); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if repo.calls[0].Limit != defaultListLimit {
		t.Fatalf("expected default limit, got %d", repo.calls[0].Limit)
	}
}

func TestHistoryServiceListRejectsUnknownAction(t *testing.T) {
	svc := NewHistoryService(&stubHistoryReader{})

	_, err := svc.List(context.Background(), domain.HistoryFilter{TenantID: "tenant-a", Action: "rename"})
	if !errors.Is(err, domain.ErrInvalidFilter) {
		t.Fatalf("expected invalid filter, got %v", err)
	}
}

func TestHistoryServiceTrailPagesThroughEntries(t *testing.T) {
	repo := &stubHistoryReader{}
	for i := 1; i <= maxListLimit+5; i++ {
		repo.entries = append(repo.entries, domain.AuditEntry{ID: int64(i), TargetID: "w1"})
	}
	svc := NewHistoryService(repo)

	trail, err := svc.Trail(context.Background(), "tenant-a", "Widget", "w1")
	if err != nil {
		t.Fatalf("trail failed: %v", err)
	}
	if len(trail) != maxListLimit+5 {
		t.Fatalf("expected %d entries, got %d", maxListLimit+5, len(trail))
	}
	if len(repo.calls) != 2 || repo.calls[1].AfterID != maxListLimit {
		t.Fatalf("unexpected paging: %+v", repo.calls)
	}
}
