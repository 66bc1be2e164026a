package usecase

import (
	"context"

	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
	"github.com/atvirokodosprendimai/doctrail/internal/core/ports"
)

// HistoryService reads stored audit entries for internal verification.
type HistoryService struct {
	repo ports.HistoryReader
}

func NewHistoryService(repo ports.HistoryReader) *HistoryService {
	return &HistoryService{repo: repo}
}

func (s *HistoryService) List(ctx context.Context, filter domain.HistoryFilter) ([]domain.AuditEntry, error) {
	if err := domain.ValidateKey(filter.TenantID); err != nil {
		return nil, err
	}
	if filter.TargetID != "" {
		if err := domain.ValidateKey(filter.TargetID); err != nil {
			return nil, err
		}
	}
	if filter.Action != "" && !filter.Action.IsValid() {
		return nil, domain.ErrInvalidFilter
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return s.repo.List(ctx, filter)
}

// Trail returns every entry of one target, oldest first.
func (s *HistoryService) Trail(ctx context.Context, tenantID, entityType, targetID string) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	filter := domain.HistoryFilter{TenantID: tenantID, EntityType: entityType, TargetID: targetID, Limit: maxListLimit}
	for {
		page, err := s.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < filter.Limit {
			return out, nil
		}
		filter.AfterID = page[len(page)-1].ID
	}
}
