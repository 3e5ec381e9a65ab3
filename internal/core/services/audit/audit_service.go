package audit

import (
	"context"
	"time"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
)

// AuditService records administrative actions and orchestrator decisions.
// Actions performed without an authenticated user (scheduler ticks,
// automatic quarantines) are attributed to "system".
type AuditService struct {
	repo ports.AuditRepository
}

func NewAuditService(repo ports.AuditRepository) *AuditService {
	return &AuditService{repo: repo}
}

func (s *AuditService) Log(ctx context.Context, action domain.AuditAction, target, details string) error {
	userID := "system"
	username := "system"
	if u := domain.AuditUserFrom(ctx); u != nil {
		userID = u.ID
		username = u.Username
	}

	// Use Domain Factory to ensure business rules
	entry, err := domain.NewAuditLog(userID, username, action, target, details, "")
	if err != nil {
		return err
	}
	return s.repo.SaveAuditLog(ctx, *entry)
}

func (s *AuditService) GetLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	return s.repo.ListAuditLogs(ctx, limit)
}

// RecordDecision appends one orchestrator decision to the chained trail.
func (s *AuditService) RecordDecision(ctx context.Context, rec domain.DecisionAudit) (*domain.DecisionAudit, error) {
	if err := s.repo.AppendDecision(ctx, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *AuditService) DecisionsSince(ctx context.Context, since time.Time, limit int) ([]domain.DecisionAudit, error) {
	return s.repo.ListDecisionsSince(ctx, since, limit)
}

func (s *AuditService) VerifyDecisionChain(ctx context.Context) (bool, int64, error) {
	return s.repo.VerifyChain(ctx)
}

var _ ports.AuditService = (*AuditService)(nil)
