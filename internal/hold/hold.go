// Package hold implements administrative job holds. A hold with reason
// DISPUTE and status ACTIVE is a hard gate: the release engine refuses to
// move money for the job while one exists, regardless of the job's own
// status field. Holds never expire on their own; only an explicit, audited
// release lifts them.
package hold

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crewpay/crewpay/internal/idgen"
	"github.com/crewpay/crewpay/internal/ledger"
)

// Reason classifies why a hold was placed.
type Reason string

const (
	ReasonDispute Reason = "DISPUTE"
	ReasonManual  Reason = "MANUAL_REVIEW"
)

// Status of a hold.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusReleased Status = "RELEASED"
)

// JobHold blocks settlement actions on a job until released.
type JobHold struct {
	ID         string     `json:"id"`
	JobID      string     `json:"jobId"`
	Reason     Reason     `json:"reason"`
	Status     Status     `json:"status"`
	CreatedBy  string     `json:"createdBy"`
	ReleasedBy string     `json:"releasedBy,omitempty"`
	ReleasedAt *time.Time `json:"releasedAt,omitempty"`
	Note       string     `json:"note,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

var (
	ErrNotFound        = errors.New("hold not found")
	ErrAlreadyReleased = errors.New("hold already released")
)

// Store persists job holds.
type Store interface {
	Create(ctx context.Context, h *JobHold) error
	Get(ctx context.Context, id string) (*JobHold, error)
	ListByJob(ctx context.Context, jobID string) ([]*JobHold, error)

	// Release flips ACTIVE -> RELEASED conditionally. Returns false when the
	// hold was already released.
	Release(ctx context.Context, id, actorID, note string, at time.Time) (bool, error)

	// HasActive reports whether an ACTIVE hold with the reason exists for
	// the job.
	HasActive(ctx context.Context, jobID string, reason Reason) (bool, error)
}

// Service implements hold business logic.
type Service struct {
	store  Store
	audit  ledger.AuditLogger
	logger *slog.Logger
}

// NewService creates a new hold service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// WithAudit attaches an audit logger for hold enforcement actions.
func (s *Service) WithAudit(a ledger.AuditLogger) *Service {
	s.audit = a
	return s
}

// Place creates an ACTIVE hold on a job.
func (s *Service) Place(ctx context.Context, jobID string, reason Reason, actorID, note string) (*JobHold, error) {
	if jobID == "" || actorID == "" {
		return nil, errors.New("hold: job id and actor are required")
	}
	h := &JobHold{
		ID:        idgen.WithPrefix("hld_"),
		JobID:     jobID,
		Reason:    reason,
		Status:    StatusActive,
		CreatedBy: actorID,
		Note:      note,
		CreatedAt: time.Now(),
	}
	if err := s.store.Create(ctx, h); err != nil {
		return nil, fmt.Errorf("failed to place hold: %w", err)
	}

	s.logger.Info("hold placed", "holdId", h.ID, "jobId", jobID, "reason", reason, "actor", actorID)
	s.logAudit(ctx, "hold.place", h.ID, map[string]any{
		"jobId":  jobID,
		"reason": string(reason),
	})
	return h, nil
}

// Release lifts a hold. Releasing an already-released hold returns
// ErrAlreadyReleased so callers cannot silently double-enforce.
func (s *Service) Release(ctx context.Context, holdID, actorID, note string) (*JobHold, error) {
	now := time.Now()
	updated, err := s.store.Release(ctx, holdID, actorID, note, now)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, ErrAlreadyReleased
	}

	h, err := s.store.Get(ctx, holdID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("hold released", "holdId", holdID, "jobId", h.JobID, "actor", actorID)
	s.logAudit(ctx, "hold.release", holdID, map[string]any{
		"jobId": h.JobID,
		"note":  note,
	})
	return h, nil
}

// ActiveDisputeHold reports whether the job currently carries an ACTIVE
// dispute hold. This is the gate release entry points consult.
func (s *Service) ActiveDisputeHold(ctx context.Context, jobID string) (bool, error) {
	return s.store.HasActive(ctx, jobID, ReasonDispute)
}

// ListByJob returns all holds for a job, newest first.
func (s *Service) ListByJob(ctx context.Context, jobID string) ([]*JobHold, error) {
	return s.store.ListByJob(ctx, jobID)
}

func (s *Service) logAudit(ctx context.Context, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogAudit(ctx, &ledger.AuditEntry{
		Action:   action,
		Entity:   "job_hold",
		EntityID: entityID,
		Metadata: meta,
	}); err != nil {
		s.logger.Warn("audit write failed", "action", action, "entityId", entityID, "error", err)
	}
}
