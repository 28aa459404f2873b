// Package payout implements the multi-leg release engine: given a funded,
// completion-ready job it computes the deterministic three-way split, sends
// each external leg over the transfer rail with a retry-safe idempotency
// key, and finalizes the ledger once every leg is SENT.
package payout

import (
	"context"
	"fmt"
	"time"
)

// Role identifies a payee leg. The set is closed: exactly these three.
type Role string

const (
	RoleContractor Role = "CONTRACTOR"
	RoleRouter     Role = "ROUTER"
	RolePlatform   Role = "PLATFORM"
)

// releaseOrder is the deterministic leg attempt order.
var releaseOrder = []Role{RoleContractor, RoleRouter, RolePlatform}

// TransferStatus tracks one leg's progress.
type TransferStatus string

const (
	TransferPending  TransferStatus = "PENDING"
	TransferSent     TransferStatus = "SENT"
	TransferFailed   TransferStatus = "FAILED"
	TransferReversed TransferStatus = "REVERSED"
)

// TransferRecord is one row per (job, role); the unique pair is the
// idempotency anchor for the release engine.
type TransferRecord struct {
	JobID              string         `json:"jobId"`
	Role               Role           `json:"role"`
	UserID             string         `json:"userId"`
	AmountCents        int64          `json:"amountCents"`
	Currency           string         `json:"currency"`
	Method             string         `json:"method"`
	ExternalTransferID string         `json:"externalTransferId,omitempty"`
	Status             TransferStatus `json:"status"`
	FailureReason      string         `json:"failureReason,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

// Split is the three-way division of a job's funded total.
type Split struct {
	Contractor int64 `json:"contractor"`
	Router     int64 `json:"router"`
	Platform   int64 `json:"platform"`
}

// ComputeSplit divides total cents 75/15/10. Contractor and router take the
// floor of their shares; the platform absorbs the rounding remainder, so the
// parts always sum exactly to the total.
func ComputeSplit(totalCents int64) Split {
	contractor := totalCents * 75 / 100
	router := totalCents * 15 / 100
	return Split{
		Contractor: contractor,
		Router:     router,
		Platform:   totalCents - contractor - router,
	}
}

// For returns the split amount for a role.
func (s Split) For(role Role) int64 {
	switch role {
	case RoleContractor:
		return s.Contractor
	case RoleRouter:
		return s.Router
	case RolePlatform:
		return s.Platform
	}
	return 0
}

// Code is a stable machine-readable reason a release refused to run.
type Code string

const (
	CodeNotFound         Code = "NOT_FOUND"
	CodeJobArchived      Code = "JOB_ARCHIVED"
	CodeJobDisputed      Code = "JOB_DISPUTED"
	CodeJobFlagged       Code = "JOB_FLAGGED"
	CodeDisputeHold      Code = "DISPUTE_HOLD"
	CodeNotFunded        Code = "NOT_FUNDED"
	CodeRefundInitiated  Code = "REFUND_INITIATED"
	CodeNotReady         Code = "NOT_READY"
	CodeNoRouter         Code = "NO_ROUTER"
	CodeNoContractor     Code = "NO_CONTRACTOR"
	CodeBadTransferState Code = "BAD_TRANSFER_STATE"
	CodeTransferFailed   Code = "TRANSFER_FAILED"
)

// ReleaseResult is the structured outcome of ReleaseJobFunds. Business-rule
// refusals are values carrying a Code, never errors.
type ReleaseResult struct {
	OK              bool              `json:"ok"`
	AlreadyReleased bool              `json:"alreadyReleased"`
	Code            Code              `json:"code,omitempty"`
	Legs            []*TransferRecord `json:"legs,omitempty"`
}

func refused(code Code) *ReleaseResult {
	return &ReleaseResult{OK: false, Code: code}
}

// Store persists transfer records.
type Store interface {
	ListByJob(ctx context.Context, jobID string) ([]*TransferRecord, error)

	// Upsert inserts the record or, on (job_id, role) conflict, merges the
	// mutable fields (status, external id, failure reason).
	Upsert(ctx context.Context, rec *TransferRecord) error
}

// IdempotencyKey builds the deterministic key for one leg. Retries of the
// same leg always present the same key to the rail, so the provider dedupes
// instead of double-sending.
func IdempotencyKey(jobID string, role Role, amountCents int64, currency, mode string) string {
	return fmt.Sprintf("%s:%s:%d:%s:%s", jobID, role, amountCents, currency, mode)
}
