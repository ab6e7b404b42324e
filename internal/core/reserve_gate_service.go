package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ApprovalStatus is the state of a commander's-reserve request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// ReserveApproval is one commander decision about one document line's
// access to the reserve pool.
type ReserveApproval struct {
	ID          int
	LineID      int
	DocumentID  int
	Status      ApprovalStatus
	RequestedBy int
	DecidedBy   *int
	DecidedAt   *time.Time
	Reason      *string
	CreatedAt   time.Time
}

// CommanderReserveGate controls access to the reserve pool. A line flagged
// for reserve use may only draw from it after a commander approves; the
// decision is line-scoped and never touches the parent document's own
// workflow state.
type CommanderReserveGate interface {
	RequestApproval(ctx context.Context, lineID int, actor Actor) (*ReserveApproval, error)
	Approve(ctx context.Context, approvalID int, actor Actor) (*ReserveApproval, error)
	Reject(ctx context.Context, approvalID int, reason string, actor Actor) (*ReserveApproval, error)
	PendingApprovals(ctx context.Context) ([]ReserveApproval, error)
}

type reserveGate struct {
	pool *pgxpool.Pool
}

func NewCommanderReserveGate(pool *pgxpool.Pool) CommanderReserveGate {
	return &reserveGate{pool: pool}
}

func (g *reserveGate) RequestApproval(ctx context.Context, lineID int, actor Actor) (*ReserveApproval, error) {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var docID int
	var flagged bool
	err = tx.QueryRow(ctx, `
		SELECT document_id, use_commander_reserve
		FROM stock_document_lines WHERE id = $1
		FOR UPDATE
	`, lineID).Scan(&docID, &flagged)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Entity: "document line", Ref: fmt.Sprint(lineID)}
		}
		return nil, fmt.Errorf("fetch line %d: %w", lineID, err)
	}
	if !flagged {
		return nil, &ValidationError{Messages: []string{"line is not flagged for reserve use"}}
	}

	approval := &ReserveApproval{LineID: lineID, DocumentID: docID, Status: ApprovalPending, RequestedBy: actor.ID}
	err = tx.QueryRow(ctx, `
		INSERT INTO reserve_approvals (line_id, document_id, status, requested_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, lineID, docID, string(ApprovalPending), actor.ID).Scan(&approval.ID, &approval.CreatedAt)
	if err != nil {
		// The partial unique index rejects a second live request per line.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, &ValidationError{Messages: []string{"line already has a live reserve request"}}
		}
		return nil, fmt.Errorf("insert reserve request: %w", err)
	}

	if err := appendEventTx(ctx, tx, EventReserveRequested, ReserveEventPayload{
		ApprovalID: approval.ID, DocumentID: docID, LineID: lineID, ActorID: actor.ID,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return approval, nil
}

func (g *reserveGate) Approve(ctx context.Context, approvalID int, actor Actor) (*ReserveApproval, error) {
	return g.decide(ctx, approvalID, ApprovalApproved, "", actor)
}

func (g *reserveGate) Reject(ctx context.Context, approvalID int, reason string, actor Actor) (*ReserveApproval, error) {
	if reason == "" {
		return nil, &ValidationError{Messages: []string{"rejection reason is required"}}
	}
	return g.decide(ctx, approvalID, ApprovalRejected, reason, actor)
}

func (g *reserveGate) decide(ctx context.Context, approvalID int, verdict ApprovalStatus, reason string, actor Actor) (*ReserveApproval, error) {
	if !actor.Role.Satisfies(RoleCommander) {
		return nil, &UnauthorizedError{Action: "decide reserve request", Role: actor.Role, Required: RoleCommander}
	}

	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	approval, err := g.lockApprovalTx(ctx, tx, approvalID)
	if err != nil {
		return nil, err
	}
	if approval.Status != ApprovalPending {
		return nil, &InvalidTransitionError{DocumentID: approval.DocumentID, From: DocumentStatus(approval.Status), Action: "decide reserve request"}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE reserve_approvals
		SET status = $1, decided_by = $2, decided_at = NOW(), reason = $3
		WHERE id = $4
	`, string(verdict), actor.ID, nullable(reason), approvalID); err != nil {
		return nil, fmt.Errorf("decide reserve request %d: %w", approvalID, err)
	}

	// The line flag the allocation path reads follows the verdict.
	if _, err := tx.Exec(ctx,
		"UPDATE stock_document_lines SET reserve_approved = $1 WHERE id = $2",
		verdict == ApprovalApproved, approval.LineID,
	); err != nil {
		return nil, fmt.Errorf("flag line %d: %w", approval.LineID, err)
	}

	eventType := EventReserveApproved
	if verdict == ApprovalRejected {
		eventType = EventReserveRejected
	}
	if err := appendEventTx(ctx, tx, eventType, ReserveEventPayload{
		ApprovalID: approvalID, DocumentID: approval.DocumentID, LineID: approval.LineID,
		ActorID: actor.ID, Reason: reason,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	approval.Status = verdict
	approval.DecidedBy = &actor.ID
	now := time.Now()
	approval.DecidedAt = &now
	approval.Reason = nullable(reason)
	return approval, nil
}

func (g *reserveGate) PendingApprovals(ctx context.Context) ([]ReserveApproval, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT id, line_id, document_id, status, requested_by, decided_by, decided_at, reason, created_at
		FROM reserve_approvals
		WHERE status = $1
		ORDER BY created_at
	`, string(ApprovalPending))
	if err != nil {
		return nil, fmt.Errorf("list pending reserve requests: %w", err)
	}
	defer rows.Close()

	var approvals []ReserveApproval
	for rows.Next() {
		var a ReserveApproval
		var status string
		if err := rows.Scan(&a.ID, &a.LineID, &a.DocumentID, &status, &a.RequestedBy,
			&a.DecidedBy, &a.DecidedAt, &a.Reason, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reserve request: %w", err)
		}
		a.Status = ApprovalStatus(status)
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

func (g *reserveGate) lockApprovalTx(ctx context.Context, tx pgx.Tx, id int) (*ReserveApproval, error) {
	var a ReserveApproval
	var status string
	err := tx.QueryRow(ctx, `
		SELECT id, line_id, document_id, status, requested_by, decided_by, decided_at, reason, created_at
		FROM reserve_approvals WHERE id = $1
		FOR UPDATE
	`, id).Scan(&a.ID, &a.LineID, &a.DocumentID, &status, &a.RequestedBy,
		&a.DecidedBy, &a.DecidedAt, &a.Reason, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Entity: "reserve request", Ref: fmt.Sprint(id)}
		}
		return nil, fmt.Errorf("fetch reserve request %d: %w", id, err)
	}
	a.Status = ApprovalStatus(status)
	return &a, nil
}
