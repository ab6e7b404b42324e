package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DocumentWorkflow drives the shared document state machine for all seven
// document flavors. Every transition runs in one transaction with the
// document header row locked, so concurrent actions on the same document
// serialize and exactly one of two simultaneous approvals wins.
type DocumentWorkflow interface {
	CreateDraft(ctx context.Context, in CreateDocumentInput, actor Actor) (*StockDocument, error)
	Submit(ctx context.Context, documentID int, actor Actor) (*StockDocument, error)
	Approve(ctx context.Context, documentID int, notes string, actor Actor) (*StockDocument, error)
	Reject(ctx context.Context, documentID int, reason string, actor Actor) (*StockDocument, error)

	// ReserveStock places soft holds for every open line of an approved
	// document. All-or-nothing: one short line rolls the whole call back.
	ReserveStock(ctx context.Context, documentID int, actor Actor) (*StockDocument, error)

	// Issue executes the document against the ledger. For outbound flavors
	// allowPartial selects the partial-fulfillment path, which issues what
	// is on hand and spins the shortfall into a linked continuation
	// document.
	Issue(ctx context.Context, documentID int, allowPartial bool, actor Actor) (*IssueResult, error)

	// Receive acknowledges issued goods at the receiving end and closes the
	// document. Transfers post the inbound side at the destination here.
	Receive(ctx context.Context, documentID int, actor Actor) (*StockDocument, error)

	Cancel(ctx context.Context, documentID int, reason string, actor Actor) (*StockDocument, error)

	Get(ctx context.Context, documentID int) (*StockDocument, error)
	List(ctx context.Context, filter DocumentFilter) ([]StockDocument, error)
}

// IssueResult pairs the updated document with the fulfillment outcome.
type IssueResult struct {
	Document *StockDocument
	Outcome  *PartialIssueOutcome
}

type documentWorkflow struct {
	pool   *pgxpool.Pool
	ledger InventoryLedger
	alloc  AllocationEngine
	policy RolePolicy
}

func NewDocumentWorkflow(pool *pgxpool.Pool, ledger InventoryLedger, alloc AllocationEngine, policy RolePolicy) DocumentWorkflow {
	return &documentWorkflow{pool: pool, ledger: ledger, alloc: alloc, policy: policy}
}

// ── Draft and submission ─────────────────────────────────────────────────────

func (w *documentWorkflow) CreateDraft(ctx context.Context, in CreateDocumentInput, actor Actor) (*StockDocument, error) {
	if err := validateDraftInput(in); err != nil {
		return nil, err
	}
	if in.Priority == "" {
		in.Priority = PriorityNormal
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var docID int
	if err := tx.QueryRow(ctx, `
		INSERT INTO stock_documents
		            (doc_number, doc_type, status, priority, warehouse_id, dest_warehouse_id,
		             project_code, notes, created_by)
		VALUES ('', $1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, string(in.Type), string(StatusDraft), string(in.Priority),
		in.WarehouseID, in.DestWarehouseID, in.ProjectCode, in.Notes, actor.ID,
	).Scan(&docID); err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}

	for i, line := range in.Lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO stock_document_lines
			            (document_id, line_number, item_id, requested_qty,
			             use_commander_reserve, reserve_qty)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, docID, i+1, line.ItemID, line.Quantity, line.UseCommanderReserve, line.ReserveQty); err != nil {
			return nil, fmt.Errorf("insert line %d: %w", i+1, err)
		}
	}

	doc, err := fetchDocumentTx(ctx, tx, docID, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return doc, nil
}

func (w *documentWorkflow) Submit(ctx context.Context, documentID int, actor Actor) (*StockDocument, error) {
	return w.transition(ctx, documentID, "submit", func(ctx context.Context, tx pgx.Tx, doc *StockDocument) error {
		if doc.Status != StatusDraft {
			return &InvalidTransitionError{DocumentID: doc.ID, From: doc.Status, Action: "submit"}
		}

		hasQty := false
		for _, line := range doc.Lines {
			if !line.RequestedQty.IsZero() {
				hasQty = true
				break
			}
		}
		if !hasQty {
			return &ValidationError{Messages: []string{"document needs at least one line with a quantity"}}
		}

		number, err := nextDocumentNumberTx(ctx, tx, doc.Type, time.Now())
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE stock_documents
			SET doc_number = $1, status = $2, submitted_at = NOW(), updated_at = NOW()
			WHERE id = $3
		`, number, string(StatusPending), doc.ID); err != nil {
			return fmt.Errorf("submit document %d: %w", doc.ID, err)
		}
		doc.Number = number
		doc.Status = StatusPending

		return appendEventTx(ctx, tx, EventDocumentSubmitted, DocumentEventPayload{
			DocumentID: doc.ID, Number: number, Type: doc.Type, Status: StatusPending, ActorID: actor.ID,
		})
	})
}

// ── Approval ─────────────────────────────────────────────────────────────────

func (w *documentWorkflow) Approve(ctx context.Context, documentID int, notes string, actor Actor) (*StockDocument, error) {
	return w.transition(ctx, documentID, "approve", func(ctx context.Context, tx pgx.Tx, doc *StockDocument) error {
		if doc.Status != StatusPending {
			return &InvalidTransitionError{DocumentID: doc.ID, From: doc.Status, Action: "approve"}
		}
		if err := w.requireRole(ctx, doc.Type, "approve", actor); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE stock_documents
			SET status = $1, approved_by = $2, approved_at = NOW(), approval_notes = $3, updated_at = NOW()
			WHERE id = $4
		`, string(StatusApproved), actor.ID, nullable(notes), doc.ID); err != nil {
			return fmt.Errorf("approve document %d: %w", doc.ID, err)
		}
		doc.Status = StatusApproved

		return appendEventTx(ctx, tx, EventDocumentApproved, DocumentEventPayload{
			DocumentID: doc.ID, Number: doc.Number, Type: doc.Type, Status: StatusApproved, ActorID: actor.ID,
		})
	})
}

func (w *documentWorkflow) Reject(ctx context.Context, documentID int, reason string, actor Actor) (*StockDocument, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &ValidationError{Messages: []string{"rejection reason is required"}}
	}
	return w.transition(ctx, documentID, "reject", func(ctx context.Context, tx pgx.Tx, doc *StockDocument) error {
		if doc.Status != StatusPending && doc.Status != StatusApproved {
			return &InvalidTransitionError{DocumentID: doc.ID, From: doc.Status, Action: "reject"}
		}
		if err := w.requireRole(ctx, doc.Type, "approve", actor); err != nil {
			return err
		}

		// An approved document may already carry soft holds.
		if err := w.alloc.ReleaseDocumentTx(ctx, tx, doc.ID, actor); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE stock_documents
			SET status = $1, rejected_reason = $2, updated_at = NOW()
			WHERE id = $3
		`, string(StatusRejected), reason, doc.ID); err != nil {
			return fmt.Errorf("reject document %d: %w", doc.ID, err)
		}
		doc.Status = StatusRejected

		return appendEventTx(ctx, tx, EventDocumentRejected, DocumentEventPayload{
			DocumentID: doc.ID, Number: doc.Number, Type: doc.Type, Status: StatusRejected,
			ActorID: actor.ID, Reason: reason,
		})
	})
}

// ── Reservation ──────────────────────────────────────────────────────────────

func (w *documentWorkflow) ReserveStock(ctx context.Context, documentID int, actor Actor) (*StockDocument, error) {
	return w.transition(ctx, documentID, "reserve", func(ctx context.Context, tx pgx.Tx, doc *StockDocument) error {
		if doc.Status != StatusApproved && doc.Status != StatusPartiallyIssued {
			return &InvalidTransitionError{DocumentID: doc.ID, From: doc.Status, Action: "reserve"}
		}
		if docTypeSpecs[doc.Type].direction != flowOutbound {
			return &ValidationError{Messages: []string{"only outbound documents reserve stock"}}
		}

		// Lines that already hold stock keep their existing hold; reserving
		// again must not stack a second one.
		alreadyHeld, err := heldLineIDs(ctx, tx, doc.ID)
		if err != nil {
			return err
		}

		for _, line := range doc.Lines {
			remaining := line.RemainingQty()
			if !remaining.IsPositive() || alreadyHeld[line.ID] {
				continue
			}
			if _, err := w.alloc.ReserveTx(ctx, tx, line, doc.WarehouseID, remaining, actor); err != nil {
				return err
			}
		}
		return nil
	})
}

func heldLineIDs(ctx context.Context, tx pgx.Tx, documentID int) (map[int]bool, error) {
	rows, err := tx.Query(ctx, `
		SELECT line_id FROM allocations
		WHERE document_id = $1 AND status = 'HELD' AND line_id IS NOT NULL
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch held lines for document %d: %w", documentID, err)
	}
	defer rows.Close()

	held := map[int]bool{}
	for rows.Next() {
		var lineID int
		if err := rows.Scan(&lineID); err != nil {
			return nil, fmt.Errorf("scan held line: %w", err)
		}
		held[lineID] = true
	}
	return held, rows.Err()
}

// ── Issuance ─────────────────────────────────────────────────────────────────

func (w *documentWorkflow) Issue(ctx context.Context, documentID int, allowPartial bool, actor Actor) (*IssueResult, error) {
	var outcome *PartialIssueOutcome
	doc, err := w.transition(ctx, documentID, "issue", func(ctx context.Context, tx pgx.Tx, doc *StockDocument) error {
		if doc.Status != StatusApproved && doc.Status != StatusPartiallyIssued {
			return &InvalidTransitionError{DocumentID: doc.ID, From: doc.Status, Action: "issue"}
		}

		spec := docTypeSpecs[doc.Type]
		var err error
		switch spec.direction {
		case flowOutbound:
			outcome, err = w.alloc.CommitPartialTx(ctx, tx, doc, allowPartial, actor)
		case flowInbound, flowSigned:
			outcome, err = w.postInboundTx(ctx, tx, doc, actor)
		}
		if err != nil {
			return err
		}

		next := StatusPartiallyIssued
		if outcome.FullyIssued {
			next = StatusFullyIssued
		}
		completed := false
		if !spec.requiresReceive && outcome.FullyIssued {
			// No receiving party: the document closes once every line is
			// covered. A shortfall keeps it PARTIALLY_ISSUED like any
			// other outbound document.
			next = StatusCompleted
			completed = true
		}

		if _, err := tx.Exec(ctx, `
			UPDATE stock_documents
			SET status = $1, issued_at = NOW(),
			    completed_at = CASE WHEN $2 THEN NOW() ELSE completed_at END,
			    updated_at = NOW()
			WHERE id = $3
		`, string(next), completed, doc.ID); err != nil {
			return fmt.Errorf("record issue on document %d: %w", doc.ID, err)
		}
		doc.Status = next

		if err := appendEventTx(ctx, tx, EventDocumentIssued, DocumentEventPayload{
			DocumentID: doc.ID, Number: doc.Number, Type: doc.Type, Status: next, ActorID: actor.ID,
		}); err != nil {
			return err
		}
		if completed {
			return appendEventTx(ctx, tx, EventDocumentCompleted, DocumentEventPayload{
				DocumentID: doc.ID, Number: doc.Number, Type: doc.Type, Status: StatusCompleted, ActorID: actor.ID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &IssueResult{Document: doc, Outcome: outcome}, nil
}

// postInboundTx executes inbound and signed documents against the ledger.
// These complete in full or not at all.
func (w *documentWorkflow) postInboundTx(ctx context.Context, tx pgx.Tx, doc *StockDocument, actor Actor) (*PartialIssueOutcome, error) {
	outcome := &PartialIssueOutcome{FullyIssued: true}
	movement := receiptMovement(doc.Type)

	for _, line := range doc.Lines {
		qty := line.RemainingQty()
		if qty.IsZero() {
			continue
		}
		if _, err := w.ledger.ApplyDeltaTx(ctx, tx, LedgerDelta{
			ItemID:      line.ItemID,
			WarehouseID: doc.WarehouseID,
			GeneralQty:  qty,
			Movement:    movement,
			DocumentID:  &doc.ID,
			Notes:       fmt.Sprintf("%s %s line %d", strings.ToLower(string(movement)), doc.Number, line.LineNumber),
		}, actor); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx,
			"UPDATE stock_document_lines SET issued_qty = requested_qty WHERE id = $1",
			line.ID,
		); err != nil {
			return nil, fmt.Errorf("close line %d: %w", line.ID, err)
		}
		outcome.Issued = append(outcome.Issued, IssuedLine{
			LineID: line.ID, ItemID: line.ItemID, IssuedQty: qty,
		})
	}
	return outcome, nil
}

// ── Receipt and completion ───────────────────────────────────────────────────

func (w *documentWorkflow) Receive(ctx context.Context, documentID int, actor Actor) (*StockDocument, error) {
	return w.transition(ctx, documentID, "receive", func(ctx context.Context, tx pgx.Tx, doc *StockDocument) error {
		if doc.Status != StatusFullyIssued && doc.Status != StatusPartiallyIssued {
			return &InvalidTransitionError{DocumentID: doc.ID, From: doc.Status, Action: "receive"}
		}
		if !docTypeSpecs[doc.Type].requiresReceive {
			return &ValidationError{Messages: []string{"document type has no receive step"}}
		}

		for _, line := range doc.Lines {
			pending := line.IssuedQty.Sub(line.ReceivedQty)
			if !pending.IsPositive() {
				continue
			}
			if doc.Type == DocTypeTransfer {
				if _, err := w.ledger.ApplyDeltaTx(ctx, tx, LedgerDelta{
					ItemID:      line.ItemID,
					WarehouseID: *doc.DestWarehouseID,
					GeneralQty:  pending,
					Movement:    MovementTransferIn,
					DocumentID:  &doc.ID,
					Notes:       fmt.Sprintf("transfer in %s line %d", doc.Number, line.LineNumber),
				}, actor); err != nil {
					return err
				}
			}
			if _, err := tx.Exec(ctx,
				"UPDATE stock_document_lines SET received_qty = issued_qty WHERE id = $1",
				line.ID,
			); err != nil {
				return fmt.Errorf("acknowledge line %d: %w", line.ID, err)
			}
		}

		if _, err := tx.Exec(ctx, `
			UPDATE stock_documents
			SET status = $1, completed_at = NOW(), updated_at = NOW()
			WHERE id = $2
		`, string(StatusCompleted), doc.ID); err != nil {
			return fmt.Errorf("complete document %d: %w", doc.ID, err)
		}
		doc.Status = StatusCompleted

		return appendEventTx(ctx, tx, EventDocumentCompleted, DocumentEventPayload{
			DocumentID: doc.ID, Number: doc.Number, Type: doc.Type, Status: StatusCompleted, ActorID: actor.ID,
		})
	})
}

func (w *documentWorkflow) Cancel(ctx context.Context, documentID int, reason string, actor Actor) (*StockDocument, error) {
	return w.transition(ctx, documentID, "cancel", func(ctx context.Context, tx pgx.Tx, doc *StockDocument) error {
		if doc.Status.IsTerminal() || doc.Status == StatusFullyIssued {
			return &InvalidTransitionError{DocumentID: doc.ID, From: doc.Status, Action: "cancel"}
		}

		// Anything still on hold for this document goes back to the pool.
		if err := w.alloc.ReleaseDocumentTx(ctx, tx, doc.ID, actor); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE stock_documents
			SET status = $1, cancelled_reason = $2, updated_at = NOW()
			WHERE id = $3
		`, string(StatusCancelled), nullable(reason), doc.ID); err != nil {
			return fmt.Errorf("cancel document %d: %w", doc.ID, err)
		}
		doc.Status = StatusCancelled

		return appendEventTx(ctx, tx, EventDocumentCancelled, DocumentEventPayload{
			DocumentID: doc.ID, Number: doc.Number, Type: doc.Type, Status: StatusCancelled,
			ActorID: actor.ID, Reason: reason,
		})
	})
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (w *documentWorkflow) Get(ctx context.Context, documentID int) (*StockDocument, error) {
	return fetchDocument(ctx, w.pool, documentID)
}

func (w *documentWorkflow) List(ctx context.Context, filter DocumentFilter) ([]StockDocument, error) {
	where := []string{"1=1"}
	args := []any{}
	if filter.WarehouseID != nil {
		args = append(args, *filter.WarehouseID)
		where = append(where, fmt.Sprintf("warehouse_id = $%d", len(args)))
	}
	if filter.Type != nil {
		args = append(args, string(*filter.Type))
		where = append(where, fmt.Sprintf("doc_type = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := w.pool.Query(ctx, `
		SELECT `+documentColumns+`
		FROM stock_documents
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY id DESC
		LIMIT $`+fmt.Sprint(len(args)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []StockDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// ── Plumbing ─────────────────────────────────────────────────────────────────

// transition runs fn with the document header locked and its lines loaded,
// then commits. The row lock is the single-writer guarantee for the state
// machine.
func (w *documentWorkflow) transition(ctx context.Context, documentID int, action string, fn func(ctx context.Context, tx pgx.Tx, doc *StockDocument) error) (*StockDocument, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	doc, err := fetchDocumentTx(ctx, tx, documentID, true)
	if err != nil {
		return nil, mapConflict(err, fmt.Sprintf("document %d %s", documentID, action))
	}
	if err := fn(ctx, tx, doc); err != nil {
		return nil, mapConflict(err, fmt.Sprintf("document %d %s", documentID, action))
	}

	// Reload lines so the caller sees post-transition quantities.
	doc.Lines, err = fetchDocumentLines(ctx, tx, doc.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit %s: %w", action, err)
	}
	return doc, nil
}

func (w *documentWorkflow) requireRole(ctx context.Context, docType DocumentType, action string, actor Actor) error {
	required, err := w.policy.RequiredRole(ctx, docType, action)
	if err != nil {
		return err
	}
	if !actor.Role.Satisfies(required) {
		return &UnauthorizedError{Action: action, Role: actor.Role, Required: required}
	}
	return nil
}

const documentColumns = `id, doc_number, doc_type, status, priority, warehouse_id, dest_warehouse_id,
	project_code, original_document_id, notes, created_by, created_at, submitted_at,
	approved_by, approved_at, approval_notes, rejected_reason, cancelled_reason,
	issued_at, completed_at`

func scanDocument(row pgx.Row) (*StockDocument, error) {
	var doc StockDocument
	var docType, status, priority string
	if err := row.Scan(&doc.ID, &doc.Number, &docType, &status, &priority,
		&doc.WarehouseID, &doc.DestWarehouseID, &doc.ProjectCode, &doc.OriginalDocumentID,
		&doc.Notes, &doc.CreatedBy, &doc.CreatedAt, &doc.SubmittedAt,
		&doc.ApprovedBy, &doc.ApprovedAt, &doc.ApprovalNotes, &doc.RejectedReason,
		&doc.CancelledReason, &doc.IssuedAt, &doc.CompletedAt); err != nil {
		return nil, err
	}
	doc.Type = DocumentType(docType)
	doc.Status = DocumentStatus(status)
	doc.Priority = Priority(priority)
	return &doc, nil
}

func fetchDocument(ctx context.Context, pool *pgxpool.Pool, documentID int) (*StockDocument, error) {
	doc, err := scanDocument(pool.QueryRow(ctx,
		"SELECT "+documentColumns+" FROM stock_documents WHERE id = $1", documentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Entity: "document", Ref: fmt.Sprint(documentID)}
		}
		return nil, fmt.Errorf("fetch document %d: %w", documentID, err)
	}
	doc.Lines, err = fetchDocumentLines(ctx, pool, documentID)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func fetchDocumentTx(ctx context.Context, tx pgx.Tx, documentID int, forUpdate bool) (*StockDocument, error) {
	query := "SELECT " + documentColumns + " FROM stock_documents WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	doc, err := scanDocument(tx.QueryRow(ctx, query, documentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Entity: "document", Ref: fmt.Sprint(documentID)}
		}
		return nil, fmt.Errorf("fetch document %d: %w", documentID, err)
	}
	doc.Lines, err = fetchDocumentLines(ctx, tx, documentID)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func fetchDocumentLines(ctx context.Context, q recordQuerier, documentID int) ([]DocumentLine, error) {
	rows, err := q.Query(ctx, `
		SELECT id, document_id, line_number, item_id, requested_qty, issued_qty, received_qty,
		       use_commander_reserve, reserve_qty, reserve_approved
		FROM stock_document_lines
		WHERE document_id = $1
		ORDER BY line_number
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch lines for document %d: %w", documentID, err)
	}
	defer rows.Close()

	var lines []DocumentLine
	for rows.Next() {
		var l DocumentLine
		if err := rows.Scan(&l.ID, &l.DocumentID, &l.LineNumber, &l.ItemID,
			&l.RequestedQty, &l.IssuedQty, &l.ReceivedQty,
			&l.UseCommanderReserve, &l.ReserveQty, &l.ReserveApproved); err != nil {
			return nil, fmt.Errorf("scan line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func nullable(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
