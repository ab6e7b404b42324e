package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// AllocationStatus tracks the lifecycle of a soft hold.
type AllocationStatus string

const (
	AllocationHeld      AllocationStatus = "HELD"
	AllocationCommitted AllocationStatus = "COMMITTED"
	AllocationReleased  AllocationStatus = "RELEASED"
)

// Allocation is a hold (or the committed record of an issue) against an
// inventory record, split by pool.
type Allocation struct {
	ID          uuid.UUID
	DocumentID  *int
	LineID      *int
	ItemID      int
	WarehouseID int
	GeneralQty  decimal.Decimal
	ReserveQty  decimal.Decimal
	Status      AllocationStatus
	CreatedAt   time.Time
	ReleasedAt  *time.Time
}

// IssuedLine reports the outcome of one line in a commit.
type IssuedLine struct {
	LineID       int
	ItemID       int
	IssuedQty    decimal.Decimal
	FromReserve  decimal.Decimal
	RemainingQty decimal.Decimal
}

// PartialIssueOutcome is the result of committing a document's lines.
type PartialIssueOutcome struct {
	Issued                 []IssuedLine
	FullyIssued            bool
	ContinuationDocumentID *int
	ContinuationDocNumber  string
}

// AllocationEngine computes availability and moves quantities against the
// inventory ledger. It is the only component that mutates inventory records
// on behalf of documents and custody.
type AllocationEngine interface {
	// CheckAvailability is read-only and may be served from a replica.
	CheckAvailability(ctx context.Context, itemID, warehouseID int) (*Availability, error)

	// ReserveTx places a soft hold for a document line. General stock is
	// taken first; the commander's reserve is only touched when the line is
	// flagged AND gate-approved. Fails with InsufficientStockError when the
	// full quantity cannot be held.
	ReserveTx(ctx context.Context, tx pgx.Tx, line DocumentLine, warehouseID int, qty decimal.Decimal, actor Actor) (*Allocation, error)

	// ReserveGeneralTx places a general-pool-only hold with no document
	// attached. Used by custody issuance.
	ReserveGeneralTx(ctx context.Context, tx pgx.Tx, itemID, warehouseID int, qty decimal.Decimal, actor Actor) (*Allocation, error)

	// CommitAllocationTx converts a HELD allocation into a physical
	// deduction. Used by custody issuance, which is always immediate.
	CommitAllocationTx(ctx context.Context, tx pgx.Tx, allocationID uuid.UUID, custodyID int, actor Actor) error

	// ReleaseTx returns a held-but-uncommitted quantity to availability.
	// Idempotent: releasing an already-released allocation is a no-op.
	ReleaseTx(ctx context.Context, tx pgx.Tx, allocationID uuid.UUID, actor Actor) error

	// ReleaseDocumentTx releases every HELD allocation of a document.
	ReleaseDocumentTx(ctx context.Context, tx pgx.Tx, documentID int, actor Actor) error

	// CommitPartialTx is the partial-fulfillment algorithm (issuance of
	// outbound documents). The caller owns the transaction and the
	// document's status update.
	CommitPartialTx(ctx context.Context, tx pgx.Tx, doc *StockDocument, allowPartial bool, actor Actor) (*PartialIssueOutcome, error)
}

type allocationEngine struct {
	pool   *pgxpool.Pool
	ledger InventoryLedger
}

func NewAllocationEngine(pool *pgxpool.Pool, ledger InventoryLedger) AllocationEngine {
	return &allocationEngine{pool: pool, ledger: ledger}
}

func (e *allocationEngine) CheckAvailability(ctx context.Context, itemID, warehouseID int) (*Availability, error) {
	rec, err := e.ledger.Get(ctx, itemID, warehouseID)
	if err != nil {
		return nil, err
	}
	return &Availability{
		ItemID:           itemID,
		WarehouseID:      warehouseID,
		AvailableGeneral: rec.AvailableGeneral(),
		AvailableReserve: rec.AvailableReserve(),
	}, nil
}

func (e *allocationEngine) ReserveTx(ctx context.Context, tx pgx.Tx, line DocumentLine, warehouseID int, qty decimal.Decimal, actor Actor) (*Allocation, error) {
	if !qty.IsPositive() {
		return nil, &ValidationError{Messages: []string{"reserve quantity must be positive"}}
	}

	rec, err := lockRecord(ctx, tx, line.ItemID, warehouseID)
	if err != nil {
		return nil, mapConflict(err, recordKey(line.ItemID, warehouseID))
	}

	generalTake := decimal.Min(qty, rec.AvailableGeneral())
	rest := qty.Sub(generalTake)

	reserveTake := decimal.Zero
	if rest.IsPositive() {
		if !line.UseCommanderReserve || !line.ReserveApproved {
			return nil, &InsufficientStockError{
				ItemID:      line.ItemID,
				WarehouseID: warehouseID,
				Requested:   qty,
				Available:   rec.AvailableGeneral(),
			}
		}
		reserveTake = decimal.Min(rest, reserveDrawCap(line, rec.AvailableReserve()))
		if reserveTake.LessThan(rest) {
			return nil, &InsufficientStockError{
				ItemID:      line.ItemID,
				WarehouseID: warehouseID,
				Requested:   qty,
				Available:   rec.AvailableGeneral().Add(reserveTake),
			}
		}
	}

	alloc := &Allocation{
		ID:          uuid.New(),
		DocumentID:  &line.DocumentID,
		LineID:      &line.ID,
		ItemID:      line.ItemID,
		WarehouseID: warehouseID,
		GeneralQty:  generalTake,
		ReserveQty:  reserveTake,
		Status:      AllocationHeld,
	}
	if err := e.insertAllocationTx(ctx, tx, alloc); err != nil {
		return nil, err
	}

	if _, err := e.ledger.ApplyDeltaTx(ctx, tx, LedgerDelta{
		ItemID:           line.ItemID,
		WarehouseID:      warehouseID,
		GeneralAllocated: generalTake,
		ReserveAllocated: reserveTake,
		Movement:         MovementHold,
		DocumentID:       &line.DocumentID,
		Notes:            fmt.Sprintf("hold for document line %d", line.ID),
	}, actor); err != nil {
		return nil, err
	}
	return alloc, nil
}

func (e *allocationEngine) ReserveGeneralTx(ctx context.Context, tx pgx.Tx, itemID, warehouseID int, qty decimal.Decimal, actor Actor) (*Allocation, error) {
	if !qty.IsPositive() {
		return nil, &ValidationError{Messages: []string{"reserve quantity must be positive"}}
	}

	rec, err := lockRecord(ctx, tx, itemID, warehouseID)
	if err != nil {
		return nil, mapConflict(err, recordKey(itemID, warehouseID))
	}
	if rec.AvailableGeneral().LessThan(qty) {
		return nil, &InsufficientStockError{
			ItemID:      itemID,
			WarehouseID: warehouseID,
			Requested:   qty,
			Available:   rec.AvailableGeneral(),
		}
	}

	alloc := &Allocation{
		ID:          uuid.New(),
		ItemID:      itemID,
		WarehouseID: warehouseID,
		GeneralQty:  qty,
		ReserveQty:  decimal.Zero,
		Status:      AllocationHeld,
	}
	if err := e.insertAllocationTx(ctx, tx, alloc); err != nil {
		return nil, err
	}

	if _, err := e.ledger.ApplyDeltaTx(ctx, tx, LedgerDelta{
		ItemID:           itemID,
		WarehouseID:      warehouseID,
		GeneralAllocated: qty,
		Movement:         MovementHold,
		Notes:            "custody hold",
	}, actor); err != nil {
		return nil, err
	}
	return alloc, nil
}

func (e *allocationEngine) CommitAllocationTx(ctx context.Context, tx pgx.Tx, allocationID uuid.UUID, custodyID int, actor Actor) error {
	alloc, err := e.lockAllocationTx(ctx, tx, allocationID)
	if err != nil {
		return err
	}
	if alloc.Status != AllocationHeld {
		return &InvalidTransitionError{From: DocumentStatus(alloc.Status), Action: "commit allocation"}
	}

	if _, err := tx.Exec(ctx,
		"UPDATE allocations SET status = $1 WHERE id = $2",
		string(AllocationCommitted), allocationID,
	); err != nil {
		return fmt.Errorf("commit allocation %s: %w", allocationID, err)
	}

	_, err = e.ledger.ApplyDeltaTx(ctx, tx, LedgerDelta{
		ItemID:           alloc.ItemID,
		WarehouseID:      alloc.WarehouseID,
		GeneralQty:       alloc.GeneralQty.Neg(),
		ReserveQty:       alloc.ReserveQty.Neg(),
		GeneralAllocated: alloc.GeneralQty.Neg(),
		ReserveAllocated: alloc.ReserveQty.Neg(),
		Movement:         MovementCustodyOut,
		CustodyID:        &custodyID,
		Notes:            fmt.Sprintf("custody issue, allocation %s", allocationID),
	}, actor)
	return err
}

func (e *allocationEngine) ReleaseTx(ctx context.Context, tx pgx.Tx, allocationID uuid.UUID, actor Actor) error {
	alloc, err := e.lockAllocationTx(ctx, tx, allocationID)
	if err != nil {
		return err
	}
	if alloc.Status != AllocationHeld {
		// Already released or committed: releasing again is a no-op.
		return nil
	}
	return e.releaseLockedTx(ctx, tx, alloc, actor)
}

func (e *allocationEngine) ReleaseDocumentTx(ctx context.Context, tx pgx.Tx, documentID int, actor Actor) error {
	allocs, err := e.heldAllocationsTx(ctx, tx, "document_id = $1", documentID)
	if err != nil {
		return err
	}
	for i := range allocs {
		if err := e.releaseLockedTx(ctx, tx, &allocs[i], actor); err != nil {
			return err
		}
	}
	return nil
}

func (e *allocationEngine) CommitPartialTx(ctx context.Context, tx pgx.Tx, doc *StockDocument, allowPartial bool, actor Actor) (*PartialIssueOutcome, error) {
	// Work on open lines in item order so every transaction locks records
	// in the same sequence.
	open := make([]DocumentLine, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		if line.RemainingQty().IsPositive() {
			open = append(open, line)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].ItemID < open[j].ItemID })

	type plan struct {
		line        DocumentLine
		generalTake decimal.Decimal
		reserveTake decimal.Decimal
		heldGeneral decimal.Decimal
		heldReserve decimal.Decimal
		held        []Allocation
		shortfall   decimal.Decimal
	}
	plans := make([]plan, 0, len(open))

	for _, line := range open {
		rec, err := lockRecord(ctx, tx, line.ItemID, doc.WarehouseID)
		if err != nil {
			return nil, mapConflict(err, recordKey(line.ItemID, doc.WarehouseID))
		}

		held, err := e.heldAllocationsTx(ctx, tx, "line_id = $1", line.ID)
		if err != nil {
			return nil, err
		}
		var heldG, heldR decimal.Decimal
		for _, a := range held {
			heldG = heldG.Add(a.GeneralQty)
			heldR = heldR.Add(a.ReserveQty)
		}

		need := line.RemainingQty()

		// The line's own holds count as available to it.
		generalPool := rec.AvailableGeneral().Add(heldG)
		generalTake := decimal.Min(need, generalPool)
		rest := need.Sub(generalTake)

		reserveTake := decimal.Zero
		if rest.IsPositive() && line.UseCommanderReserve && line.ReserveApproved {
			reservePool := rec.AvailableReserve().Add(heldR)
			reserveTake = decimal.Min(rest, reserveDrawCap(line, reservePool))
		}

		shortfall := need.Sub(generalTake).Sub(reserveTake)
		if shortfall.IsPositive() && !allowPartial {
			return nil, &InsufficientStockError{
				ItemID:      line.ItemID,
				WarehouseID: doc.WarehouseID,
				Requested:   need,
				Available:   generalTake.Add(reserveTake),
			}
		}

		plans = append(plans, plan{
			line:        line,
			generalTake: generalTake,
			reserveTake: reserveTake,
			heldGeneral: heldG,
			heldReserve: heldR,
			held:        held,
			shortfall:   shortfall,
		})
	}

	outcome := &PartialIssueOutcome{FullyIssued: true}
	var shortfallLines []LineInput

	for _, p := range plans {
		issued := p.generalTake.Add(p.reserveTake)

		if issued.IsPositive() {
			// One delta folds the hold release and the physical deduction
			// together, so no intermediate state is ever visible.
			if _, err := e.ledger.ApplyDeltaTx(ctx, tx, LedgerDelta{
				ItemID:           p.line.ItemID,
				WarehouseID:      doc.WarehouseID,
				GeneralQty:       p.generalTake.Neg(),
				ReserveQty:       p.reserveTake.Neg(),
				GeneralAllocated: p.heldGeneral.Neg(),
				ReserveAllocated: p.heldReserve.Neg(),
				Movement:         MovementIssue,
				DocumentID:       &doc.ID,
				Notes:            fmt.Sprintf("issue %s line %d", doc.Number, p.line.LineNumber),
			}, actor); err != nil {
				return nil, err
			}

			for _, a := range p.held {
				if err := e.markReleasedTx(ctx, tx, a.ID); err != nil {
					return nil, err
				}
			}

			committed := &Allocation{
				ID:          uuid.New(),
				DocumentID:  &doc.ID,
				LineID:      &p.line.ID,
				ItemID:      p.line.ItemID,
				WarehouseID: doc.WarehouseID,
				GeneralQty:  p.generalTake,
				ReserveQty:  p.reserveTake,
				Status:      AllocationCommitted,
			}
			if err := e.insertAllocationTx(ctx, tx, committed); err != nil {
				return nil, err
			}

			if _, err := tx.Exec(ctx,
				"UPDATE stock_document_lines SET issued_qty = issued_qty + $1 WHERE id = $2",
				issued, p.line.ID,
			); err != nil {
				return nil, fmt.Errorf("update issued quantity on line %d: %w", p.line.ID, err)
			}
		}

		outcome.Issued = append(outcome.Issued, IssuedLine{
			LineID:       p.line.ID,
			ItemID:       p.line.ItemID,
			IssuedQty:    issued,
			FromReserve:  p.reserveTake,
			RemainingQty: p.shortfall,
		})

		if p.shortfall.IsPositive() {
			outcome.FullyIssued = false
			shortfallLines = append(shortfallLines, LineInput{
				ItemID:              p.line.ItemID,
				Quantity:            p.shortfall,
				UseCommanderReserve: p.line.UseCommanderReserve,
				ReserveQty:          decimal.Max(decimal.Zero, p.line.ReserveQty.Sub(p.reserveTake)),
			})
		}
	}

	if len(shortfallLines) > 0 {
		contID, contNumber, err := e.createContinuationTx(ctx, tx, doc, shortfallLines, actor)
		if err != nil {
			return nil, err
		}
		outcome.ContinuationDocumentID = &contID
		outcome.ContinuationDocNumber = contNumber
	}
	return outcome, nil
}

// createContinuationTx creates the Pending same-type document carrying only
// the shortfall lines, linked to its original. Gate approvals already
// granted on the original lines carry over.
func (e *allocationEngine) createContinuationTx(ctx context.Context, tx pgx.Tx, doc *StockDocument, lines []LineInput, actor Actor) (int, string, error) {
	number, err := nextDocumentNumberTx(ctx, tx, doc.Type, time.Now())
	if err != nil {
		return 0, "", err
	}

	var contID int
	if err := tx.QueryRow(ctx, `
		INSERT INTO stock_documents
		            (doc_number, doc_type, status, priority, warehouse_id, dest_warehouse_id,
		             project_code, original_document_id, notes, created_by, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING id
	`, number, string(doc.Type), string(StatusPending), string(doc.Priority),
		doc.WarehouseID, doc.DestWarehouseID, doc.ProjectCode, doc.ID,
		fmt.Sprintf("continuation of %s", doc.Number), actor.ID,
	).Scan(&contID); err != nil {
		return 0, "", fmt.Errorf("create continuation document: %w", err)
	}

	approvedByLine := make(map[int]bool, len(doc.Lines))
	for _, l := range doc.Lines {
		approvedByLine[l.ItemID] = approvedByLine[l.ItemID] || l.ReserveApproved
	}

	for i, in := range lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO stock_document_lines
			            (document_id, line_number, item_id, requested_qty,
			             use_commander_reserve, reserve_qty, reserve_approved)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, contID, i+1, in.ItemID, in.Quantity,
			in.UseCommanderReserve, in.ReserveQty,
			in.UseCommanderReserve && approvedByLine[in.ItemID],
		); err != nil {
			return 0, "", fmt.Errorf("insert continuation line %d: %w", i+1, err)
		}
	}
	return contID, number, nil
}

// reserveDrawCap limits how much of the free reserve a line may draw: the
// line's declared reserve quantity when set, otherwise the whole free pool.
func reserveDrawCap(line DocumentLine, freeReserve decimal.Decimal) decimal.Decimal {
	if line.ReserveQty.IsPositive() {
		return decimal.Min(line.ReserveQty, freeReserve)
	}
	return freeReserve
}

// ── allocation row helpers ───────────────────────────────────────────────────

func (e *allocationEngine) insertAllocationTx(ctx context.Context, tx pgx.Tx, a *Allocation) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO allocations (id, document_id, line_id, item_id, warehouse_id, general_qty, reserve_qty, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.DocumentID, a.LineID, a.ItemID, a.WarehouseID, a.GeneralQty, a.ReserveQty, string(a.Status)); err != nil {
		return fmt.Errorf("insert allocation: %w", err)
	}
	return nil
}

func (e *allocationEngine) lockAllocationTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Allocation, error) {
	var a Allocation
	var status string
	err := tx.QueryRow(ctx, `
		SELECT id, document_id, line_id, item_id, warehouse_id, general_qty, reserve_qty, status, created_at, released_at
		FROM allocations WHERE id = $1 FOR UPDATE
	`, id).Scan(&a.ID, &a.DocumentID, &a.LineID, &a.ItemID, &a.WarehouseID,
		&a.GeneralQty, &a.ReserveQty, &status, &a.CreatedAt, &a.ReleasedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Entity: "allocation", Ref: id.String()}
		}
		return nil, mapConflict(fmt.Errorf("fetch allocation %s: %w", id, err), "allocation "+id.String())
	}
	a.Status = AllocationStatus(status)
	return &a, nil
}

func (e *allocationEngine) heldAllocationsTx(ctx context.Context, tx pgx.Tx, where string, arg any) ([]Allocation, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, document_id, line_id, item_id, warehouse_id, general_qty, reserve_qty, status, created_at, released_at
		FROM allocations
		WHERE status = 'HELD' AND `+where+`
		ORDER BY created_at
		FOR UPDATE
	`, arg)
	if err != nil {
		return nil, fmt.Errorf("query held allocations: %w", err)
	}
	defer rows.Close()

	var allocs []Allocation
	for rows.Next() {
		var a Allocation
		var status string
		if err := rows.Scan(&a.ID, &a.DocumentID, &a.LineID, &a.ItemID, &a.WarehouseID,
			&a.GeneralQty, &a.ReserveQty, &status, &a.CreatedAt, &a.ReleasedAt); err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		a.Status = AllocationStatus(status)
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}

// releaseLockedTx releases a HELD allocation whose row is already locked.
func (e *allocationEngine) releaseLockedTx(ctx context.Context, tx pgx.Tx, alloc *Allocation, actor Actor) error {
	if err := e.markReleasedTx(ctx, tx, alloc.ID); err != nil {
		return err
	}
	_, err := e.ledger.ApplyDeltaTx(ctx, tx, LedgerDelta{
		ItemID:           alloc.ItemID,
		WarehouseID:      alloc.WarehouseID,
		GeneralAllocated: alloc.GeneralQty.Neg(),
		ReserveAllocated: alloc.ReserveQty.Neg(),
		Movement:         MovementRelease,
		DocumentID:       alloc.DocumentID,
		Notes:            fmt.Sprintf("release allocation %s", alloc.ID),
	}, actor)
	return err
}

func (e *allocationEngine) markReleasedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	if _, err := tx.Exec(ctx,
		"UPDATE allocations SET status = $1, released_at = NOW() WHERE id = $2",
		string(AllocationReleased), id,
	); err != nil {
		return fmt.Errorf("mark allocation %s released: %w", id, err)
	}
	return nil
}
