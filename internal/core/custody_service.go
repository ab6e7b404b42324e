package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ReturnPool selects which pool a custody return replenishes.
type ReturnPool string

const (
	ReturnToGeneral ReturnPool = "general"
	ReturnToReserve ReturnPool = "reserve"
)

const defaultCustodyLimitDays = 30

// CustodyLedger issues stock into personal custody and tracks it back in.
// Issues are immediate and whole: custody never goes through the document
// workflow or partial fulfillment.
type CustodyLedger interface {
	Issue(ctx context.Context, in CustodyIssueInput, actor Actor) (*CustodyRecord, error)
	Return(ctx context.Context, custodyID int, qty decimal.Decimal, actor Actor) (*CustodyRecord, error)
	Consume(ctx context.Context, custodyID int, qty decimal.Decimal, actor Actor) (*CustodyRecord, error)

	// Transfer reassigns an open custody to another worker. Quantities are
	// untouched and the receiving worker inherits the original due date.
	Transfer(ctx context.Context, custodyID int, toWorkerID int, toDepartment string, actor Actor) (*CustodyRecord, error)

	Get(ctx context.Context, custodyID int) (*CustodyRecord, error)
	WorkerCustody(ctx context.Context, workerID int) ([]CustodyRecord, error)
	Overdue(ctx context.Context, now time.Time) ([]CustodyRecord, error)
	AgingReport(ctx context.Context, warehouseID int, now time.Time) ([]CustodyAgingBucket, error)
}

type custodyLedger struct {
	pool       *pgxpool.Pool
	ledger     InventoryLedger
	alloc      AllocationEngine
	returnPool ReturnPool
}

func NewCustodyLedger(pool *pgxpool.Pool, ledger InventoryLedger, alloc AllocationEngine, returnPool ReturnPool) CustodyLedger {
	if returnPool != ReturnToReserve {
		returnPool = ReturnToGeneral
	}
	return &custodyLedger{pool: pool, ledger: ledger, alloc: alloc, returnPool: returnPool}
}

func (c *custodyLedger) Issue(ctx context.Context, in CustodyIssueInput, actor Actor) (*CustodyRecord, error) {
	var msgs []string
	if in.WorkerID <= 0 {
		msgs = append(msgs, "worker is required")
	}
	if in.ItemID <= 0 || in.WarehouseID <= 0 {
		msgs = append(msgs, "item and warehouse are required")
	}
	if !in.Qty.IsPositive() {
		msgs = append(msgs, "quantity must be positive")
	}
	if len(msgs) > 0 {
		return nil, &ValidationError{Messages: msgs}
	}
	if in.LimitDays <= 0 {
		in.LimitDays = defaultCustodyLimitDays
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Custody draws from the general pool only. Hold first, then commit
	// in the same transaction: the deduction reuses the document path's
	// accounting so the invariants hold at every step.
	alloc, err := c.alloc.ReserveGeneralTx(ctx, tx, in.ItemID, in.WarehouseID, in.Qty, actor)
	if err != nil {
		return nil, err
	}

	number, err := nextCustodyNumberTx(ctx, tx, time.Now())
	if err != nil {
		return nil, err
	}

	rec := &CustodyRecord{
		Number:           number,
		WorkerID:         in.WorkerID,
		Department:       in.Department,
		ItemID:           in.ItemID,
		WarehouseID:      in.WarehouseID,
		Qty:              in.Qty,
		ReturnedQty:      decimal.Zero,
		ConsumedQty:      decimal.Zero,
		CustodyLimitDays: in.LimitDays,
		IssuedBy:         actor.ID,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO custody_records
		            (custody_number, worker_id, department, item_id, warehouse_id, qty,
		             custody_limit_days, issued_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, issued_date, updated_at
	`, number, in.WorkerID, in.Department, in.ItemID, in.WarehouseID, in.Qty,
		in.LimitDays, actor.ID,
	).Scan(&rec.ID, &rec.IssuedDate, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert custody record: %w", err)
	}

	if err := c.alloc.CommitAllocationTx(ctx, tx, alloc.ID, rec.ID, actor); err != nil {
		return nil, err
	}

	if err := appendEventTx(ctx, tx, EventCustodyIssued, CustodyEventPayload{
		CustodyID: rec.ID, WorkerID: in.WorkerID, ItemID: in.ItemID,
		WarehouseID: in.WarehouseID, Quantity: in.Qty, LimitDays: in.LimitDays,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

func (c *custodyLedger) Return(ctx context.Context, custodyID int, qty decimal.Decimal, actor Actor) (*CustodyRecord, error) {
	return c.closePortion(ctx, custodyID, qty, actor, true)
}

func (c *custodyLedger) Consume(ctx context.Context, custodyID int, qty decimal.Decimal, actor Actor) (*CustodyRecord, error) {
	return c.closePortion(ctx, custodyID, qty, actor, false)
}

// closePortion handles both return and consume: both reduce the worker's
// outstanding quantity, but only a return puts stock back on the shelf.
func (c *custodyLedger) closePortion(ctx context.Context, custodyID int, qty decimal.Decimal, actor Actor, back bool) (*CustodyRecord, error) {
	if !qty.IsPositive() {
		return nil, &ValidationError{Messages: []string{"quantity must be positive"}}
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := lockCustodyTx(ctx, tx, custodyID)
	if err != nil {
		return nil, err
	}
	if qty.GreaterThan(rec.RemainingQty()) {
		return nil, &ValidationError{Messages: []string{fmt.Sprintf(
			"quantity %s exceeds outstanding custody %s", qty, rec.RemainingQty())}}
	}

	column := "consumed_qty"
	if back {
		column = "returned_qty"
	}
	if _, err := tx.Exec(ctx,
		"UPDATE custody_records SET "+column+" = "+column+" + $1, updated_at = NOW() WHERE id = $2",
		qty, custodyID,
	); err != nil {
		return nil, fmt.Errorf("update custody %d: %w", custodyID, err)
	}

	if back {
		delta := LedgerDelta{
			ItemID:      rec.ItemID,
			WarehouseID: rec.WarehouseID,
			Movement:    MovementCustodyIn,
			CustodyID:   &custodyID,
			Notes:       fmt.Sprintf("custody return %s", rec.Number),
		}
		if c.returnPool == ReturnToReserve {
			delta.ReserveQty = qty
		} else {
			delta.GeneralQty = qty
		}
		if _, err := c.ledger.ApplyDeltaTx(ctx, tx, delta, actor); err != nil {
			return nil, err
		}
		rec.ReturnedQty = rec.ReturnedQty.Add(qty)
	} else {
		rec.ConsumedQty = rec.ConsumedQty.Add(qty)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

func (c *custodyLedger) Transfer(ctx context.Context, custodyID int, toWorkerID int, toDepartment string, actor Actor) (*CustodyRecord, error) {
	if toWorkerID <= 0 {
		return nil, &ValidationError{Messages: []string{"receiving worker is required"}}
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := lockCustodyTx(ctx, tx, custodyID)
	if err != nil {
		return nil, err
	}
	if !rec.RemainingQty().IsPositive() {
		return nil, &ValidationError{Messages: []string{"custody is already closed"}}
	}
	if toWorkerID == rec.WorkerID {
		return nil, &ValidationError{Messages: []string{"custody is already with this worker"}}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE custody_records
		SET worker_id = $1, department = $2, transferred = true, updated_at = NOW()
		WHERE id = $3
	`, toWorkerID, toDepartment, custodyID); err != nil {
		return nil, fmt.Errorf("transfer custody %d: %w", custodyID, err)
	}
	rec.WorkerID = toWorkerID
	rec.Department = toDepartment
	rec.Transferred = true

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

func (c *custodyLedger) Get(ctx context.Context, custodyID int) (*CustodyRecord, error) {
	rec, err := scanCustody(c.pool.QueryRow(ctx,
		"SELECT "+custodyColumns+" FROM custody_records WHERE id = $1", custodyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Entity: "custody record", Ref: fmt.Sprint(custodyID)}
		}
		return nil, fmt.Errorf("fetch custody %d: %w", custodyID, err)
	}
	return rec, nil
}

func (c *custodyLedger) WorkerCustody(ctx context.Context, workerID int) ([]CustodyRecord, error) {
	return c.queryCustody(ctx, "worker_id = $1 ORDER BY issued_date", workerID)
}

func (c *custodyLedger) Overdue(ctx context.Context, now time.Time) ([]CustodyRecord, error) {
	return c.queryCustody(ctx, `
		returned_qty + consumed_qty < qty
		AND issued_date + make_interval(days => custody_limit_days) < $1
		ORDER BY issued_date
	`, now)
}

func (c *custodyLedger) AgingReport(ctx context.Context, warehouseID int, now time.Time) ([]CustodyAgingBucket, error) {
	open, err := c.queryCustody(ctx, "warehouse_id = $1 AND returned_qty + consumed_qty < qty", warehouseID)
	if err != nil {
		return nil, err
	}

	buckets := []CustodyAgingBucket{
		{Label: "0-30 days", MinDays: 0, MaxDays: 30, Qty: decimal.Zero},
		{Label: "31-60 days", MinDays: 31, MaxDays: 60, Qty: decimal.Zero},
		{Label: "61-90 days", MinDays: 61, MaxDays: 90, Qty: decimal.Zero},
		{Label: "over 90 days", MinDays: 91, Qty: decimal.Zero},
	}
	for _, rec := range open {
		age := int(now.Sub(rec.IssuedDate).Hours() / 24)
		for i := range buckets {
			b := &buckets[i]
			if age >= b.MinDays && (b.MaxDays == 0 || age <= b.MaxDays) {
				b.Count++
				b.Qty = b.Qty.Add(rec.RemainingQty())
				break
			}
		}
	}
	return buckets, nil
}

func (c *custodyLedger) queryCustody(ctx context.Context, where string, args ...any) ([]CustodyRecord, error) {
	rows, err := c.pool.Query(ctx,
		"SELECT "+custodyColumns+" FROM custody_records WHERE "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query custody records: %w", err)
	}
	defer rows.Close()

	var recs []CustodyRecord
	for rows.Next() {
		rec, err := scanCustody(rows)
		if err != nil {
			return nil, fmt.Errorf("scan custody record: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

const custodyColumns = `id, custody_number, worker_id, department, item_id, warehouse_id,
	qty, returned_qty, consumed_qty, transferred, issued_date, custody_limit_days,
	issued_by, updated_at`

func scanCustody(row pgx.Row) (*CustodyRecord, error) {
	var rec CustodyRecord
	if err := row.Scan(&rec.ID, &rec.Number, &rec.WorkerID, &rec.Department,
		&rec.ItemID, &rec.WarehouseID, &rec.Qty, &rec.ReturnedQty, &rec.ConsumedQty,
		&rec.Transferred, &rec.IssuedDate, &rec.CustodyLimitDays,
		&rec.IssuedBy, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

func lockCustodyTx(ctx context.Context, tx pgx.Tx, custodyID int) (*CustodyRecord, error) {
	rec, err := scanCustody(tx.QueryRow(ctx,
		"SELECT "+custodyColumns+" FROM custody_records WHERE id = $1 FOR UPDATE", custodyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Entity: "custody record", Ref: fmt.Sprint(custodyID)}
		}
		return nil, mapConflict(fmt.Errorf("fetch custody %d: %w", custodyID, err), fmt.Sprintf("custody %d", custodyID))
	}
	return rec, nil
}
