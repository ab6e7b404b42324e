package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// InventoryLedger is the single source of truth for stock per (item,
// warehouse). Every mutation goes through ApplyDelta (or its TX-scoped
// variant); documents never touch a record directly.
type InventoryLedger interface {
	// Get returns the current record or a NotFoundError.
	Get(ctx context.Context, itemID, warehouseID int) (*InventoryRecord, error)
	// ApplyDelta applies one delta in its own transaction.
	ApplyDelta(ctx context.Context, delta LedgerDelta, actor Actor) (*InventoryRecord, error)
	// ApplyDeltaTx applies one delta within the caller's transaction. Used
	// by the allocation engine so ledger writes commit atomically with
	// document state changes.
	ApplyDeltaTx(ctx context.Context, tx pgx.Tx, delta LedgerDelta, actor Actor) (*InventoryRecord, error)
	// SetThresholds updates reorder point and minimum reserve for a record.
	SetThresholds(ctx context.Context, itemID, warehouseID int, reorderPoint, minReserve decimal.Decimal, actor Actor) error
	// GetStockLevels returns the reporting view for a warehouse (0 = all).
	GetStockLevels(ctx context.Context, warehouseID int) ([]StockLevel, error)
}

type inventoryLedger struct {
	pool *pgxpool.Pool
}

func NewInventoryLedger(pool *pgxpool.Pool) InventoryLedger {
	return &inventoryLedger{pool: pool}
}

func (l *inventoryLedger) Get(ctx context.Context, itemID, warehouseID int) (*InventoryRecord, error) {
	return fetchRecord(ctx, l.pool, itemID, warehouseID, false)
}

func (l *inventoryLedger) ApplyDelta(ctx context.Context, delta LedgerDelta, actor Actor) (*InventoryRecord, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := l.ApplyDeltaTx(ctx, tx, delta, actor)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapConflict(fmt.Errorf("commit ledger delta: %w", err), recordKey(delta.ItemID, delta.WarehouseID))
	}
	return rec, nil
}

// ApplyDeltaTx locks the record (creating it on first receipt), applies the
// delta, re-validates every invariant, journals the movement, and appends
// low-stock events. The caller owns the commit.
func (l *inventoryLedger) ApplyDeltaTx(ctx context.Context, tx pgx.Tx, delta LedgerDelta, actor Actor) (*InventoryRecord, error) {
	rec, err := lockRecord(ctx, tx, delta.ItemID, delta.WarehouseID)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			// First receipt of this item into this warehouse creates the
			// record. Any other movement against a missing record is a
			// caller error.
			if delta.Movement != MovementReceipt && delta.Movement != MovementTransferIn && delta.Movement != MovementAdjustment {
				return nil, err
			}
			rec, err = createRecord(ctx, tx, delta.ItemID, delta.WarehouseID)
		}
		if err != nil {
			return nil, mapConflict(err, recordKey(delta.ItemID, delta.WarehouseID))
		}
	}

	wasLow := rec.Status() == StockLow || rec.Status() == StockCritical
	wasReserveLow := rec.ReserveBelowMinimum()

	rec.GeneralQty = rec.GeneralQty.Add(delta.GeneralQty)
	rec.ReserveQty = rec.ReserveQty.Add(delta.ReserveQty)
	rec.GeneralAllocated = rec.GeneralAllocated.Add(delta.GeneralAllocated)
	rec.ReserveAllocated = rec.ReserveAllocated.Add(delta.ReserveAllocated)

	if err := rec.validate(); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE inventory_records
		SET general_qty = $1, reserve_qty = $2,
		    general_allocated = $3, reserve_allocated = $4,
		    version = version + 1, updated_at = NOW(), updated_by = $5
		WHERE id = $6
	`, rec.GeneralQty, rec.ReserveQty, rec.GeneralAllocated, rec.ReserveAllocated, actor.ID, rec.ID); err != nil {
		return nil, mapConflict(fmt.Errorf("update inventory record: %w", err), rec.key())
	}
	rec.Version++

	if _, err := tx.Exec(ctx, `
		INSERT INTO stock_movements (item_id, warehouse_id, movement_type, general_delta, reserve_delta, document_id, custody_id, actor_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, delta.ItemID, delta.WarehouseID, string(delta.Movement), delta.GeneralQty, delta.ReserveQty,
		delta.DocumentID, delta.CustodyID, actor.ID, delta.Notes); err != nil {
		return nil, fmt.Errorf("insert stock movement: %w", err)
	}

	// Threshold crossings become outbox events inside the same transaction,
	// so an alert is only ever emitted for a committed state.
	isLow := rec.Status() == StockLow || rec.Status() == StockCritical
	if isLow && !wasLow {
		if err := appendEventTx(ctx, tx, EventLowStockAlert, LowStockPayload{
			ItemID:           rec.ItemID,
			WarehouseID:      rec.WarehouseID,
			AvailableGeneral: rec.AvailableGeneral(),
			ReorderPoint:     rec.ReorderPoint,
			Status:           rec.Status(),
		}); err != nil {
			return nil, err
		}
	}
	if rec.ReserveBelowMinimum() && !wasReserveLow {
		if err := appendEventTx(ctx, tx, EventReserveLow, ReserveLowPayload{
			ItemID:           rec.ItemID,
			WarehouseID:      rec.WarehouseID,
			AvailableReserve: rec.AvailableReserve(),
			MinimumRequired:  rec.MinReserveRequired,
		}); err != nil {
			return nil, err
		}
	}

	return rec, nil
}

func (l *inventoryLedger) SetThresholds(ctx context.Context, itemID, warehouseID int, reorderPoint, minReserve decimal.Decimal, actor Actor) error {
	tag, err := l.pool.Exec(ctx, `
		UPDATE inventory_records
		SET reorder_point = $1, min_reserve_required = $2,
		    version = version + 1, updated_at = NOW(), updated_by = $3
		WHERE item_id = $4 AND warehouse_id = $5
	`, reorderPoint, minReserve, actor.ID, itemID, warehouseID)
	if err != nil {
		return fmt.Errorf("update thresholds: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "inventory record", Ref: recordKey(itemID, warehouseID)}
	}
	return nil
}

func (l *inventoryLedger) GetStockLevels(ctx context.Context, warehouseID int) ([]StockLevel, error) {
	query := `
		SELECT i.id, i.code, i.name, w.code,
		       ir.general_qty, ir.reserve_qty,
		       ir.general_qty - ir.general_allocated,
		       ir.reserve_qty - ir.reserve_allocated,
		       ir.reorder_point
		FROM inventory_records ir
		JOIN items i      ON i.id = ir.item_id
		JOIN warehouses w ON w.id = ir.warehouse_id
	`
	var args []any
	if warehouseID > 0 {
		query += " WHERE ir.warehouse_id = $1"
		args = append(args, warehouseID)
	}
	query += " ORDER BY i.code, w.code"

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stock levels: %w", err)
	}
	defer rows.Close()

	var levels []StockLevel
	for rows.Next() {
		var sl StockLevel
		if err := rows.Scan(&sl.ItemID, &sl.ItemCode, &sl.ItemName, &sl.WarehouseCode,
			&sl.GeneralQty, &sl.ReserveQty, &sl.Available, &sl.ReserveFree, &sl.ReorderPoint); err != nil {
			return nil, fmt.Errorf("scan stock level: %w", err)
		}
		sl.Status = computeStockStatus(sl.Available, sl.ReorderPoint)
		levels = append(levels, sl)
	}
	return levels, rows.Err()
}

// recordQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type recordQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const recordColumns = `id, item_id, warehouse_id, general_qty, reserve_qty,
	general_allocated, reserve_allocated, min_reserve_required, reorder_point,
	version, updated_at, updated_by`

func fetchRecord(ctx context.Context, q recordQuerier, itemID, warehouseID int, forUpdate bool) (*InventoryRecord, error) {
	query := "SELECT " + recordColumns + " FROM inventory_records WHERE item_id = $1 AND warehouse_id = $2"
	if forUpdate {
		query += " FOR UPDATE"
	}
	var rec InventoryRecord
	err := q.QueryRow(ctx, query, itemID, warehouseID).Scan(
		&rec.ID, &rec.ItemID, &rec.WarehouseID, &rec.GeneralQty, &rec.ReserveQty,
		&rec.GeneralAllocated, &rec.ReserveAllocated, &rec.MinReserveRequired, &rec.ReorderPoint,
		&rec.Version, &rec.UpdatedAt, &rec.UpdatedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Entity: "inventory record", Ref: recordKey(itemID, warehouseID)}
		}
		return nil, mapConflict(fmt.Errorf("fetch inventory record: %w", err), recordKey(itemID, warehouseID))
	}
	return &rec, nil
}

// lockRecord takes the per-(item, warehouse) row lock that serialises all
// writers against this record.
func lockRecord(ctx context.Context, tx pgx.Tx, itemID, warehouseID int) (*InventoryRecord, error) {
	return fetchRecord(ctx, tx, itemID, warehouseID, true)
}

func createRecord(ctx context.Context, tx pgx.Tx, itemID, warehouseID int) (*InventoryRecord, error) {
	var rec InventoryRecord
	err := tx.QueryRow(ctx, `
		INSERT INTO inventory_records (item_id, warehouse_id)
		VALUES ($1, $2)
		ON CONFLICT (item_id, warehouse_id) DO UPDATE SET updated_at = NOW()
		RETURNING `+recordColumns,
		itemID, warehouseID,
	).Scan(
		&rec.ID, &rec.ItemID, &rec.WarehouseID, &rec.GeneralQty, &rec.ReserveQty,
		&rec.GeneralAllocated, &rec.ReserveAllocated, &rec.MinReserveRequired, &rec.ReorderPoint,
		&rec.Version, &rec.UpdatedAt, &rec.UpdatedBy,
	)
	if err != nil {
		return nil, fmt.Errorf("create inventory record: %w", err)
	}
	return &rec, nil
}
