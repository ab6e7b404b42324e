package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StockStatus is a derived classification of an inventory record. It is
// recomputed from the quantities on every read and never stored.
type StockStatus string

const (
	StockOK          StockStatus = "OK"
	StockLow         StockStatus = "LOW"
	StockCritical    StockStatus = "CRITICAL"
	StockOverstocked StockStatus = "OVERSTOCKED"
)

// overstockFactor: available general stock above reorderPoint × this factor
// counts as overstocked.
var overstockFactor = decimal.NewFromInt(3)

// InventoryRecord is the per-(item, warehouse) source of truth for stock.
// GeneralQty and ReserveQty partition the physical total; the allocated
// counters track soft holds against each pool.
type InventoryRecord struct {
	ID                 int
	ItemID             int
	WarehouseID        int
	GeneralQty         decimal.Decimal
	ReserveQty         decimal.Decimal
	GeneralAllocated   decimal.Decimal
	ReserveAllocated   decimal.Decimal
	MinReserveRequired decimal.Decimal
	ReorderPoint       decimal.Decimal
	Version            int64
	UpdatedAt          time.Time
	UpdatedBy          *int
}

// TotalQty is the physical quantity across both pools.
func (r *InventoryRecord) TotalQty() decimal.Decimal {
	return r.GeneralQty.Add(r.ReserveQty)
}

// AvailableGeneral is the unallocated portion of the general pool.
func (r *InventoryRecord) AvailableGeneral() decimal.Decimal {
	return r.GeneralQty.Sub(r.GeneralAllocated)
}

// AvailableReserve is the unallocated portion of the commander's reserve.
func (r *InventoryRecord) AvailableReserve() decimal.Decimal {
	return r.ReserveQty.Sub(r.ReserveAllocated)
}

// ReserveBelowMinimum reports whether the unallocated reserve has dropped
// under the configured floor.
func (r *InventoryRecord) ReserveBelowMinimum() bool {
	return r.AvailableReserve().LessThan(r.MinReserveRequired)
}

// Status classifies the record by available general stock against the
// reorder point.
func (r *InventoryRecord) Status() StockStatus {
	return computeStockStatus(r.AvailableGeneral(), r.ReorderPoint)
}

func computeStockStatus(availableGeneral, reorderPoint decimal.Decimal) StockStatus {
	switch {
	case availableGeneral.LessThanOrEqual(decimal.Zero):
		return StockCritical
	case availableGeneral.LessThan(reorderPoint):
		return StockLow
	case reorderPoint.IsPositive() && availableGeneral.GreaterThan(reorderPoint.Mul(overstockFactor)):
		return StockOverstocked
	default:
		return StockOK
	}
}

// validate re-checks every tracked invariant. It runs after each delta is
// applied, before the write is committed.
func (r *InventoryRecord) validate() error {
	if r.GeneralQty.IsNegative() {
		return &InvariantViolationError{Record: r.key(), Detail: "general quantity below zero"}
	}
	if r.ReserveQty.IsNegative() {
		return &InvariantViolationError{Record: r.key(), Detail: "reserve quantity below zero"}
	}
	if r.GeneralAllocated.IsNegative() || r.GeneralAllocated.GreaterThan(r.GeneralQty) {
		return &InvariantViolationError{Record: r.key(), Detail: "general allocation outside [0, general quantity]"}
	}
	if r.ReserveAllocated.IsNegative() || r.ReserveAllocated.GreaterThan(r.ReserveQty) {
		return &InvariantViolationError{Record: r.key(), Detail: "reserve allocation outside [0, reserve quantity]"}
	}
	return nil
}

func (r *InventoryRecord) key() string {
	return recordKey(r.ItemID, r.WarehouseID)
}

func recordKey(itemID, warehouseID int) string {
	return fmt.Sprintf("inventory record item=%d warehouse=%d", itemID, warehouseID)
}

// LedgerDelta is one atomic change to an inventory record. Positive values
// increase, negative decrease. Allocation deltas move the soft-hold
// counters without touching physical stock.
type LedgerDelta struct {
	ItemID           int
	WarehouseID      int
	GeneralQty       decimal.Decimal
	ReserveQty       decimal.Decimal
	GeneralAllocated decimal.Decimal
	ReserveAllocated decimal.Decimal
	Movement         MovementType
	DocumentID       *int
	CustodyID        *int
	Notes            string
}

// Availability is the read-only answer to a stock check.
type Availability struct {
	ItemID           int
	WarehouseID      int
	AvailableGeneral decimal.Decimal
	AvailableReserve decimal.Decimal
}

// StockLevel is a reporting view of an inventory record joined with item and
// warehouse codes.
type StockLevel struct {
	ItemID        int
	ItemCode      string
	ItemName      string
	WarehouseCode string
	GeneralQty    decimal.Decimal
	ReserveQty    decimal.Decimal
	Available     decimal.Decimal
	ReserveFree   decimal.Decimal
	ReorderPoint  decimal.Decimal
	Status        StockStatus
}
