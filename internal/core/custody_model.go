package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// CustodyStatus is derived from the quantity counters, never stored.
type CustodyStatus string

const (
	CustodyActive            CustodyStatus = "ACTIVE"
	CustodyPartiallyReturned CustodyStatus = "PARTIALLY_RETURNED"
	CustodyFullyReturned     CustodyStatus = "FULLY_RETURNED"
	CustodyConsumed          CustodyStatus = "CONSUMED"
	CustodyTransferred       CustodyStatus = "TRANSFERRED"
)

// CustodyRecord tracks a quantity signed out to a named worker. The record
// stays open until every unit has been returned or written off as consumed.
type CustodyRecord struct {
	ID               int
	Number           string
	WorkerID         int
	Department       string
	ItemID           int
	WarehouseID      int
	Qty              decimal.Decimal
	ReturnedQty      decimal.Decimal
	ConsumedQty      decimal.Decimal
	Transferred      bool
	IssuedDate       time.Time
	CustodyLimitDays int
	IssuedBy         int
	UpdatedAt        time.Time
}

// RemainingQty is what the worker still holds.
func (c *CustodyRecord) RemainingQty() decimal.Decimal {
	return c.Qty.Sub(c.ReturnedQty).Sub(c.ConsumedQty)
}

// Status derives the lifecycle state from the counters. A fully closed
// record is CONSUMED only when nothing ever came back. While quantity
// remains out, a transferred record reports TRANSFERRED.
func (c *CustodyRecord) Status() CustodyStatus {
	remaining := c.RemainingQty()
	if remaining.IsZero() {
		if c.ConsumedQty.Equal(c.Qty) {
			return CustodyConsumed
		}
		return CustodyFullyReturned
	}
	if c.Transferred {
		return CustodyTransferred
	}
	if c.ReturnedQty.IsPositive() || c.ConsumedQty.IsPositive() {
		return CustodyPartiallyReturned
	}
	return CustodyActive
}

// DueDate is when the custody limit runs out.
func (c *CustodyRecord) DueDate() time.Time {
	return c.IssuedDate.AddDate(0, 0, c.CustodyLimitDays)
}

// Overdue reports whether the record is open past its limit.
func (c *CustodyRecord) Overdue(now time.Time) bool {
	return c.RemainingQty().IsPositive() && now.After(c.DueDate())
}

// CustodyIssueInput is the caller-supplied shape of a new custody issue.
type CustodyIssueInput struct {
	WorkerID    int
	Department  string
	ItemID      int
	WarehouseID int
	Qty         decimal.Decimal
	LimitDays   int
}

// CustodyAgingBucket groups open custody by how long it has been out.
type CustodyAgingBucket struct {
	Label   string
	MinDays int
	MaxDays int // 0 means unbounded
	Count   int
	Qty     decimal.Decimal
}
