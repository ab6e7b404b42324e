package core_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"stores-engine/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

func newCustodyLedger(pool *pgxpool.Pool) (core.InventoryLedger, core.CustodyLedger) {
	ledger := core.NewInventoryLedger(pool)
	alloc := core.NewAllocationEngine(pool, ledger)
	return ledger, core.NewCustodyLedger(pool, ledger, alloc, core.ReturnToGeneral)
}

func TestCustody_IssueReturnConsume(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	ledger, custody := newCustodyLedger(pool)

	receive(t, ctx, ledger, 1, 1, 100, 0)

	rec, err := custody.Issue(ctx, core.CustodyIssueInput{
		WorkerID:    1,
		Department:  "Electrical",
		ItemID:      1,
		WarehouseID: 1,
		Qty:         decimal.NewFromInt(10),
	}, storekeeper)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if !strings.HasPrefix(rec.Number, "CUS-") {
		t.Errorf("Expected CUS-prefixed number, got %q", rec.Number)
	}
	if rec.Status() != core.CustodyActive {
		t.Errorf("Expected ACTIVE, got %s", rec.Status())
	}

	inv, _ := ledger.Get(ctx, 1, 1)
	if !inv.GeneralQty.Equal(decimal.NewFromInt(90)) {
		t.Errorf("Expected 90 on hand after issue, got %s", inv.GeneralQty)
	}
	if !inv.GeneralAllocated.IsZero() {
		t.Errorf("Custody issue must leave no residual hold, got %s", inv.GeneralAllocated)
	}

	// Return 4 of 10.
	rec, err = custody.Return(ctx, rec.ID, decimal.NewFromInt(4), storekeeper)
	if err != nil {
		t.Fatalf("Return failed: %v", err)
	}
	if rec.Status() != core.CustodyPartiallyReturned {
		t.Errorf("Expected PARTIALLY_RETURNED, got %s", rec.Status())
	}
	inv, _ = ledger.Get(ctx, 1, 1)
	if !inv.GeneralQty.Equal(decimal.NewFromInt(94)) {
		t.Errorf("Expected 94 on hand after return, got %s", inv.GeneralQty)
	}

	// Consume the remaining 6: consumed stock never comes back.
	rec, err = custody.Consume(ctx, rec.ID, decimal.NewFromInt(6), storekeeper)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if !rec.RemainingQty().IsZero() {
		t.Errorf("Expected nothing outstanding, got %s", rec.RemainingQty())
	}
	if rec.Status() != core.CustodyFullyReturned {
		t.Errorf("Mixed closure counts as FULLY_RETURNED, got %s", rec.Status())
	}
	inv, _ = ledger.Get(ctx, 1, 1)
	if !inv.GeneralQty.Equal(decimal.NewFromInt(94)) {
		t.Errorf("Consume must not restock, got %s", inv.GeneralQty)
	}

	// A closed record accepts no further movement.
	if _, err := custody.Return(ctx, rec.ID, decimal.NewFromInt(1), storekeeper); err == nil {
		t.Error("Expected return on closed custody to fail")
	}
}

func TestCustody_ConsumedStatus(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	ledger, custody := newCustodyLedger(pool)

	receive(t, ctx, ledger, 1, 1, 20, 0)
	rec, err := custody.Issue(ctx, core.CustodyIssueInput{
		WorkerID: 1, ItemID: 1, WarehouseID: 1, Qty: decimal.NewFromInt(5),
	}, storekeeper)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	rec, err = custody.Consume(ctx, rec.ID, decimal.NewFromInt(5), storekeeper)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if rec.Status() != core.CustodyConsumed {
		t.Errorf("Fully consumed custody must be CONSUMED, got %s", rec.Status())
	}
}

func TestCustody_IssueRequiresGeneralStock(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	ledger, custody := newCustodyLedger(pool)

	// Plenty of reserve, little general: custody only draws general.
	receive(t, ctx, ledger, 1, 1, 3, 100)
	_, err := custody.Issue(ctx, core.CustodyIssueInput{
		WorkerID: 1, ItemID: 1, WarehouseID: 1, Qty: decimal.NewFromInt(5),
	}, storekeeper)
	if err == nil {
		t.Fatal("Expected insufficient stock")
	}
}

func TestCustody_Transfer(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	ledger, custody := newCustodyLedger(pool)

	receive(t, ctx, ledger, 1, 1, 50, 0)
	rec, err := custody.Issue(ctx, core.CustodyIssueInput{
		WorkerID: 1, Department: "Electrical", ItemID: 1, WarehouseID: 1,
		Qty: decimal.NewFromInt(8),
	}, storekeeper)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	issuedAt := rec.IssuedDate

	rec, err = custody.Transfer(ctx, rec.ID, 2, "Mechanical", officer)
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if rec.WorkerID != 2 || !rec.Transferred {
		t.Errorf("Expected custody with worker 2 and transferred flag, got %+v", rec)
	}
	if rec.Status() != core.CustodyTransferred {
		t.Errorf("Expected TRANSFERRED while quantity is still out, got %s", rec.Status())
	}

	// The receiving worker inherits the original due date and may still
	// return.
	got, err := custody.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.IssuedDate.Equal(issuedAt) {
		t.Errorf("Transfer must not restart the clock")
	}
	if _, err := custody.Return(ctx, rec.ID, decimal.NewFromInt(8), storekeeper); err != nil {
		t.Fatalf("Return after transfer failed: %v", err)
	}
}

func TestCustody_OverdueAndAging(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	ledger, custody := newCustodyLedger(pool)

	receive(t, ctx, ledger, 1, 1, 50, 0)
	rec, err := custody.Issue(ctx, core.CustodyIssueInput{
		WorkerID: 1, ItemID: 1, WarehouseID: 1,
		Qty: decimal.NewFromInt(10), LimitDays: 7,
	}, storekeeper)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	now := time.Now()
	overdue, err := custody.Overdue(ctx, now)
	if err != nil {
		t.Fatalf("Overdue failed: %v", err)
	}
	if len(overdue) != 0 {
		t.Errorf("Fresh custody must not be overdue, got %d", len(overdue))
	}

	overdue, err = custody.Overdue(ctx, now.AddDate(0, 0, 8))
	if err != nil {
		t.Fatalf("Overdue failed: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != rec.ID {
		t.Fatalf("Expected the record overdue after its limit, got %+v", overdue)
	}

	buckets, err := custody.AgingReport(ctx, 1, now.AddDate(0, 0, 45))
	if err != nil {
		t.Fatalf("AgingReport failed: %v", err)
	}
	var total decimal.Decimal
	for _, b := range buckets {
		total = total.Add(b.Qty)
		if b.Label == "31-60 days" && b.Count != 1 {
			t.Errorf("Expected the record in the 31-60 bucket, got %d", b.Count)
		}
	}
	if !total.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Expected 10 outstanding across buckets, got %s", total)
	}
}
