package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"stores-engine/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

func newEngine(pool *pgxpool.Pool) (core.InventoryLedger, core.AllocationEngine, core.DocumentWorkflow) {
	ledger := core.NewInventoryLedger(pool)
	alloc := core.NewAllocationEngine(pool, ledger)
	workflow := core.NewDocumentWorkflow(pool, ledger, alloc, core.NewRolePolicy(pool))
	return ledger, alloc, workflow
}

// approvedRequisition creates, submits, and approves a REQ with the given
// lines, returning the approved document.
func approvedRequisition(t *testing.T, ctx context.Context, workflow core.DocumentWorkflow, warehouseID int, lines []core.LineInput) *core.StockDocument {
	t.Helper()
	doc, err := workflow.CreateDraft(ctx, core.CreateDocumentInput{
		Type:        core.DocTypeRequisition,
		WarehouseID: warehouseID,
		Lines:       lines,
	}, storekeeper)
	if err != nil {
		t.Fatalf("CreateDraft failed: %v", err)
	}
	if doc, err = workflow.Submit(ctx, doc.ID, storekeeper); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if doc, err = workflow.Approve(ctx, doc.ID, "", officer); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	return doc
}

func TestAllocation_ReserveThenRelease(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	ledger, alloc, workflow := newEngine(pool)

	receive(t, ctx, ledger, 1, 1, 100, 0)
	doc := approvedRequisition(t, ctx, workflow, 1, []core.LineInput{
		{ItemID: 1, Quantity: decimal.NewFromInt(40)},
	})

	doc, err := workflow.ReserveStock(ctx, doc.ID, storekeeper)
	if err != nil {
		t.Fatalf("ReserveStock failed: %v", err)
	}

	avail, err := alloc.CheckAvailability(ctx, 1, 1)
	if err != nil {
		t.Fatalf("CheckAvailability failed: %v", err)
	}
	if !avail.AvailableGeneral.Equal(decimal.NewFromInt(60)) {
		t.Errorf("Expected 60 available after hold, got %s", avail.AvailableGeneral)
	}

	rec, _ := ledger.Get(ctx, 1, 1)
	if !rec.GeneralQty.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Hold must not move physical stock, got %s", rec.GeneralQty)
	}

	// Cancelling releases the hold.
	if _, err := workflow.Cancel(ctx, doc.ID, "changed plan", storekeeper); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	avail, _ = alloc.CheckAvailability(ctx, 1, 1)
	if !avail.AvailableGeneral.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected 100 available after release, got %s", avail.AvailableGeneral)
	}
}

func TestAllocation_ReserveInsufficientGeneral(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	ledger, _, workflow := newEngine(pool)

	// 30 general, 50 reserve. The line is not flagged for reserve use, so
	// only the general pool counts.
	receive(t, ctx, ledger, 1, 1, 30, 50)
	doc := approvedRequisition(t, ctx, workflow, 1, []core.LineInput{
		{ItemID: 1, Quantity: decimal.NewFromInt(40)},
	})

	_, err := workflow.ReserveStock(ctx, doc.ID, storekeeper)
	var stockErr *core.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("Expected InsufficientStockError, got %v", err)
	}
	if !stockErr.Available.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Expected available 30 in error, got %s", stockErr.Available)
	}
}

func TestAllocation_ConcurrentReservations(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	ledger, _, workflow := newEngine(pool)

	// 100 on hand, two racing documents of 60 each: exactly one wins.
	receive(t, ctx, ledger, 1, 1, 100, 0)
	docA := approvedRequisition(t, ctx, workflow, 1, []core.LineInput{
		{ItemID: 1, Quantity: decimal.NewFromInt(60)},
	})
	docB := approvedRequisition(t, ctx, workflow, 1, []core.LineInput{
		{ItemID: 1, Quantity: decimal.NewFromInt(60)},
	})

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, id := range []int{docA.ID, docB.ID} {
		wg.Add(1)
		go func(i, id int) {
			defer wg.Done()
			_, results[i] = workflow.ReserveStock(ctx, id, storekeeper)
		}(i, id)
	}
	wg.Wait()

	var wins, shorts int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		default:
			var stockErr *core.InsufficientStockError
			if errors.As(err, &stockErr) {
				shorts++
			} else {
				t.Errorf("Unexpected error: %v", err)
			}
		}
	}
	if wins != 1 || shorts != 1 {
		t.Fatalf("Expected exactly one winner and one shortfall, got %d/%d", wins, shorts)
	}

	rec, _ := ledger.Get(ctx, 1, 1)
	if !rec.GeneralAllocated.Equal(decimal.NewFromInt(60)) {
		t.Errorf("Expected 60 allocated, got %s", rec.GeneralAllocated)
	}
}

func TestAllocation_ReleaseIsIdempotent(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	ledger, alloc, workflow := newEngine(pool)

	receive(t, ctx, ledger, 1, 1, 100, 0)
	doc := approvedRequisition(t, ctx, workflow, 1, []core.LineInput{
		{ItemID: 1, Quantity: decimal.NewFromInt(40)},
	})

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	held, err := alloc.ReserveTx(ctx, tx, doc.Lines[0], 1, decimal.NewFromInt(40), storekeeper)
	if err != nil {
		t.Fatalf("ReserveTx failed: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	release := func() {
		t.Helper()
		tx, err := pool.Begin(ctx)
		if err != nil {
			t.Fatalf("Begin failed: %v", err)
		}
		if err := alloc.ReleaseTx(ctx, tx, held.ID, storekeeper); err != nil {
			t.Fatalf("ReleaseTx failed: %v", err)
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
	}

	release()
	rec, _ := ledger.Get(ctx, 1, 1)
	if !rec.GeneralAllocated.IsZero() {
		t.Fatalf("Expected no allocation after release, got %s", rec.GeneralAllocated)
	}

	// The second release finds the allocation already RELEASED and leaves
	// the ledger alone.
	release()
	rec, _ = ledger.Get(ctx, 1, 1)
	if !rec.GeneralAllocated.IsZero() {
		t.Errorf("Second release must not move counters, got %s", rec.GeneralAllocated)
	}
	if !rec.GeneralQty.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Physical stock must stay 100, got %s", rec.GeneralQty)
	}
}

func TestAllocation_IssueWithoutPriorHold(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	ledger, _, workflow := newEngine(pool)

	receive(t, ctx, ledger, 1, 1, 100, 0)
	doc := approvedRequisition(t, ctx, workflow, 1, []core.LineInput{
		{ItemID: 1, Quantity: decimal.NewFromInt(25)},
	})

	// Issue may run directly from APPROVED; reservation is optional.
	res, err := workflow.Issue(ctx, doc.ID, false, storekeeper)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if !res.Outcome.FullyIssued {
		t.Error("Expected full issue")
	}

	rec, _ := ledger.Get(ctx, 1, 1)
	if !rec.GeneralQty.Equal(decimal.NewFromInt(75)) {
		t.Errorf("Expected 75 on hand, got %s", rec.GeneralQty)
	}
	if !rec.GeneralAllocated.IsZero() {
		t.Errorf("Expected no residual allocation, got %s", rec.GeneralAllocated)
	}
}
