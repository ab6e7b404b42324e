package core_test

import (
	"context"
	"errors"
	"testing"

	"stores-engine/internal/core"

	"github.com/shopspring/decimal"
)

func TestReserveGate_UnapprovedLineDrawsGeneralOnly(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	ledger, _, workflow := newEngine(pool)

	// 20 general, 100 reserve. Flagged but never gate-approved: only the
	// general pool may be issued.
	receive(t, ctx, ledger, 1, 1, 20, 100)
	doc := approvedRequisition(t, ctx, workflow, 1, []core.LineInput{
		{ItemID: 1, Quantity: decimal.NewFromInt(30), UseCommanderReserve: true},
	})

	res, err := workflow.Issue(ctx, doc.ID, true, storekeeper)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if !res.Outcome.Issued[0].IssuedQty.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Expected 20 issued from general, got %s", res.Outcome.Issued[0].IssuedQty)
	}
	if !res.Outcome.Issued[0].FromReserve.IsZero() {
		t.Errorf("Expected no reserve draw, got %s", res.Outcome.Issued[0].FromReserve)
	}

	rec, _ := ledger.Get(ctx, 1, 1)
	if !rec.ReserveQty.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Reserve pool must be untouched, got %s", rec.ReserveQty)
	}
}

func TestReserveGate_ApprovedLineDrawsReserve(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	ledger, _, workflow := newEngine(pool)
	gate := core.NewCommanderReserveGate(pool)

	receive(t, ctx, ledger, 1, 1, 20, 100)
	doc := approvedRequisition(t, ctx, workflow, 1, []core.LineInput{
		{ItemID: 1, Quantity: decimal.NewFromInt(30), UseCommanderReserve: true},
	})
	lineID := doc.Lines[0].ID

	approval, err := gate.RequestApproval(ctx, lineID, officer)
	if err != nil {
		t.Fatalf("RequestApproval failed: %v", err)
	}

	// A second live request for the same line is rejected.
	if _, err := gate.RequestApproval(ctx, lineID, officer); err == nil {
		t.Error("Expected duplicate live request to fail")
	}

	// Only a commander may decide.
	_, err = gate.Approve(ctx, approval.ID, manager)
	var authErr *core.UnauthorizedError
	if !errors.As(err, &authErr) {
		t.Fatalf("Expected UnauthorizedError, got %v", err)
	}

	if _, err := gate.Approve(ctx, approval.ID, commander); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	res, err := workflow.Issue(ctx, doc.ID, false, storekeeper)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if !res.Outcome.FullyIssued {
		t.Error("Expected full issue with reserve backing")
	}
	if !res.Outcome.Issued[0].FromReserve.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Expected 10 drawn from reserve, got %s", res.Outcome.Issued[0].FromReserve)
	}

	rec, _ := ledger.Get(ctx, 1, 1)
	if !rec.GeneralQty.IsZero() {
		t.Errorf("Expected general pool drained, got %s", rec.GeneralQty)
	}
	if !rec.ReserveQty.Equal(decimal.NewFromInt(90)) {
		t.Errorf("Expected 90 reserve left, got %s", rec.ReserveQty)
	}
}

func TestReserveGate_LineCapLimitsReserveDraw(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	ledger, _, workflow := newEngine(pool)
	gate := core.NewCommanderReserveGate(pool)

	receive(t, ctx, ledger, 1, 1, 20, 100)
	doc := approvedRequisition(t, ctx, workflow, 1, []core.LineInput{
		{ItemID: 1, Quantity: decimal.NewFromInt(40), UseCommanderReserve: true,
			ReserveQty: decimal.NewFromInt(5)},
	})

	approval, err := gate.RequestApproval(ctx, doc.Lines[0].ID, officer)
	if err != nil {
		t.Fatalf("RequestApproval failed: %v", err)
	}
	if _, err := gate.Approve(ctx, approval.ID, commander); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	// 20 general + at most 5 reserve: 25 of 40 is the best possible.
	res, err := workflow.Issue(ctx, doc.ID, true, storekeeper)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	issued := res.Outcome.Issued[0]
	if !issued.IssuedQty.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Expected 25 issued, got %s", issued.IssuedQty)
	}
	if !issued.FromReserve.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Expected reserve draw capped at 5, got %s", issued.FromReserve)
	}
}

func TestReserveGate_RejectionClearsLineAndAllowsRetry(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	ledger, _, workflow := newEngine(pool)
	gate := core.NewCommanderReserveGate(pool)

	receive(t, ctx, ledger, 1, 1, 10, 50)
	doc := approvedRequisition(t, ctx, workflow, 1, []core.LineInput{
		{ItemID: 1, Quantity: decimal.NewFromInt(30), UseCommanderReserve: true},
	})
	lineID := doc.Lines[0].ID

	approval, err := gate.RequestApproval(ctx, lineID, officer)
	if err != nil {
		t.Fatalf("RequestApproval failed: %v", err)
	}
	if _, err := gate.Reject(ctx, approval.ID, "reserve is earmarked", commander); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}

	// The parent document is untouched by the line-scoped verdict.
	doc, err = workflow.Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if doc.Status != core.StatusApproved {
		t.Errorf("Document must stay APPROVED, got %s", doc.Status)
	}
	if doc.Lines[0].ReserveApproved {
		t.Error("Line must not be reserve-approved after rejection")
	}

	// After a rejection the line may ask again.
	again, err := gate.RequestApproval(ctx, lineID, officer)
	if err != nil {
		t.Fatalf("Re-request after rejection failed: %v", err)
	}
	if _, err := gate.Approve(ctx, again.ID, commander); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	doc, _ = workflow.Get(ctx, doc.ID)
	if !doc.Lines[0].ReserveApproved {
		t.Error("Line must be reserve-approved after the second verdict")
	}
}
