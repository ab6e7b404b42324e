package core_test

import (
	"testing"
	"time"

	"stores-engine/internal/core"

	"github.com/shopspring/decimal"
)

func TestRole_Satisfies(t *testing.T) {
	tests := []struct {
		role     core.Role
		required core.Role
		want     bool
	}{
		{core.RoleStorekeeper, core.RoleStorekeeper, true},
		{core.RoleStorekeeper, core.RoleOfficer, false},
		{core.RoleOfficer, core.RoleStorekeeper, true},
		{core.RoleManager, core.RoleOfficer, true},
		{core.RoleManager, core.RoleCommander, false},
		{core.RoleCommander, core.RoleCommander, true},
		{core.Role("INTERN"), core.RoleStorekeeper, false},
		{core.Role(""), core.RoleStorekeeper, false},
	}
	for _, tt := range tests {
		if got := tt.role.Satisfies(tt.required); got != tt.want {
			t.Errorf("%s satisfies %s: got %v, want %v", tt.role, tt.required, got, tt.want)
		}
	}
}

func TestDocumentStatus_IsTerminal(t *testing.T) {
	terminal := []core.DocumentStatus{core.StatusCompleted, core.StatusRejected, core.StatusCancelled}
	active := []core.DocumentStatus{
		core.StatusDraft, core.StatusPending, core.StatusApproved,
		core.StatusPartiallyIssued, core.StatusFullyIssued,
	}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}

func TestDocumentLine_RemainingQty(t *testing.T) {
	line := core.DocumentLine{
		RequestedQty: decimal.NewFromInt(50),
		IssuedQty:    decimal.NewFromInt(30),
	}
	if !line.RemainingQty().Equal(decimal.NewFromInt(20)) {
		t.Errorf("Expected remaining 20, got %s", line.RemainingQty())
	}
}

func TestInventoryRecord_Status(t *testing.T) {
	tests := []struct {
		name         string
		general      int64
		allocated    int64
		reorderPoint int64
		want         core.StockStatus
	}{
		{"drained", 0, 0, 10, core.StockCritical},
		{"fully allocated counts as critical", 10, 10, 5, core.StockCritical},
		{"under reorder point", 8, 0, 10, core.StockLow},
		{"at reorder point", 10, 0, 10, core.StockOK},
		{"healthy", 20, 0, 10, core.StockOK},
		{"above three times reorder point", 31, 0, 10, core.StockOverstocked},
		{"no reorder point configured", 500, 0, 0, core.StockOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := core.InventoryRecord{
				GeneralQty:       decimal.NewFromInt(tt.general),
				GeneralAllocated: decimal.NewFromInt(tt.allocated),
				ReorderPoint:     decimal.NewFromInt(tt.reorderPoint),
			}
			if got := rec.Status(); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestInventoryRecord_DerivedQuantities(t *testing.T) {
	rec := core.InventoryRecord{
		GeneralQty:         decimal.NewFromInt(100),
		ReserveQty:         decimal.NewFromInt(40),
		GeneralAllocated:   decimal.NewFromInt(25),
		ReserveAllocated:   decimal.NewFromInt(10),
		MinReserveRequired: decimal.NewFromInt(35),
	}
	if !rec.TotalQty().Equal(decimal.NewFromInt(140)) {
		t.Errorf("TotalQty: got %s", rec.TotalQty())
	}
	if !rec.AvailableGeneral().Equal(decimal.NewFromInt(75)) {
		t.Errorf("AvailableGeneral: got %s", rec.AvailableGeneral())
	}
	if !rec.AvailableReserve().Equal(decimal.NewFromInt(30)) {
		t.Errorf("AvailableReserve: got %s", rec.AvailableReserve())
	}
	if !rec.ReserveBelowMinimum() {
		t.Error("Expected reserve below minimum (30 < 35)")
	}
}

func TestCustodyRecord_Status(t *testing.T) {
	tests := []struct {
		name        string
		qty         int64
		returned    int64
		consumed    int64
		transferred bool
		want        core.CustodyStatus
	}{
		{"untouched", 10, 0, 0, false, core.CustodyActive},
		{"partially returned", 10, 4, 0, false, core.CustodyPartiallyReturned},
		{"partially consumed", 10, 0, 4, false, core.CustodyPartiallyReturned},
		{"fully returned", 10, 10, 0, false, core.CustodyFullyReturned},
		{"fully consumed", 10, 0, 10, false, core.CustodyConsumed},
		{"mixed closure is returned, not consumed", 10, 4, 6, false, core.CustodyFullyReturned},
		{"transferred while open", 10, 0, 0, true, core.CustodyTransferred},
		{"transferred overrides partial return", 10, 4, 0, true, core.CustodyTransferred},
		{"closed record is closed even after transfer", 10, 10, 0, true, core.CustodyFullyReturned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := core.CustodyRecord{
				Qty:         decimal.NewFromInt(tt.qty),
				ReturnedQty: decimal.NewFromInt(tt.returned),
				ConsumedQty: decimal.NewFromInt(tt.consumed),
				Transferred: tt.transferred,
			}
			if got := rec.Status(); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCustodyRecord_Overdue(t *testing.T) {
	issued := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	rec := core.CustodyRecord{
		Qty:              decimal.NewFromInt(5),
		IssuedDate:       issued,
		CustodyLimitDays: 14,
	}
	if !rec.DueDate().Equal(issued.AddDate(0, 0, 14)) {
		t.Errorf("DueDate: got %s", rec.DueDate())
	}
	if rec.Overdue(issued.AddDate(0, 0, 10)) {
		t.Error("Must not be overdue within the limit")
	}
	if !rec.Overdue(issued.AddDate(0, 0, 15)) {
		t.Error("Must be overdue past the limit")
	}

	// A closed record is never overdue.
	rec.ReturnedQty = decimal.NewFromInt(5)
	if rec.Overdue(issued.AddDate(0, 0, 15)) {
		t.Error("Closed custody must not be overdue")
	}
}
