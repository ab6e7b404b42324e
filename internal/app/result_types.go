package app

import (
	"time"

	"stores-engine/internal/core"

	"github.com/shopspring/decimal"
)

// DocumentResult is returned by document lifecycle operations.
type DocumentResult struct {
	Document *core.StockDocument
}

// DocumentListResult is returned by ListDocuments.
type DocumentListResult struct {
	Documents []core.StockDocument
}

// IssueDocumentResult is returned by IssueDocument. When a partial issue
// creates a continuation, its id and number are carried in the outcome.
type IssueDocumentResult struct {
	Document *core.StockDocument
	Outcome  *core.PartialIssueOutcome
}

// ReserveApprovalResult is returned by the reserve gate operations.
type ReserveApprovalResult struct {
	Approval *core.ReserveApproval
}

// StockLevelsResult is returned by GetStockLevels.
type StockLevelsResult struct {
	WarehouseID int
	Levels      []core.StockLevel
}

// CustodyResult is a custody record with its derived state.
type CustodyResult struct {
	Custody   *core.CustodyRecord
	Status    core.CustodyStatus
	Remaining decimal.Decimal
	DueDate   time.Time
}

func custodyResult(rec *core.CustodyRecord) *CustodyResult {
	return &CustodyResult{
		Custody:   rec,
		Status:    rec.Status(),
		Remaining: rec.RemainingQty(),
		DueDate:   rec.DueDate(),
	}
}
