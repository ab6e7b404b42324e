package app

import (
	"stores-engine/internal/core"

	"github.com/shopspring/decimal"
)

// CreateDocumentRequest is the input for creating a new stock document.
type CreateDocumentRequest struct {
	Type            core.DocumentType
	Priority        core.Priority
	WarehouseID     int
	DestWarehouseID *int // transfers only
	ProjectCode     *string
	Notes           string
	Lines           []DocumentLineInput
	Actor           core.Actor
}

// DocumentLineInput is a single line within a CreateDocumentRequest.
type DocumentLineInput struct {
	ItemID              int
	Quantity            decimal.Decimal // signed for adjustments
	UseCommanderReserve bool
	ReserveQty          decimal.Decimal // zero means "no per-line cap"
}

// DecideReserveRequest is the input for a commander's verdict on a reserve
// request.
type DecideReserveRequest struct {
	ApprovalID int
	Approve    bool
	Reason     string // required when rejecting
	Actor      core.Actor
}

// SetThresholdsRequest is the input for updating one record's alert levels.
type SetThresholdsRequest struct {
	ItemID       int
	WarehouseID  int
	ReorderPoint decimal.Decimal
	MinReserve   decimal.Decimal
	Actor        core.Actor
}

// AdjustStockRequest is the input for a direct signed stock correction.
type AdjustStockRequest struct {
	ItemID      int
	WarehouseID int
	GeneralQty  decimal.Decimal
	ReserveQty  decimal.Decimal
	Reason      string
	Actor       core.Actor
}

// IssueCustodyRequest is the input for signing stock out to a worker.
type IssueCustodyRequest struct {
	WorkerID    int
	Department  string
	ItemID      int
	WarehouseID int
	Qty         decimal.Decimal
	LimitDays   int // zero means the default limit
	Actor       core.Actor
}

// TransferCustodyRequest is the input for reassigning open custody.
type TransferCustodyRequest struct {
	CustodyID    int
	ToWorkerID   int
	ToDepartment string
	Actor        core.Actor
}
