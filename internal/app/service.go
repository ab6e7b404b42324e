package app

import (
	"context"
	"time"

	"stores-engine/internal/core"

	"github.com/shopspring/decimal"
)

// ApplicationService is the single interface all transport adapters call.
// It decouples presentation from business logic. Implementations must contain
// no fmt.Println, no ANSI codes, and no display logic of any kind.
type ApplicationService interface {
	// CreateDocument creates a new DRAFT stock document with its lines.
	CreateDocument(ctx context.Context, req CreateDocumentRequest) (*DocumentResult, error)

	// SubmitDocument transitions a DRAFT to PENDING, assigning a gapless
	// document number.
	SubmitDocument(ctx context.Context, documentID int, actor core.Actor) (*DocumentResult, error)

	// ApproveDocument transitions a PENDING document to APPROVED. The
	// acting role must meet the tier configured for the document type.
	ApproveDocument(ctx context.Context, documentID int, notes string, actor core.Actor) (*DocumentResult, error)

	// RejectDocument transitions a PENDING document to REJECTED.
	RejectDocument(ctx context.Context, documentID int, reason string, actor core.Actor) (*DocumentResult, error)

	// ReserveDocumentStock places soft holds for every open line of an
	// approved outbound document.
	ReserveDocumentStock(ctx context.Context, documentID int, actor core.Actor) (*DocumentResult, error)

	// IssueDocument executes an approved document against the ledger.
	// For outbound flavors allowPartial issues what is on hand and creates
	// a linked continuation document for the shortfall.
	IssueDocument(ctx context.Context, documentID int, allowPartial bool, actor core.Actor) (*IssueDocumentResult, error)

	// ReceiveDocument acknowledges issued goods at the receiving end and
	// completes the document. Transfers post inbound stock at the
	// destination warehouse here.
	ReceiveDocument(ctx context.Context, documentID int, actor core.Actor) (*DocumentResult, error)

	// CancelDocument cancels a document that has not been fully issued,
	// releasing any holds.
	CancelDocument(ctx context.Context, documentID int, reason string, actor core.Actor) (*DocumentResult, error)

	// GetDocument returns a document with its lines.
	GetDocument(ctx context.Context, documentID int) (*DocumentResult, error)

	// ListDocuments returns documents matching the filter, newest first.
	ListDocuments(ctx context.Context, filter core.DocumentFilter) (*DocumentListResult, error)

	// RequestReserveApproval opens a commander's-reserve request for a
	// flagged document line.
	RequestReserveApproval(ctx context.Context, lineID int, actor core.Actor) (*ReserveApprovalResult, error)

	// DecideReserveApproval approves or rejects a pending reserve request.
	// Commander tier only.
	DecideReserveApproval(ctx context.Context, req DecideReserveRequest) (*ReserveApprovalResult, error)

	// ListPendingReserveApprovals returns all undecided reserve requests.
	ListPendingReserveApprovals(ctx context.Context) ([]core.ReserveApproval, error)

	// CheckAvailability returns per-pool availability for one item at one
	// warehouse.
	CheckAvailability(ctx context.Context, itemID, warehouseID int) (*core.Availability, error)

	// GetInventoryRecord returns the raw ledger record for one item at one
	// warehouse, including allocation counters and version.
	GetInventoryRecord(ctx context.Context, itemID, warehouseID int) (*core.InventoryRecord, error)

	// GetStockLevels returns the stock position of a warehouse with
	// derived status per record.
	GetStockLevels(ctx context.Context, warehouseID int) (*StockLevelsResult, error)

	// SetStockThresholds updates the reorder point and minimum reserve of
	// one inventory record.
	SetStockThresholds(ctx context.Context, req SetThresholdsRequest) error

	// AdjustStock posts a direct signed correction outside the document
	// workflow. Manager tier only.
	AdjustStock(ctx context.Context, req AdjustStockRequest) (*core.InventoryRecord, error)

	// IssueCustody signs a quantity out to a named worker from the general
	// pool. Immediate: no approval chain, no partial fulfillment.
	IssueCustody(ctx context.Context, req IssueCustodyRequest) (*CustodyResult, error)

	// ReturnCustody books a partial or full return of held custody.
	ReturnCustody(ctx context.Context, custodyID int, qty decimal.Decimal, actor core.Actor) (*CustodyResult, error)

	// ConsumeCustody writes off a held quantity as used up.
	ConsumeCustody(ctx context.Context, custodyID int, qty decimal.Decimal, actor core.Actor) (*CustodyResult, error)

	// TransferCustody reassigns open custody to another worker.
	TransferCustody(ctx context.Context, req TransferCustodyRequest) (*CustodyResult, error)

	// GetWorkerCustody returns all custody records of one worker.
	GetWorkerCustody(ctx context.Context, workerID int) ([]CustodyResult, error)

	// GetOverdueCustody returns open custody past its limit.
	GetOverdueCustody(ctx context.Context) ([]CustodyResult, error)

	// GetCustodyAging buckets a warehouse's open custody by age.
	GetCustodyAging(ctx context.Context, warehouseID int, now time.Time) ([]core.CustodyAgingBucket, error)
}
