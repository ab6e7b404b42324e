package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role is the acting user's tier, resolved by the upstream auth collaborator
// and carried on every command.
type Role string

const (
	RoleStorekeeper Role = "STOREKEEPER"
	RoleOfficer     Role = "OFFICER"
	RoleManager     Role = "MANAGER"
	RoleCommander   Role = "COMMANDER"
)

// roleRank orders the tiers. A higher-ranked role satisfies any requirement
// for a lower one.
var roleRank = map[Role]int{
	RoleStorekeeper: 1,
	RoleOfficer:     2,
	RoleManager:     3,
	RoleCommander:   4,
}

// Satisfies reports whether r meets or exceeds the required tier. Unknown
// roles never satisfy anything.
func (r Role) Satisfies(required Role) bool {
	return roleRank[r] > 0 && roleRank[r] >= roleRank[required]
}

// Actor identifies the user executing a command.
type Actor struct {
	ID   int
	Role Role
}

// DocumentType is the three-letter flavor code of a workflow document.
type DocumentType string

const (
	DocTypeRequisition DocumentType = "REQ"
	DocTypeTransfer    DocumentType = "TRF"
	DocTypeProjectBOQ  DocumentType = "BOQ"
	DocTypeReceipt     DocumentType = "GRN"
	DocTypeConsumption DocumentType = "CON"
	DocTypeReturn      DocumentType = "RET"
	DocTypeAdjustment  DocumentType = "ADJ"
)

// DocumentStatus is the shared workflow state.
type DocumentStatus string

const (
	StatusDraft           DocumentStatus = "DRAFT"
	StatusPending         DocumentStatus = "PENDING"
	StatusApproved        DocumentStatus = "APPROVED"
	StatusPartiallyIssued DocumentStatus = "PARTIALLY_ISSUED"
	StatusFullyIssued     DocumentStatus = "FULLY_ISSUED"
	StatusCompleted       DocumentStatus = "COMPLETED"
	StatusRejected        DocumentStatus = "REJECTED"
	StatusCancelled       DocumentStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is accepted.
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusCancelled
}

// Priority of a workflow document.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityUrgent Priority = "URGENT"
)

// StockDocument is the header shared by all seven document flavors.
type StockDocument struct {
	ID                 int
	Number             string // assigned when the document leaves DRAFT
	Type               DocumentType
	Status             DocumentStatus
	Priority           Priority
	WarehouseID        int
	DestWarehouseID    *int // transfers only
	ProjectCode        *string
	OriginalDocumentID *int // set on partial-issue continuations
	Notes              string
	CreatedBy          int
	CreatedAt          time.Time
	SubmittedAt        *time.Time
	ApprovedBy         *int
	ApprovedAt         *time.Time
	ApprovalNotes      *string
	RejectedReason     *string
	CancelledReason    *string
	IssuedAt           *time.Time
	CompletedAt        *time.Time
	Lines              []DocumentLine
}

// DocumentLine is one item position on a stock document.
// RequestedQty == IssuedQty + RemainingQty holds at all times; RemainingQty
// is derived, never stored.
type DocumentLine struct {
	ID                  int
	DocumentID          int
	LineNumber          int
	ItemID              int
	RequestedQty        decimal.Decimal
	IssuedQty           decimal.Decimal
	ReceivedQty         decimal.Decimal
	UseCommanderReserve bool
	ReserveQty          decimal.Decimal // cap on the reserve-pool draw for this line
	ReserveApproved     bool
}

// RemainingQty is the unfulfilled portion of the line.
func (l DocumentLine) RemainingQty() decimal.Decimal {
	return l.RequestedQty.Sub(l.IssuedQty)
}

// LineInput is the caller-supplied shape of a new document line.
type LineInput struct {
	ItemID              int
	Quantity            decimal.Decimal
	UseCommanderReserve bool
	ReserveQty          decimal.Decimal
}

// MovementType classifies a stock_movements journal row.
type MovementType string

const (
	MovementReceipt    MovementType = "RECEIPT"
	MovementIssue      MovementType = "ISSUE"
	MovementTransferIn MovementType = "TRANSFER_IN"
	MovementAdjustment MovementType = "ADJUSTMENT"
	MovementHold       MovementType = "HOLD"
	MovementRelease    MovementType = "RELEASE"
	MovementCustodyOut MovementType = "CUSTODY_ISSUE"
	MovementCustodyIn  MovementType = "CUSTODY_RETURN"
)
