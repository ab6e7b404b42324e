package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// EventType names a domain event appended to the transactional outbox.
type EventType string

const (
	EventLowStockAlert      EventType = "LOW_STOCK_ALERT"
	EventReserveLow         EventType = "RESERVE_LOW"
	EventDocumentSubmitted  EventType = "DOCUMENT_SUBMITTED"
	EventDocumentApproved   EventType = "DOCUMENT_APPROVED"
	EventDocumentRejected   EventType = "DOCUMENT_REJECTED"
	EventDocumentIssued     EventType = "DOCUMENT_ISSUED"
	EventDocumentCompleted  EventType = "DOCUMENT_COMPLETED"
	EventDocumentCancelled  EventType = "DOCUMENT_CANCELLED"
	EventReserveRequested   EventType = "RESERVE_APPROVAL_REQUESTED"
	EventReserveApproved    EventType = "RESERVE_APPROVED"
	EventReserveRejected    EventType = "RESERVE_REJECTED"
	EventCustodyIssued      EventType = "CUSTODY_ISSUED"
	EventCustodyOverdueRisk EventType = "CUSTODY_OVERDUE"
)

// OutboxEvent is one undelivered (or delivered) domain event row.
type OutboxEvent struct {
	ID          uuid.UUID
	Type        EventType
	Payload     json.RawMessage
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

// LowStockPayload announces that available general stock crossed under the
// reorder point.
type LowStockPayload struct {
	ItemID           int             `json:"item_id"`
	WarehouseID      int             `json:"warehouse_id"`
	AvailableGeneral decimal.Decimal `json:"available_general"`
	ReorderPoint     decimal.Decimal `json:"reorder_point"`
	Status           StockStatus     `json:"status"`
}

// ReserveLowPayload announces that the unallocated commander's reserve fell
// under its configured minimum.
type ReserveLowPayload struct {
	ItemID           int             `json:"item_id"`
	WarehouseID      int             `json:"warehouse_id"`
	AvailableReserve decimal.Decimal `json:"available_reserve"`
	MinimumRequired  decimal.Decimal `json:"minimum_required"`
}

// DocumentEventPayload carries the document facts collaborators need for
// audit and notification.
type DocumentEventPayload struct {
	DocumentID int            `json:"document_id"`
	Number     string         `json:"number,omitempty"`
	Type       DocumentType   `json:"type"`
	Status     DocumentStatus `json:"status"`
	ActorID    int            `json:"actor_id"`
	Reason     string         `json:"reason,omitempty"`
}

// ReserveEventPayload describes a commander's-reserve gate decision.
type ReserveEventPayload struct {
	ApprovalID int    `json:"approval_id"`
	DocumentID int    `json:"document_id"`
	LineID     int    `json:"line_id"`
	ActorID    int    `json:"actor_id"`
	Reason     string `json:"reason,omitempty"`
}

// CustodyEventPayload describes a custody issuance.
type CustodyEventPayload struct {
	CustodyID   int             `json:"custody_id"`
	WorkerID    int             `json:"worker_id"`
	ItemID      int             `json:"item_id"`
	WarehouseID int             `json:"warehouse_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	LimitDays   int             `json:"limit_days"`
}

// appendEventTx records a domain event inside the committing transaction.
// Events only become visible to the dispatcher when the business write
// commits, so collaborators never observe a rolled-back state.
func appendEventTx(ctx context.Context, tx pgx.Tx, eventType EventType, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (id, event_type, payload)
		VALUES ($1, $2, $3)
	`, uuid.New(), string(eventType), body); err != nil {
		return fmt.Errorf("append %s event: %w", eventType, err)
	}
	return nil
}
