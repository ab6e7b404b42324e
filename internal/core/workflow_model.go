package core

import "fmt"

// flowDirection says which way a document moves stock when it is executed.
type flowDirection int

const (
	flowOutbound flowDirection = iota // deducts from the source warehouse
	flowInbound                       // adds to the receiving warehouse
	flowSigned                        // line quantities carry their own sign
)

// typeSpec captures how one document flavor behaves once approved.
type typeSpec struct {
	direction       flowDirection
	requiresReceive bool // a receiving party must acknowledge before completion
	needsDest       bool
}

var docTypeSpecs = map[DocumentType]typeSpec{
	DocTypeRequisition: {direction: flowOutbound, requiresReceive: true},
	DocTypeTransfer:    {direction: flowOutbound, requiresReceive: true, needsDest: true},
	DocTypeProjectBOQ:  {direction: flowOutbound},
	DocTypeConsumption: {direction: flowOutbound},
	DocTypeReceipt:     {direction: flowInbound},
	DocTypeReturn:      {direction: flowInbound},
	DocTypeAdjustment:  {direction: flowSigned},
}

// receiptMovement is the inbound journal flavor for a document type.
func receiptMovement(t DocumentType) MovementType {
	if t == DocTypeAdjustment {
		return MovementAdjustment
	}
	return MovementReceipt
}

// CreateDocumentInput is the caller-supplied shape of a new draft.
type CreateDocumentInput struct {
	Type            DocumentType
	Priority        Priority
	WarehouseID     int
	DestWarehouseID *int
	ProjectCode     *string
	Notes           string
	Lines           []LineInput
}

// DocumentFilter narrows a document listing.
type DocumentFilter struct {
	WarehouseID *int
	Type        *DocumentType
	Status      *DocumentStatus
	Limit       int
}

func validateDraftInput(in CreateDocumentInput) error {
	var msgs []string
	spec, ok := docTypeSpecs[in.Type]
	if !ok {
		msgs = append(msgs, "unknown document type "+string(in.Type))
	}
	if in.WarehouseID <= 0 {
		msgs = append(msgs, "warehouse is required")
	}
	if ok && spec.needsDest && in.DestWarehouseID == nil {
		msgs = append(msgs, "transfer requires a destination warehouse")
	}
	if ok && spec.needsDest && in.DestWarehouseID != nil && *in.DestWarehouseID == in.WarehouseID {
		msgs = append(msgs, "transfer source and destination must differ")
	}
	for i, line := range in.Lines {
		if line.ItemID <= 0 {
			msgs = append(msgs, lineErr(i, "item is required"))
		}
		if in.Type == DocTypeAdjustment {
			if line.Quantity.IsZero() {
				msgs = append(msgs, lineErr(i, "adjustment quantity must be non-zero"))
			}
		} else if !line.Quantity.IsPositive() {
			msgs = append(msgs, lineErr(i, "quantity must be positive"))
		}
		if line.ReserveQty.IsNegative() {
			msgs = append(msgs, lineErr(i, "reserve quantity cannot be negative"))
		}
		if line.ReserveQty.IsPositive() && !line.UseCommanderReserve {
			msgs = append(msgs, lineErr(i, "reserve quantity set without the reserve flag"))
		}
	}
	if len(msgs) > 0 {
		return &ValidationError{Messages: msgs}
	}
	return nil
}

func lineErr(i int, msg string) string {
	return fmt.Sprintf("line %d: %s", i+1, msg)
}
