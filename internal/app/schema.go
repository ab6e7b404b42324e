package app

import (
	"github.com/invopop/jsonschema"
)

// CommandSchemas returns a JSON Schema per command request type, keyed by
// command name. Integration consumers use these to validate payloads before
// calling in.
func CommandSchemas() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return map[string]any{
		"create_document":         reflector.Reflect(CreateDocumentRequest{}),
		"decide_reserve_approval": reflector.Reflect(DecideReserveRequest{}),
		"set_stock_thresholds":    reflector.Reflect(SetThresholdsRequest{}),
		"adjust_stock":            reflector.Reflect(AdjustStockRequest{}),
		"issue_custody":           reflector.Reflect(IssueCustodyRequest{}),
		"transfer_custody":        reflector.Reflect(TransferCustodyRequest{}),
	}
}
