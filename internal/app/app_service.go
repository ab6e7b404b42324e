package app

import (
	"context"
	"time"

	"stores-engine/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type appService struct {
	pool     *pgxpool.Pool
	ledger   core.InventoryLedger
	alloc    core.AllocationEngine
	workflow core.DocumentWorkflow
	gate     core.CommanderReserveGate
	custody  core.CustodyLedger
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(
	pool *pgxpool.Pool,
	ledger core.InventoryLedger,
	alloc core.AllocationEngine,
	workflow core.DocumentWorkflow,
	gate core.CommanderReserveGate,
	custody core.CustodyLedger,
) ApplicationService {
	return &appService{
		pool:     pool,
		ledger:   ledger,
		alloc:    alloc,
		workflow: workflow,
		gate:     gate,
		custody:  custody,
	}
}

// retry reruns fn once when the first attempt lost a serialization or
// deadlock race. Commands are state-guarded, so the rerun either finds the
// same precondition and succeeds, or fails with a clean transition error.
func retry[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	out, err := fn(ctx)
	if err != nil && core.IsRetryable(err) {
		return fn(ctx)
	}
	return out, err
}

// ── Documents ────────────────────────────────────────────────────────────────

func (s *appService) CreateDocument(ctx context.Context, req CreateDocumentRequest) (*DocumentResult, error) {
	lines := make([]core.LineInput, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = core.LineInput{
			ItemID:              l.ItemID,
			Quantity:            l.Quantity,
			UseCommanderReserve: l.UseCommanderReserve,
			ReserveQty:          l.ReserveQty,
		}
	}

	doc, err := s.workflow.CreateDraft(ctx, core.CreateDocumentInput{
		Type:            req.Type,
		Priority:        req.Priority,
		WarehouseID:     req.WarehouseID,
		DestWarehouseID: req.DestWarehouseID,
		ProjectCode:     req.ProjectCode,
		Notes:           req.Notes,
		Lines:           lines,
	}, req.Actor)
	if err != nil {
		return nil, err
	}
	return &DocumentResult{Document: doc}, nil
}

func (s *appService) SubmitDocument(ctx context.Context, documentID int, actor core.Actor) (*DocumentResult, error) {
	return s.docCommand(ctx, func(ctx context.Context) (*core.StockDocument, error) {
		return s.workflow.Submit(ctx, documentID, actor)
	})
}

func (s *appService) ApproveDocument(ctx context.Context, documentID int, notes string, actor core.Actor) (*DocumentResult, error) {
	return s.docCommand(ctx, func(ctx context.Context) (*core.StockDocument, error) {
		return s.workflow.Approve(ctx, documentID, notes, actor)
	})
}

func (s *appService) RejectDocument(ctx context.Context, documentID int, reason string, actor core.Actor) (*DocumentResult, error) {
	return s.docCommand(ctx, func(ctx context.Context) (*core.StockDocument, error) {
		return s.workflow.Reject(ctx, documentID, reason, actor)
	})
}

func (s *appService) ReserveDocumentStock(ctx context.Context, documentID int, actor core.Actor) (*DocumentResult, error) {
	return s.docCommand(ctx, func(ctx context.Context) (*core.StockDocument, error) {
		return s.workflow.ReserveStock(ctx, documentID, actor)
	})
}

func (s *appService) IssueDocument(ctx context.Context, documentID int, allowPartial bool, actor core.Actor) (*IssueDocumentResult, error) {
	res, err := retry(ctx, func(ctx context.Context) (*core.IssueResult, error) {
		return s.workflow.Issue(ctx, documentID, allowPartial, actor)
	})
	if err != nil {
		return nil, err
	}
	return &IssueDocumentResult{Document: res.Document, Outcome: res.Outcome}, nil
}

func (s *appService) ReceiveDocument(ctx context.Context, documentID int, actor core.Actor) (*DocumentResult, error) {
	return s.docCommand(ctx, func(ctx context.Context) (*core.StockDocument, error) {
		return s.workflow.Receive(ctx, documentID, actor)
	})
}

func (s *appService) CancelDocument(ctx context.Context, documentID int, reason string, actor core.Actor) (*DocumentResult, error) {
	return s.docCommand(ctx, func(ctx context.Context) (*core.StockDocument, error) {
		return s.workflow.Cancel(ctx, documentID, reason, actor)
	})
}

func (s *appService) GetDocument(ctx context.Context, documentID int) (*DocumentResult, error) {
	doc, err := s.workflow.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return &DocumentResult{Document: doc}, nil
}

func (s *appService) ListDocuments(ctx context.Context, filter core.DocumentFilter) (*DocumentListResult, error) {
	docs, err := s.workflow.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &DocumentListResult{Documents: docs}, nil
}

func (s *appService) docCommand(ctx context.Context, fn func(context.Context) (*core.StockDocument, error)) (*DocumentResult, error) {
	doc, err := retry(ctx, fn)
	if err != nil {
		return nil, err
	}
	return &DocumentResult{Document: doc}, nil
}

// ── Reserve gate ─────────────────────────────────────────────────────────────

func (s *appService) RequestReserveApproval(ctx context.Context, lineID int, actor core.Actor) (*ReserveApprovalResult, error) {
	approval, err := s.gate.RequestApproval(ctx, lineID, actor)
	if err != nil {
		return nil, err
	}
	return &ReserveApprovalResult{Approval: approval}, nil
}

func (s *appService) DecideReserveApproval(ctx context.Context, req DecideReserveRequest) (*ReserveApprovalResult, error) {
	var approval *core.ReserveApproval
	var err error
	if req.Approve {
		approval, err = s.gate.Approve(ctx, req.ApprovalID, req.Actor)
	} else {
		approval, err = s.gate.Reject(ctx, req.ApprovalID, req.Reason, req.Actor)
	}
	if err != nil {
		return nil, err
	}
	return &ReserveApprovalResult{Approval: approval}, nil
}

func (s *appService) ListPendingReserveApprovals(ctx context.Context) ([]core.ReserveApproval, error) {
	return s.gate.PendingApprovals(ctx)
}

// ── Inventory ────────────────────────────────────────────────────────────────

func (s *appService) CheckAvailability(ctx context.Context, itemID, warehouseID int) (*core.Availability, error) {
	return s.alloc.CheckAvailability(ctx, itemID, warehouseID)
}

func (s *appService) GetInventoryRecord(ctx context.Context, itemID, warehouseID int) (*core.InventoryRecord, error) {
	return s.ledger.Get(ctx, itemID, warehouseID)
}

func (s *appService) GetStockLevels(ctx context.Context, warehouseID int) (*StockLevelsResult, error) {
	levels, err := s.ledger.GetStockLevels(ctx, warehouseID)
	if err != nil {
		return nil, err
	}
	return &StockLevelsResult{WarehouseID: warehouseID, Levels: levels}, nil
}

func (s *appService) SetStockThresholds(ctx context.Context, req SetThresholdsRequest) error {
	return s.ledger.SetThresholds(ctx, req.ItemID, req.WarehouseID, req.ReorderPoint, req.MinReserve, req.Actor)
}

func (s *appService) AdjustStock(ctx context.Context, req AdjustStockRequest) (*core.InventoryRecord, error) {
	if !req.Actor.Role.Satisfies(core.RoleManager) {
		return nil, &core.UnauthorizedError{Action: "adjust stock", Role: req.Actor.Role, Required: core.RoleManager}
	}
	if req.GeneralQty.IsZero() && req.ReserveQty.IsZero() {
		return nil, &core.ValidationError{Messages: []string{"adjustment must move at least one pool"}}
	}
	return retry(ctx, func(ctx context.Context) (*core.InventoryRecord, error) {
		return s.ledger.ApplyDelta(ctx, core.LedgerDelta{
			ItemID:      req.ItemID,
			WarehouseID: req.WarehouseID,
			GeneralQty:  req.GeneralQty,
			ReserveQty:  req.ReserveQty,
			Movement:    core.MovementAdjustment,
			Notes:       req.Reason,
		}, req.Actor)
	})
}

// ── Custody ──────────────────────────────────────────────────────────────────

func (s *appService) IssueCustody(ctx context.Context, req IssueCustodyRequest) (*CustodyResult, error) {
	rec, err := retry(ctx, func(ctx context.Context) (*core.CustodyRecord, error) {
		return s.custody.Issue(ctx, core.CustodyIssueInput{
			WorkerID:    req.WorkerID,
			Department:  req.Department,
			ItemID:      req.ItemID,
			WarehouseID: req.WarehouseID,
			Qty:         req.Qty,
			LimitDays:   req.LimitDays,
		}, req.Actor)
	})
	if err != nil {
		return nil, err
	}
	return custodyResult(rec), nil
}

func (s *appService) ReturnCustody(ctx context.Context, custodyID int, qty decimal.Decimal, actor core.Actor) (*CustodyResult, error) {
	rec, err := retry(ctx, func(ctx context.Context) (*core.CustodyRecord, error) {
		return s.custody.Return(ctx, custodyID, qty, actor)
	})
	if err != nil {
		return nil, err
	}
	return custodyResult(rec), nil
}

func (s *appService) ConsumeCustody(ctx context.Context, custodyID int, qty decimal.Decimal, actor core.Actor) (*CustodyResult, error) {
	rec, err := retry(ctx, func(ctx context.Context) (*core.CustodyRecord, error) {
		return s.custody.Consume(ctx, custodyID, qty, actor)
	})
	if err != nil {
		return nil, err
	}
	return custodyResult(rec), nil
}

func (s *appService) TransferCustody(ctx context.Context, req TransferCustodyRequest) (*CustodyResult, error) {
	rec, err := s.custody.Transfer(ctx, req.CustodyID, req.ToWorkerID, req.ToDepartment, req.Actor)
	if err != nil {
		return nil, err
	}
	return custodyResult(rec), nil
}

func (s *appService) GetWorkerCustody(ctx context.Context, workerID int) ([]CustodyResult, error) {
	recs, err := s.custody.WorkerCustody(ctx, workerID)
	if err != nil {
		return nil, err
	}
	return custodyResults(recs), nil
}

func (s *appService) GetOverdueCustody(ctx context.Context) ([]CustodyResult, error) {
	recs, err := s.custody.Overdue(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	return custodyResults(recs), nil
}

func (s *appService) GetCustodyAging(ctx context.Context, warehouseID int, now time.Time) ([]core.CustodyAgingBucket, error) {
	return s.custody.AgingReport(ctx, warehouseID, now)
}

func custodyResults(recs []core.CustodyRecord) []CustodyResult {
	out := make([]CustodyResult, len(recs))
	for i := range recs {
		out[i] = *custodyResult(&recs[i])
	}
	return out
}
