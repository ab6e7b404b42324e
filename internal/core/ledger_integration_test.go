package core_test

import (
	"context"
	"os"
	"testing"

	"stores-engine/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	// Set TEST_DATABASE_URL in your .env or environment to run integration tests.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set — skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	schema, err := os.ReadFile("../../migrations/001_init.sql")
	if err != nil {
		t.Fatalf("Failed to read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		t.Fatalf("Failed to apply schema: %v", err)
	}

	// Clean every data table; role_rules keeps its migration seed.
	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE stock_movements, allocations, reserve_approvals, custody_records,
			stock_document_lines, stock_documents, outbox_events, inventory_records,
			document_sequences, workers, items, warehouses, factories CASCADE;

		INSERT INTO factories (id, code, name) VALUES (1, 'F01', 'North Factory');

		INSERT INTO warehouses (id, factory_id, code, name) VALUES
		(1, 1, 'MAIN', 'Main Store'),
		(2, 1, 'SITE', 'Site Store');

		INSERT INTO items (id, code, name, unit) VALUES
		(1, 'CEM-42', 'Cement 42.5', 'bag'),
		(2, 'RBR-12', 'Rebar 12mm', 'ton');

		INSERT INTO workers (id, code, full_name, department) VALUES
		(1, 'W001', 'Ahmed Hassan', 'Electrical'),
		(2, 'W002', 'Omar Said', 'Mechanical');

		SELECT setval('warehouses_id_seq', 10);
		SELECT setval('items_id_seq', 10);
		SELECT setval('workers_id_seq', 10);
		SELECT setval('factories_id_seq', 10);
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}

	return pool
}

var (
	storekeeper = core.Actor{ID: 10, Role: core.RoleStorekeeper}
	officer     = core.Actor{ID: 11, Role: core.RoleOfficer}
	manager     = core.Actor{ID: 12, Role: core.RoleManager}
	commander   = core.Actor{ID: 13, Role: core.RoleCommander}
)

// receive seeds stock through the ledger the way a goods receipt would.
func receive(t *testing.T, ctx context.Context, ledger core.InventoryLedger, itemID, warehouseID int, general, reserve int64) {
	t.Helper()
	_, err := ledger.ApplyDelta(ctx, core.LedgerDelta{
		ItemID:      itemID,
		WarehouseID: warehouseID,
		GeneralQty:  decimal.NewFromInt(general),
		ReserveQty:  decimal.NewFromInt(reserve),
		Movement:    core.MovementReceipt,
		Notes:       "test seed",
	}, storekeeper)
	if err != nil {
		t.Fatalf("seed receipt failed: %v", err)
	}
}

func countEvents(t *testing.T, ctx context.Context, pool *pgxpool.Pool, eventType core.EventType) int {
	t.Helper()
	var n int
	err := pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM outbox_events WHERE event_type = $1", string(eventType),
	).Scan(&n)
	if err != nil {
		t.Fatalf("count events failed: %v", err)
	}
	return n
}

func TestInventoryLedger_ReceiptCreatesRecord(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	ledger := core.NewInventoryLedger(pool)

	receive(t, ctx, ledger, 1, 1, 100, 20)

	rec, err := ledger.Get(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !rec.GeneralQty.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected general 100, got %s", rec.GeneralQty)
	}
	if !rec.ReserveQty.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Expected reserve 20, got %s", rec.ReserveQty)
	}
	if !rec.TotalQty().Equal(decimal.NewFromInt(120)) {
		t.Errorf("Expected total 120, got %s", rec.TotalQty())
	}
	if rec.Version != 1 {
		t.Errorf("Expected version 1 after first write, got %d", rec.Version)
	}

	var movements int
	if err := pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM stock_movements WHERE item_id = 1 AND warehouse_id = 1",
	).Scan(&movements); err != nil {
		t.Fatalf("count movements: %v", err)
	}
	if movements != 1 {
		t.Errorf("Expected 1 journal row, got %d", movements)
	}
}

func TestInventoryLedger_RejectsNegativeBalance(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	ledger := core.NewInventoryLedger(pool)

	receive(t, ctx, ledger, 1, 1, 50, 0)

	_, err := ledger.ApplyDelta(ctx, core.LedgerDelta{
		ItemID:      1,
		WarehouseID: 1,
		GeneralQty:  decimal.NewFromInt(-80),
		Movement:    core.MovementIssue,
	}, storekeeper)
	if err == nil {
		t.Fatal("Expected invariant violation, got nil")
	}

	rec, err := ledger.Get(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !rec.GeneralQty.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Balance must be unchanged after failed delta, got %s", rec.GeneralQty)
	}
	if rec.Version != 1 {
		t.Errorf("Version must be unchanged after failed delta, got %d", rec.Version)
	}
}

func TestInventoryLedger_LowStockEvent(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	ledger := core.NewInventoryLedger(pool)

	receive(t, ctx, ledger, 1, 1, 100, 0)
	if err := ledger.SetThresholds(ctx, 1, 1, decimal.NewFromInt(40), decimal.Zero, manager); err != nil {
		t.Fatalf("SetThresholds failed: %v", err)
	}

	// 100 -> 70 stays above the reorder point: no alert.
	if _, err := ledger.ApplyDelta(ctx, core.LedgerDelta{
		ItemID: 1, WarehouseID: 1,
		GeneralQty: decimal.NewFromInt(-30),
		Movement:   core.MovementIssue,
	}, storekeeper); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if n := countEvents(t, ctx, pool, core.EventLowStockAlert); n != 0 {
		t.Errorf("Expected no low stock alert yet, got %d", n)
	}

	// 70 -> 35 crosses under 40: exactly one alert.
	if _, err := ledger.ApplyDelta(ctx, core.LedgerDelta{
		ItemID: 1, WarehouseID: 1,
		GeneralQty: decimal.NewFromInt(-35),
		Movement:   core.MovementIssue,
	}, storekeeper); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if n := countEvents(t, ctx, pool, core.EventLowStockAlert); n != 1 {
		t.Errorf("Expected one low stock alert, got %d", n)
	}

	// Further decline while already low must not spam alerts.
	if _, err := ledger.ApplyDelta(ctx, core.LedgerDelta{
		ItemID: 1, WarehouseID: 1,
		GeneralQty: decimal.NewFromInt(-5),
		Movement:   core.MovementIssue,
	}, storekeeper); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if n := countEvents(t, ctx, pool, core.EventLowStockAlert); n != 1 {
		t.Errorf("Expected still one low stock alert, got %d", n)
	}
}

func TestInventoryLedger_ReserveLowEvent(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	ledger := core.NewInventoryLedger(pool)

	receive(t, ctx, ledger, 1, 1, 10, 50)
	if err := ledger.SetThresholds(ctx, 1, 1, decimal.Zero, decimal.NewFromInt(30), manager); err != nil {
		t.Fatalf("SetThresholds failed: %v", err)
	}

	if _, err := ledger.ApplyDelta(ctx, core.LedgerDelta{
		ItemID: 1, WarehouseID: 1,
		ReserveQty: decimal.NewFromInt(-25),
		Movement:   core.MovementIssue,
	}, storekeeper); err != nil {
		t.Fatalf("reserve issue failed: %v", err)
	}
	if n := countEvents(t, ctx, pool, core.EventReserveLow); n != 1 {
		t.Errorf("Expected one reserve low event, got %d", n)
	}
}

func TestInventoryLedger_StockLevels(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	ledger := core.NewInventoryLedger(pool)

	receive(t, ctx, ledger, 1, 1, 5, 0)
	receive(t, ctx, ledger, 2, 1, 500, 0)
	if err := ledger.SetThresholds(ctx, 1, 1, decimal.NewFromInt(10), decimal.Zero, manager); err != nil {
		t.Fatalf("SetThresholds failed: %v", err)
	}
	if err := ledger.SetThresholds(ctx, 2, 1, decimal.NewFromInt(50), decimal.Zero, manager); err != nil {
		t.Fatalf("SetThresholds failed: %v", err)
	}

	levels, err := ledger.GetStockLevels(ctx, 1)
	if err != nil {
		t.Fatalf("GetStockLevels failed: %v", err)
	}
	if len(levels) != 2 {
		t.Fatalf("Expected 2 levels, got %d", len(levels))
	}
	byItem := map[int]core.StockLevel{}
	for _, l := range levels {
		byItem[l.ItemID] = l
	}
	if byItem[1].Status != core.StockLow {
		t.Errorf("Item 1 expected LOW, got %s", byItem[1].Status)
	}
	if byItem[2].Status != core.StockOverstocked {
		t.Errorf("Item 2 expected OVERSTOCKED, got %s", byItem[2].Status)
	}
}
