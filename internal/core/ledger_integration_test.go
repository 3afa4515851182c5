package core_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"medsupply/internal/core"
	"medsupply/internal/db"

	"github.com/google/uuid"
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
	t.Cleanup(pool.Close)

	if err := db.ApplyMigrations(ctx, pool, "../../migrations"); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	// Clean and seed test DB
	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE stock_transactions, stock_records, transaction_sequences, items, locations CASCADE;

		INSERT INTO locations (code, name, is_active) VALUES
		('CENTRAL', 'Central Supply',       true),
		('ED',      'Emergency Department', true),
		('ICU',     'Intensive Care',       true),
		('WARD',    'General Ward',         true),
		('CLOSED',  'Decommissioned Store', false);

		INSERT INTO items (code, name, unit, reorder_point, average_cost, last_cost) VALUES
		('GAUZE',   'Sterile Gauze 4x4', 'BOX', 20, 2.50, 2.50),
		('SYRINGE', 'Syringe 10ml',      'EA',  50, 0.30, 0.30);

		INSERT INTO items (code, name, unit, is_lot_tracked, has_expiry, average_cost) VALUES
		('AMOX', 'Amoxicillin 500mg', 'BTL', true, true, 8.00);

		INSERT INTO items (code, name, unit, is_serialized, average_cost) VALUES
		('PUMP', 'Infusion Pump', 'EA', true, 1200.00);
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}

	return pool
}

func newServices(t *testing.T) (*core.Ledger, core.StockService, *pgxpool.Pool, context.Context) {
	t.Helper()
	pool := setupTestDB(t)
	ledger := core.NewLedger(pool)
	stock := core.NewStockService(pool, ledger)
	return ledger, stock, pool, context.Background()
}

type recordState struct {
	exists    bool
	onHand    int64
	reserved  int64
	available int64
}

// getRecord fetches the stock record at (item, location) with no lot/serial key.
func getRecord(t *testing.T, ctx context.Context, pool *pgxpool.Pool, itemCode, locCode string) recordState {
	t.Helper()
	return getRecordLot(t, ctx, pool, itemCode, locCode, "")
}

func getRecordLot(t *testing.T, ctx context.Context, pool *pgxpool.Pool, itemCode, locCode, lot string) recordState {
	t.Helper()
	var st recordState
	err := pool.QueryRow(ctx, `
		SELECT sr.qty_on_hand, sr.qty_reserved, sr.qty_available
		FROM stock_records sr
		JOIN items i     ON i.id = sr.item_id
		JOIN locations l ON l.id = sr.location_id
		WHERE i.code = $1 AND l.code = $2
		  AND sr.lot_number IS NOT DISTINCT FROM NULLIF($3, '')
		  AND sr.serial_number IS NULL
	`, itemCode, locCode, lot).Scan(&st.onHand, &st.reserved, &st.available)
	if err == nil {
		st.exists = true
	}
	return st
}

// totalOnHand sums an item's on-hand across every location and lot.
func totalOnHand(t *testing.T, ctx context.Context, pool *pgxpool.Pool, itemCode string) int64 {
	t.Helper()
	var total int64
	err := pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(sr.qty_on_hand), 0)
		FROM stock_records sr
		JOIN items i ON i.id = sr.item_id
		WHERE i.code = $1
	`, itemCode).Scan(&total)
	if err != nil {
		t.Fatalf("Failed to sum on-hand for %s: %v", itemCode, err)
	}
	return total
}

func countTransactions(t *testing.T, ctx context.Context, pool *pgxpool.Pool) int64 {
	t.Helper()
	var n int64
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM stock_transactions").Scan(&n); err != nil {
		t.Fatalf("Failed to count transactions: %v", err)
	}
	return n
}

// receive posts a plain RECEIPT and fails the test on error.
func receive(t *testing.T, ctx context.Context, ledger *core.Ledger, itemCode, locCode string, qty int64) *core.StockTransaction {
	t.Helper()
	txn, err := ledger.Post(ctx, core.PostInput{
		Type:           core.TypeReceipt,
		ItemCode:       itemCode,
		ToLocationCode: locCode,
		Quantity:       qty,
		PerformedBy:    "clerk-1",
	})
	if err != nil {
		t.Fatalf("RECEIPT of %d %s into %s failed: %v", qty, itemCode, locCode, err)
	}
	return txn
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestPost_ReceiptCreatesRecord(t *testing.T) {
	ledger, _, pool, ctx := newServices(t)

	txn := receive(t, ctx, ledger, "GAUZE", "CENTRAL", 100)

	if txn.TransactionNumber != "TXN-000001" {
		t.Errorf("Expected transaction number TXN-000001, got %s", txn.TransactionNumber)
	}
	if txn.Type != core.TypeReceipt || txn.Quantity != 100 {
		t.Errorf("Unexpected transaction: type=%s quantity=%d", txn.Type, txn.Quantity)
	}
	if !txn.UnitCost.Equal(decimal.NewFromFloat(2.50)) {
		t.Errorf("Expected unit cost 2.50 (item average), got %s", txn.UnitCost)
	}
	if !txn.TotalCost.Equal(decimal.NewFromInt(250)) {
		t.Errorf("Expected total cost 250, got %s", txn.TotalCost)
	}
	if txn.StockRecordID == nil {
		t.Error("Expected a stock record back-reference on the transaction")
	}

	st := getRecord(t, ctx, pool, "GAUZE", "CENTRAL")
	if !st.exists || st.onHand != 100 || st.available != 100 {
		t.Errorf("Expected on_hand=100, available=100; got %+v", st)
	}
}

func TestPost_IssueReducesRecord(t *testing.T) {
	ledger, _, pool, ctx := newServices(t)
	receive(t, ctx, ledger, "GAUZE", "CENTRAL", 100)

	txn, err := ledger.Post(ctx, core.PostInput{
		Type:             core.TypeIssue,
		ItemCode:         "GAUZE",
		FromLocationCode: "CENTRAL",
		Quantity:         40,
		PerformedBy:      "nurse-7",
	})
	if err != nil {
		t.Fatalf("ISSUE failed: %v", err)
	}
	if txn.Type != core.TypeIssue || txn.Quantity != 40 {
		t.Errorf("Unexpected transaction: type=%s quantity=%d", txn.Type, txn.Quantity)
	}

	st := getRecord(t, ctx, pool, "GAUZE", "CENTRAL")
	if st.onHand != 60 || st.available != 60 {
		t.Errorf("Expected on_hand=60, available=60; got %+v", st)
	}
}

func TestPost_IssueExactlyAvailableRemovesRecord(t *testing.T) {
	ledger, _, pool, ctx := newServices(t)
	receive(t, ctx, ledger, "GAUZE", "ED", 5)

	_, err := ledger.Post(ctx, core.PostInput{
		Type:             core.TypeIssue,
		ItemCode:         "GAUZE",
		FromLocationCode: "ED",
		Quantity:         5,
		PerformedBy:      "nurse-7",
	})
	if err != nil {
		t.Fatalf("ISSUE of exactly available failed: %v", err)
	}

	if st := getRecord(t, ctx, pool, "GAUZE", "ED"); st.exists {
		t.Errorf("Expected drained record to be removed, got %+v", st)
	}

	// A further issue finds no record at the key.
	_, err = ledger.Post(ctx, core.PostInput{
		Type:             core.TypeIssue,
		ItemCode:         "GAUZE",
		FromLocationCode: "ED",
		Quantity:         1,
		PerformedBy:      "nurse-7",
	})
	if !errors.Is(err, core.ErrStockRecordNotFound) {
		t.Errorf("Expected ErrStockRecordNotFound, got %v", err)
	}
}

func TestPost_InsufficientStock(t *testing.T) {
	ledger, _, pool, ctx := newServices(t)
	receive(t, ctx, ledger, "SYRINGE", "WARD", 5)
	before := countTransactions(t, ctx, pool)

	_, err := ledger.Post(ctx, core.PostInput{
		Type:             core.TypeIssue,
		ItemCode:         "SYRINGE",
		FromLocationCode: "WARD",
		Quantity:         10,
		PerformedBy:      "nurse-7",
	})
	if !errors.Is(err, core.ErrInsufficientStock) {
		t.Fatalf("Expected ErrInsufficientStock, got %v", err)
	}

	var insufficientErr *core.InsufficientStockError
	if !errors.As(err, &insufficientErr) {
		t.Fatalf("Expected *InsufficientStockError, got %T", err)
	}
	if insufficientErr.Available != 5 || insufficientErr.Requested != 10 {
		t.Errorf("Expected available=5, requested=10; got %+v", insufficientErr)
	}

	// No partial effect: record and log are untouched.
	if st := getRecord(t, ctx, pool, "SYRINGE", "WARD"); st.onHand != 5 {
		t.Errorf("Expected record untouched at on_hand=5, got %+v", st)
	}
	if after := countTransactions(t, ctx, pool); after != before {
		t.Errorf("Expected no transaction logged, count went %d -> %d", before, after)
	}
}

func TestPost_ReceiptThenIssueRoundTrip(t *testing.T) {
	ledger, _, pool, ctx := newServices(t)

	receive(t, ctx, ledger, "GAUZE", "ICU", 30)
	_, err := ledger.Post(ctx, core.PostInput{
		Type:             core.TypeIssue,
		ItemCode:         "GAUZE",
		FromLocationCode: "ICU",
		Quantity:         30,
		PerformedBy:      "nurse-7",
	})
	if err != nil {
		t.Fatalf("ISSUE failed: %v", err)
	}

	// The key returns to its pre-receipt state: no record at all.
	if st := getRecord(t, ctx, pool, "GAUZE", "ICU"); st.exists {
		t.Errorf("Expected no record after round trip, got %+v", st)
	}
}

func TestPost_InvalidQuantity(t *testing.T) {
	ledger, _, _, ctx := newServices(t)

	for _, qty := range []int64{0, -5} {
		_, err := ledger.Post(ctx, core.PostInput{
			Type:           core.TypeReceipt,
			ItemCode:       "GAUZE",
			ToLocationCode: "CENTRAL",
			Quantity:       qty,
			PerformedBy:    "clerk-1",
		})
		if !errors.Is(err, core.ErrInvalidQuantity) {
			t.Errorf("Quantity %d: expected ErrInvalidQuantity, got %v", qty, err)
		}
	}
}

func TestPost_MissingLocationForType(t *testing.T) {
	ledger, _, _, ctx := newServices(t)

	_, err := ledger.Post(ctx, core.PostInput{
		Type:        core.TypeIssue,
		ItemCode:    "GAUZE",
		Quantity:    1,
		PerformedBy: "nurse-7",
	})
	if !errors.Is(err, core.ErrMissingLocation) {
		t.Errorf("ISSUE without source: expected ErrMissingLocation, got %v", err)
	}

	_, err = ledger.Post(ctx, core.PostInput{
		Type:        core.TypeReceipt,
		ItemCode:    "GAUZE",
		Quantity:    1,
		PerformedBy: "clerk-1",
	})
	if !errors.Is(err, core.ErrMissingLocation) {
		t.Errorf("RECEIPT without destination: expected ErrMissingLocation, got %v", err)
	}
}

func TestPost_UnknownItemAndLocation(t *testing.T) {
	ledger, _, _, ctx := newServices(t)

	_, err := ledger.Post(ctx, core.PostInput{
		Type:           core.TypeReceipt,
		ItemCode:       "NO-SUCH-ITEM",
		ToLocationCode: "CENTRAL",
		Quantity:       1,
		PerformedBy:    "clerk-1",
	})
	if !errors.Is(err, core.ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}

	_, err = ledger.Post(ctx, core.PostInput{
		Type:           core.TypeReceipt,
		ItemCode:       "GAUZE",
		ToLocationCode: "NO-SUCH-LOC",
		Quantity:       1,
		PerformedBy:    "clerk-1",
	})
	if !errors.Is(err, core.ErrLocationNotFound) {
		t.Errorf("Expected ErrLocationNotFound, got %v", err)
	}

	_, err = ledger.Post(ctx, core.PostInput{
		Type:           core.TypeReceipt,
		ItemCode:       "GAUZE",
		ToLocationCode: "CLOSED",
		Quantity:       1,
		PerformedBy:    "clerk-1",
	})
	if !errors.Is(err, core.ErrLocationInactive) {
		t.Errorf("Expected ErrLocationInactive, got %v", err)
	}
}

func TestPost_LotAndSerialRules(t *testing.T) {
	ledger, _, _, ctx := newServices(t)

	// Lot-tracked item without a lot number
	_, err := ledger.Post(ctx, core.PostInput{
		Type:           core.TypeReceipt,
		ItemCode:       "AMOX",
		ToLocationCode: "CENTRAL",
		Quantity:       10,
		PerformedBy:    "clerk-1",
	})
	if !errors.Is(err, core.ErrLotRequired) {
		t.Errorf("Expected ErrLotRequired, got %v", err)
	}

	// Serialized item without a serial number
	_, err = ledger.Post(ctx, core.PostInput{
		Type:           core.TypeReceipt,
		ItemCode:       "PUMP",
		ToLocationCode: "CENTRAL",
		Quantity:       1,
		PerformedBy:    "clerk-1",
	})
	if !errors.Is(err, core.ErrSerialRequired) {
		t.Errorf("Expected ErrSerialRequired, got %v", err)
	}

	// Serialized item moving more than one unit
	_, err = ledger.Post(ctx, core.PostInput{
		Type:           core.TypeReceipt,
		ItemCode:       "PUMP",
		ToLocationCode: "CENTRAL",
		SerialNumber:   "SN-1001",
		Quantity:       2,
		PerformedBy:    "clerk-1",
	})
	if !errors.Is(err, core.ErrInvalidQuantity) {
		t.Errorf("Expected ErrInvalidQuantity for serialized qty 2, got %v", err)
	}

	// Valid serialized receipt
	_, err = ledger.Post(ctx, core.PostInput{
		Type:           core.TypeReceipt,
		ItemCode:       "PUMP",
		ToLocationCode: "CENTRAL",
		SerialNumber:   "SN-1001",
		Quantity:       1,
		PerformedBy:    "clerk-1",
	})
	if err != nil {
		t.Errorf("Valid serialized receipt failed: %v", err)
	}
}

func TestPost_LotsAreSeparateRecords(t *testing.T) {
	ledger, _, pool, ctx := newServices(t)

	for lot, qty := range map[string]int64{"L-A": 10, "L-B": 5} {
		_, err := ledger.Post(ctx, core.PostInput{
			Type:           core.TypeReceipt,
			ItemCode:       "AMOX",
			ToLocationCode: "CENTRAL",
			LotNumber:      lot,
			Quantity:       qty,
			PerformedBy:    "clerk-1",
		})
		if err != nil {
			t.Fatalf("RECEIPT of lot %s failed: %v", lot, err)
		}
	}

	_, err := ledger.Post(ctx, core.PostInput{
		Type:             core.TypeIssue,
		ItemCode:         "AMOX",
		FromLocationCode: "CENTRAL",
		LotNumber:        "L-A",
		Quantity:         10,
		PerformedBy:      "nurse-7",
	})
	if err != nil {
		t.Fatalf("ISSUE of lot L-A failed: %v", err)
	}

	if st := getRecordLot(t, ctx, pool, "AMOX", "CENTRAL", "L-A"); st.exists {
		t.Errorf("Expected lot L-A record removed, got %+v", st)
	}
	if st := getRecordLot(t, ctx, pool, "AMOX", "CENTRAL", "L-B"); !st.exists || st.onHand != 5 {
		t.Errorf("Expected lot L-B untouched at 5, got %+v", st)
	}
}

func TestPost_SequenceNumbersAreGapless(t *testing.T) {
	ledger, _, pool, ctx := newServices(t)

	for i := 1; i <= 3; i++ {
		txn := receive(t, ctx, ledger, "GAUZE", "CENTRAL", 10)
		expected := fmt.Sprintf("TXN-%06d", i)
		if txn.TransactionNumber != expected {
			t.Errorf("Posting %d: expected %s, got %s", i, expected, txn.TransactionNumber)
		}
	}

	// A failed posting rolls back its counter bump: the next success
	// continues the sequence with no gap.
	_, err := ledger.Post(ctx, core.PostInput{
		Type:             core.TypeIssue,
		ItemCode:         "GAUZE",
		FromLocationCode: "CENTRAL",
		Quantity:         1_000_000,
		PerformedBy:      "nurse-7",
	})
	if !errors.Is(err, core.ErrInsufficientStock) {
		t.Fatalf("Expected failing issue, got %v", err)
	}

	txn := receive(t, ctx, ledger, "GAUZE", "CENTRAL", 10)
	if txn.TransactionNumber != "TXN-000004" {
		t.Errorf("Expected TXN-000004 after a rolled-back posting, got %s", txn.TransactionNumber)
	}

	var distinct, total int64
	if err := pool.QueryRow(ctx,
		"SELECT COUNT(DISTINCT sequence_number), COUNT(*) FROM stock_transactions").Scan(&distinct, &total); err != nil {
		t.Fatalf("Failed to check sequence numbers: %v", err)
	}
	if distinct != total || total != 4 {
		t.Errorf("Expected 4 distinct sequence numbers, got distinct=%d total=%d", distinct, total)
	}
}

func TestPost_IdempotencyKey(t *testing.T) {
	ledger, _, _, ctx := newServices(t)

	key := uuid.NewString()
	in := core.PostInput{
		Type:           core.TypeReceipt,
		ItemCode:       "GAUZE",
		ToLocationCode: "CENTRAL",
		Quantity:       10,
		IdempotencyKey: key,
		PerformedBy:    "clerk-1",
	}

	if _, err := ledger.Post(ctx, in); err != nil {
		t.Fatalf("First post failed: %v", err)
	}
	_, err := ledger.Post(ctx, in)
	if !errors.Is(err, core.ErrDuplicateTransaction) {
		t.Errorf("Expected ErrDuplicateTransaction on retry, got %v", err)
	}
}

func TestPost_ReceiptCostAveraging(t *testing.T) {
	ledger, _, pool, ctx := newServices(t)

	// GAUZE starts at average 2.50. A receipt at 4.50 moves the average to
	// (2.50 + 4.50) / 2 = 3.50 regardless of quantity.
	override := decimal.NewFromFloat(4.50)
	txn, err := ledger.Post(ctx, core.PostInput{
		Type:           core.TypeReceipt,
		ItemCode:       "GAUZE",
		ToLocationCode: "CENTRAL",
		Quantity:       1000,
		UnitCost:       &override,
		PerformedBy:    "clerk-1",
	})
	if err != nil {
		t.Fatalf("RECEIPT with cost override failed: %v", err)
	}
	if !txn.UnitCost.Equal(override) {
		t.Errorf("Expected transaction unit cost 4.50, got %s", txn.UnitCost)
	}

	var avg, last decimal.Decimal
	if err := pool.QueryRow(ctx,
		"SELECT average_cost, last_cost FROM items WHERE code = 'GAUZE'").Scan(&avg, &last); err != nil {
		t.Fatalf("Failed to read item costs: %v", err)
	}
	if !avg.Equal(decimal.NewFromFloat(3.50)) {
		t.Errorf("Expected average cost 3.50, got %s", avg)
	}
	if !last.Equal(override) {
		t.Errorf("Expected last cost 4.50, got %s", last)
	}
}

func TestPost_ReceiptDefaultsToAverageCost(t *testing.T) {
	ledger, _, _, ctx := newServices(t)

	txn := receive(t, ctx, ledger, "SYRINGE", "ED", 200)
	if !txn.UnitCost.Equal(decimal.NewFromFloat(0.30)) {
		t.Errorf("Expected unit cost 0.30 (item average), got %s", txn.UnitCost)
	}
	if !txn.TotalCost.Equal(decimal.NewFromInt(60)) {
		t.Errorf("Expected total cost 60, got %s", txn.TotalCost)
	}
}

func TestPost_AvailableInvariantHolds(t *testing.T) {
	ledger, stock, pool, ctx := newServices(t)

	receive(t, ctx, ledger, "GAUZE", "CENTRAL", 50)
	receive(t, ctx, ledger, "SYRINGE", "CENTRAL", 80)
	if err := stock.Reserve(ctx, core.ReserveInput{
		ItemCode: "GAUZE", LocationCode: "CENTRAL", Quantity: 20,
	}); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	var violations int64
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM stock_records
		WHERE qty_available <> qty_on_hand - qty_reserved
		   OR qty_on_hand < 0 OR qty_reserved < 0
	`).Scan(&violations)
	if err != nil {
		t.Fatalf("Invariant query failed: %v", err)
	}
	if violations != 0 {
		t.Errorf("Found %d records violating quantity invariants", violations)
	}
}
