package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ── Report types ──────────────────────────────────────────────────────────────

// ItemSummary aggregates every stock record of one item across locations.
// LowStock is true when total on-hand has fallen to or below the item's
// reorder point.
type ItemSummary struct {
	ItemCode     string          `json:"item_code"`
	ItemName     string          `json:"item_name"`
	Unit         string          `json:"unit"`
	OnHand       int64           `json:"on_hand"`
	Reserved     int64           `json:"reserved"`
	Available    int64           `json:"available"`
	StockValue   decimal.Decimal `json:"stock_value"` // Σ qty_on_hand × record unit_cost
	ReorderPoint int64           `json:"reorder_point"`
	LowStock     bool            `json:"low_stock"`
}

// ActivityLine is the transaction volume for one movement type in a period.
type ActivityLine struct {
	Type          TransactionType `json:"type"`
	Count         int64           `json:"count"`
	TotalQuantity int64           `json:"total_quantity"`
	TotalValue    decimal.Decimal `json:"total_value"`
}

// ── Interface ─────────────────────────────────────────────────────────────────

// ReportingService provides read-only projections over the stock records and
// the transaction log. It performs no mutation; results reflect whatever
// snapshot the underlying queries observe.
type ReportingService interface {
	// GetItemSummaries returns per-item totals across all locations,
	// ordered by item code. Items with no stock records appear with zeros.
	GetItemSummaries(ctx context.Context) ([]ItemSummary, error)

	// GetLowStockItems returns only the summaries whose total on-hand is at
	// or below the item's reorder point.
	GetLowStockItems(ctx context.Context) ([]ItemSummary, error)

	// GetActivity groups transactions by type within [fromDate, toDate]
	// (YYYY-MM-DD, empty string = no bound).
	GetActivity(ctx context.Context, fromDate, toDate string) ([]ActivityLine, error)

	// GetItemHistory returns an item's transactions in posting order.
	GetItemHistory(ctx context.Context, itemCode string) ([]StockTransaction, error)
}

// ── Implementation ────────────────────────────────────────────────────────────

type reportingService struct {
	pool *pgxpool.Pool
}

func NewReportingService(pool *pgxpool.Pool) ReportingService {
	return &reportingService{pool: pool}
}

const itemSummaryQuery = `
	SELECT i.code, i.name, i.unit,
	       COALESCE(SUM(sr.qty_on_hand), 0),
	       COALESCE(SUM(sr.qty_reserved), 0),
	       COALESCE(SUM(sr.qty_available), 0),
	       COALESCE(SUM(sr.qty_on_hand * sr.unit_cost), 0),
	       i.reorder_point
	FROM items i
	LEFT JOIN stock_records sr ON sr.item_id = i.id
	WHERE i.is_active = true
	GROUP BY i.id, i.code, i.name, i.unit, i.reorder_point
`

func (s *reportingService) GetItemSummaries(ctx context.Context) ([]ItemSummary, error) {
	return s.querySummaries(ctx, itemSummaryQuery+" ORDER BY i.code")
}

func (s *reportingService) GetLowStockItems(ctx context.Context) ([]ItemSummary, error) {
	return s.querySummaries(ctx, itemSummaryQuery+`
		HAVING COALESCE(SUM(sr.qty_on_hand), 0) <= i.reorder_point
		ORDER BY i.code`)
}

func (s *reportingService) querySummaries(ctx context.Context, query string) ([]ItemSummary, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query item summaries: %w", err)
	}
	defer rows.Close()

	var summaries []ItemSummary
	for rows.Next() {
		var sum ItemSummary
		if err := rows.Scan(
			&sum.ItemCode, &sum.ItemName, &sum.Unit,
			&sum.OnHand, &sum.Reserved, &sum.Available,
			&sum.StockValue, &sum.ReorderPoint,
		); err != nil {
			return nil, fmt.Errorf("failed to scan item summary: %w", err)
		}
		sum.LowStock = sum.OnHand <= sum.ReorderPoint
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func (s *reportingService) GetActivity(ctx context.Context, fromDate, toDate string) ([]ActivityLine, error) {
	query := `
		SELECT type, COUNT(*), COALESCE(SUM(quantity), 0), COALESCE(SUM(total_cost), 0)
		FROM stock_transactions
		WHERE 1=1
	`
	args := []any{}
	if fromDate != "" {
		args = append(args, fromDate)
		query += fmt.Sprintf(" AND created_at >= $%d::date", len(args))
	}
	if toDate != "" {
		args = append(args, toDate)
		query += fmt.Sprintf(" AND created_at < ($%d::date + INTERVAL '1 day')", len(args))
	}
	query += " GROUP BY type ORDER BY type"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	var lines []ActivityLine
	for rows.Next() {
		var line ActivityLine
		if err := rows.Scan(&line.Type, &line.Count, &line.TotalQuantity, &line.TotalValue); err != nil {
			return nil, fmt.Errorf("failed to scan activity line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (s *reportingService) GetItemHistory(ctx context.Context, itemCode string) ([]StockTransaction, error) {
	var itemID int
	if err := s.pool.QueryRow(ctx, "SELECT id FROM items WHERE code = $1", itemCode).Scan(&itemID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemCode)
		}
		return nil, fmt.Errorf("failed to resolve item %s: %w", itemCode, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, sequence_number, transaction_number, type, item_id, quantity,
		       unit_cost, total_cost, from_location_id, to_location_id,
		       lot_number, serial_number, expiration_date, stock_record_id,
		       paired_transaction_id, COALESCE(idempotency_key, ''), reason, notes,
		       performed_by, created_at
		FROM stock_transactions
		WHERE item_id = $1
		ORDER BY sequence_number
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query item history: %w", err)
	}
	defer rows.Close()

	var txns []StockTransaction
	for rows.Next() {
		var txn StockTransaction
		if err := rows.Scan(
			&txn.ID, &txn.SequenceNumber, &txn.TransactionNumber, &txn.Type, &txn.ItemID, &txn.Quantity,
			&txn.UnitCost, &txn.TotalCost, &txn.FromLocationID, &txn.ToLocationID,
			&txn.LotNumber, &txn.SerialNumber, &txn.ExpirationDate, &txn.StockRecordID,
			&txn.PairedTransactionID, &txn.IdempotencyKey, &txn.Reason, &txn.Notes,
			&txn.PerformedBy, &txn.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}
