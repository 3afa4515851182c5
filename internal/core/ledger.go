package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// LedgerService validates and applies stock movements. Every posting is one
// atomic unit: the stock-record mutation and the appended log entry are
// durably visible together or not at all.
type LedgerService interface {
	// Post applies a single movement in its own transaction.
	Post(ctx context.Context, in PostInput) (*StockTransaction, error)
	// PostTx applies a movement within a caller-provided transaction. Used by
	// StockService to keep composite operations (transfers) atomic.
	PostTx(ctx context.Context, tx pgx.Tx, in PostInput) (*StockTransaction, error)
}

type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

func (l *Ledger) Post(ctx context.Context, in PostInput) (*StockTransaction, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	txn, err := l.postInTx(ctx, tx, in)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit posting: %w", err)
	}
	return txn, nil
}

func (l *Ledger) PostTx(ctx context.Context, tx pgx.Tx, in PostInput) (*StockTransaction, error) {
	return l.postInTx(ctx, tx, in)
}

// postInTx validates the requested movement, mutates the stock record, and
// appends the log entry, all against the provided transaction. Nothing is
// written until every precondition has passed.
func (l *Ledger) postInTx(ctx context.Context, tx pgx.Tx, in PostInput) (*StockTransaction, error) {
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, in.Type)
	}
	if strings.TrimSpace(in.PerformedBy) == "" {
		return nil, ErrActorRequired
	}
	if in.Type.Reconciling() {
		if in.Quantity < 0 {
			return nil, fmt.Errorf("%w: target on-hand %d", ErrInvalidQuantity, in.Quantity)
		}
		if strings.TrimSpace(in.Reason) == "" {
			return nil, fmt.Errorf("%w for %s", ErrReasonRequired, in.Type)
		}
	} else if in.Quantity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidQuantity, in.Quantity)
	}

	item, err := resolveItem(ctx, tx, in.ItemCode)
	if err != nil {
		return nil, err
	}

	var fromLoc, toLoc *Location
	if in.FromLocationCode != "" {
		if fromLoc, err = resolveLocation(ctx, tx, in.FromLocationCode); err != nil {
			return nil, err
		}
	}
	if in.ToLocationCode != "" {
		if toLoc, err = resolveLocation(ctx, tx, in.ToLocationCode); err != nil {
			return nil, err
		}
	}

	switch {
	case in.Type.Outbound() && fromLoc == nil:
		return nil, fmt.Errorf("%w: %s requires a source location", ErrMissingLocation, in.Type)
	case in.Type.Inbound() && toLoc == nil:
		return nil, fmt.Errorf("%w: %s requires a destination location", ErrMissingLocation, in.Type)
	case in.Type.Reconciling() && fromLoc == nil && toLoc == nil:
		return nil, fmt.Errorf("%w: %s requires a location", ErrMissingLocation, in.Type)
	}

	if !in.Type.Reconciling() {
		if item.IsLotTracked && in.LotNumber == "" {
			return nil, fmt.Errorf("%w (item %s)", ErrLotRequired, item.Code)
		}
		if item.IsSerialized {
			if in.SerialNumber == "" {
				return nil, fmt.Errorf("%w (item %s)", ErrSerialRequired, item.Code)
			}
			if in.Quantity != 1 {
				return nil, fmt.Errorf("%w: serialized items move one unit at a time", ErrInvalidQuantity)
			}
		}
	}

	lot := nullable(in.LotNumber)
	serial := nullable(in.SerialNumber)

	var (
		recordID       *int
		fromLocationID *int
		toLocationID   *int
		unitCost       decimal.Decimal
		quantity       = in.Quantity
		notes          = in.Notes
		expiration     = in.ExpirationDate
	)
	if fromLoc != nil {
		fromLocationID = &fromLoc.ID
	}
	if toLoc != nil {
		toLocationID = &toLoc.ID
	}

	switch {
	case in.Type.Inbound():
		recordID, unitCost, err = l.applyInbound(ctx, tx, item, toLoc, lot, serial, in)
	case in.Type.Outbound():
		var recordExp *time.Time
		recordID, unitCost, recordExp, err = l.applyOutbound(ctx, tx, item, fromLoc, lot, serial, in)
		if expiration == nil {
			expiration = recordExp
		}
	default:
		loc := toLoc
		if loc == nil {
			loc = fromLoc
		}
		var delta int64
		recordID, unitCost, quantity, delta, notes, err = l.applyReconcile(ctx, tx, item, loc, in)
		// Record the counted location in the role matching the movement's
		// effective direction.
		fromLocationID, toLocationID = nil, nil
		if delta > 0 {
			toLocationID = &loc.ID
		} else {
			fromLocationID = &loc.ID
		}
	}
	if err != nil {
		return nil, err
	}

	seq, err := nextSequence(ctx, tx, "stock_transactions")
	if err != nil {
		return nil, err
	}

	txn := &StockTransaction{
		SequenceNumber:      seq,
		TransactionNumber:   fmt.Sprintf("TXN-%06d", seq),
		Type:                in.Type,
		ItemID:              item.ID,
		Quantity:            quantity,
		UnitCost:            unitCost,
		TotalCost:           unitCost.Mul(decimal.NewFromInt(quantity)),
		FromLocationID:      fromLocationID,
		ToLocationID:        toLocationID,
		LotNumber:           lot,
		SerialNumber:        serial,
		ExpirationDate:      expiration,
		StockRecordID:       recordID,
		PairedTransactionID: in.PairedTransactionID,
		IdempotencyKey:      in.IdempotencyKey,
		Reason:              in.Reason,
		Notes:               notes,
		PerformedBy:         in.PerformedBy,
	}

	if err := insertTransaction(ctx, tx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// applyInbound creates or increments the destination stock record. The
// expiration date is stamped only when the record is created.
func (l *Ledger) applyInbound(ctx context.Context, tx pgx.Tx, item *Item, loc *Location,
	lot, serial *string, in PostInput) (*int, decimal.Decimal, error) {

	unitCost := item.AverageCost
	if in.UnitCost != nil {
		unitCost = *in.UnitCost
	}

	// The upsert row-locks the record whether it inserts or updates, so the
	// increment below needs no separate SELECT ... FOR UPDATE.
	var recordID int
	err := tx.QueryRow(ctx, `
		INSERT INTO stock_records (item_id, location_id, lot_number, serial_number, qty_on_hand, qty_reserved, unit_cost, expiration_date)
		VALUES ($1, $2, $3, $4, 0, 0, $5, $6)
		ON CONFLICT (item_id, location_id, COALESCE(lot_number, ''), COALESCE(serial_number, '')) DO UPDATE SET updated_at = NOW()
		RETURNING id
	`, item.ID, loc.ID, lot, serial, unitCost, in.ExpirationDate).Scan(&recordID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, decimal.Zero, fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
		}
		return nil, decimal.Zero, fmt.Errorf("failed to upsert stock record: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE stock_records
		SET qty_on_hand = qty_on_hand + $1, unit_cost = $2, updated_at = NOW()
		WHERE id = $3
	`, in.Quantity, unitCost, recordID)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("failed to increment stock record: %w", err)
	}

	// Receipts with an explicit cost restate the item's cost basis using the
	// documented two-point moving average: (old average + new cost) / 2.
	if in.Type == TypeReceipt && in.UnitCost != nil {
		_, err = tx.Exec(ctx, `
			UPDATE items
			SET last_cost = $1, average_cost = (average_cost + $1) / 2, updated_at = NOW()
			WHERE id = $2
		`, unitCost, item.ID)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("failed to update item cost basis: %w", err)
		}
	}

	return &recordID, unitCost, nil
}

// applyOutbound debits the exact (item, location, lot, serial) record, failing
// before any write when on-hand is short. Records drained to zero on-hand and
// zero reserved are removed. The record's expiration date is returned so the
// log entry keeps it even after the record itself is deleted.
func (l *Ledger) applyOutbound(ctx context.Context, tx pgx.Tx, item *Item, loc *Location,
	lot, serial *string, in PostInput) (*int, decimal.Decimal, *time.Time, error) {

	var (
		recordID         int
		onHand, reserved int64
		recordCost       decimal.Decimal
		expiration       *time.Time
	)
	err := tx.QueryRow(ctx, `
		SELECT id, qty_on_hand, qty_reserved, unit_cost, expiration_date
		FROM stock_records
		WHERE item_id = $1 AND location_id = $2
		  AND lot_number IS NOT DISTINCT FROM $3
		  AND serial_number IS NOT DISTINCT FROM $4
		FOR UPDATE
	`, item.ID, loc.ID, lot, serial).Scan(&recordID, &onHand, &reserved, &recordCost, &expiration)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, decimal.Zero, nil, fmt.Errorf("%w: item %s at %s", ErrStockRecordNotFound, item.Code, loc.Code)
		}
		return nil, decimal.Zero, nil, fmt.Errorf("failed to lock stock record: %w", err)
	}

	if onHand < in.Quantity {
		return nil, decimal.Zero, nil, &InsufficientStockError{
			ItemCode:     item.Code,
			LocationCode: loc.Code,
			Available:    onHand,
			Requested:    in.Quantity,
		}
	}

	unitCost := recordCost
	if in.UnitCost != nil {
		unitCost = *in.UnitCost
	}

	newOnHand := onHand - in.Quantity
	if newOnHand == 0 && reserved == 0 {
		if _, err := tx.Exec(ctx, "DELETE FROM stock_records WHERE id = $1", recordID); err != nil {
			return nil, decimal.Zero, nil, fmt.Errorf("failed to remove drained stock record: %w", err)
		}
	} else {
		_, err := tx.Exec(ctx,
			"UPDATE stock_records SET qty_on_hand = $1, updated_at = NOW() WHERE id = $2",
			newOnHand, recordID)
		if err != nil {
			return nil, decimal.Zero, nil, fmt.Errorf("failed to decrement stock record: %w", err)
		}
	}

	return &recordID, unitCost, expiration, nil
}

// applyReconcile sets the on-hand quantity at an (item, location) pair to an
// absolute target. Counts are location-level: the lot/serial key is ignored
// and the first record for the pair is the one reconciled.
func (l *Ledger) applyReconcile(ctx context.Context, tx pgx.Tx, item *Item, loc *Location,
	in PostInput) (*int, decimal.Decimal, int64, int64, string, error) {

	target := in.Quantity

	var (
		recordID   int
		onHand     int64
		reserved   int64
		recordCost decimal.Decimal
		exists     = true
	)
	err := tx.QueryRow(ctx, `
		SELECT id, qty_on_hand, qty_reserved, unit_cost
		FROM stock_records
		WHERE item_id = $1 AND location_id = $2
		ORDER BY id
		LIMIT 1
		FOR UPDATE
	`, item.ID, loc.ID).Scan(&recordID, &onHand, &reserved, &recordCost)
	if errors.Is(err, pgx.ErrNoRows) {
		exists = false
		onHand, reserved, recordCost = 0, 0, item.AverageCost
	} else if err != nil {
		return nil, decimal.Zero, 0, 0, "", fmt.Errorf("failed to lock stock record: %w", err)
	}

	delta := target - onHand
	if delta == 0 {
		return nil, decimal.Zero, 0, 0, "", fmt.Errorf("%w (item %s at %s, on-hand %d)",
			ErrNothingToAdjust, item.Code, loc.Code, onHand)
	}

	unitCost := recordCost
	if in.UnitCost != nil {
		unitCost = *in.UnitCost
	}

	switch {
	case !exists:
		err = tx.QueryRow(ctx, `
			INSERT INTO stock_records (item_id, location_id, qty_on_hand, qty_reserved, unit_cost)
			VALUES ($1, $2, $3, 0, $4)
			RETURNING id
		`, item.ID, loc.ID, target, unitCost).Scan(&recordID)
		if err != nil {
			if isUniqueViolation(err) {
				err = fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
			} else {
				err = fmt.Errorf("failed to create stock record: %w", err)
			}
			return nil, decimal.Zero, 0, 0, "", err
		}
	case target == 0 && reserved == 0:
		if _, err := tx.Exec(ctx, "DELETE FROM stock_records WHERE id = $1", recordID); err != nil {
			return nil, decimal.Zero, 0, 0, "", fmt.Errorf("failed to remove reconciled stock record: %w", err)
		}
	default:
		_, err := tx.Exec(ctx,
			"UPDATE stock_records SET qty_on_hand = $1, updated_at = NOW() WHERE id = $2",
			target, recordID)
		if err != nil {
			return nil, decimal.Zero, 0, 0, "", fmt.Errorf("failed to reconcile stock record: %w", err)
		}
	}

	quantity := delta
	if quantity < 0 {
		quantity = -quantity
	}
	notes := fmt.Sprintf("on-hand reconciled %d -> %d", onHand, target)
	if in.Notes != "" {
		notes = in.Notes + "; " + notes
	}
	return &recordID, unitCost, quantity, delta, notes, nil
}

// nextSequence allocates the next gapless number for a scope by bumping its
// counter row. The bump happens inside the caller's transaction, so a rolled
// back posting releases its number and concurrent writers serialize on the
// row instead of racing a count-then-insert.
func nextSequence(ctx context.Context, tx pgx.Tx, scope string) (int64, error) {
	var seq int64
	err := tx.QueryRow(ctx, `
		INSERT INTO transaction_sequences (scope, last_number)
		VALUES ($1, 1)
		ON CONFLICT (scope)
		DO UPDATE SET last_number = transaction_sequences.last_number + 1
		RETURNING last_number
	`, scope).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate sequence number: %w", err)
	}
	return seq, nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, txn *StockTransaction) error {
	var err error
	if txn.IdempotencyKey != "" {
		err = tx.QueryRow(ctx, `
			INSERT INTO stock_transactions (sequence_number, transaction_number, type, item_id, quantity,
				unit_cost, total_cost, from_location_id, to_location_id, lot_number, serial_number,
				expiration_date, stock_record_id, paired_transaction_id, idempotency_key, reason, notes, performed_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
			ON CONFLICT (idempotency_key) DO NOTHING
			RETURNING id, created_at
		`, txn.SequenceNumber, txn.TransactionNumber, string(txn.Type), txn.ItemID, txn.Quantity,
			txn.UnitCost, txn.TotalCost, txn.FromLocationID, txn.ToLocationID, txn.LotNumber, txn.SerialNumber,
			txn.ExpirationDate, txn.StockRecordID, txn.PairedTransactionID, txn.IdempotencyKey,
			txn.Reason, txn.Notes, txn.PerformedBy).Scan(&txn.ID, &txn.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrDuplicateTransaction, txn.IdempotencyKey)
		}
	} else {
		err = tx.QueryRow(ctx, `
			INSERT INTO stock_transactions (sequence_number, transaction_number, type, item_id, quantity,
				unit_cost, total_cost, from_location_id, to_location_id, lot_number, serial_number,
				expiration_date, stock_record_id, paired_transaction_id, reason, notes, performed_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			RETURNING id, created_at
		`, txn.SequenceNumber, txn.TransactionNumber, string(txn.Type), txn.ItemID, txn.Quantity,
			txn.UnitCost, txn.TotalCost, txn.FromLocationID, txn.ToLocationID, txn.LotNumber, txn.SerialNumber,
			txn.ExpirationDate, txn.StockRecordID, txn.PairedTransactionID,
			txn.Reason, txn.Notes, txn.PerformedBy).Scan(&txn.ID, &txn.CreatedAt)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
		}
		return fmt.Errorf("failed to insert stock transaction: %w", err)
	}
	return nil
}

// resolveItem fetches an item by code for use inside a posting transaction.
func resolveItem(ctx context.Context, tx pgx.Tx, code string) (*Item, error) {
	var it Item
	err := tx.QueryRow(ctx, `
		SELECT id, code, name, unit, is_lot_tracked, is_serialized, has_expiry,
		       reorder_point, average_cost, last_cost, is_active, created_at, updated_at
		FROM items
		WHERE code = $1
	`, code).Scan(&it.ID, &it.Code, &it.Name, &it.Unit, &it.IsLotTracked, &it.IsSerialized,
		&it.HasExpiry, &it.ReorderPoint, &it.AverageCost, &it.LastCost, &it.IsActive,
		&it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrItemNotFound, code)
		}
		return nil, fmt.Errorf("failed to resolve item %s: %w", code, err)
	}
	return &it, nil
}

// resolveLocation fetches a location by code and rejects inactive ones.
func resolveLocation(ctx context.Context, tx pgx.Tx, code string) (*Location, error) {
	var loc Location
	err := tx.QueryRow(ctx, `
		SELECT id, code, name, parent_id, is_active, created_at
		FROM locations
		WHERE code = $1
	`, code).Scan(&loc.ID, &loc.Code, &loc.Name, &loc.ParentID, &loc.IsActive, &loc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrLocationNotFound, code)
		}
		return nil, fmt.Errorf("failed to resolve location %s: %w", code, err)
	}
	if !loc.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrLocationInactive, code)
	}
	return &loc, nil
}

// nullable maps an empty string to a SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
