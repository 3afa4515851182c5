package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StockService composes ledger postings into the operations the surrounding
// system calls: two-legged transfers, count reconciliations, reservations, and
// stock-level reads.
type StockService interface {
	// Transfer debits the source and credits the destination as one atomic
	// unit. A reader never observes one leg without the other.
	Transfer(ctx context.Context, in TransferInput) (*TransferResult, error)
	// Adjust reconciles the on-hand quantity at an (item, location) pair to
	// an absolute target. Reason is mandatory.
	Adjust(ctx context.Context, in AdjustInput) (*StockTransaction, error)
	// Reserve earmarks stock at a key; it moves nothing and logs no entry.
	Reserve(ctx context.Context, in ReserveInput) error
	// Release frees previously reserved stock at a key.
	Release(ctx context.Context, in ReleaseInput) error
	// GetStockLevels returns every current stock record joined with item and
	// location info, ordered by item then location.
	GetStockLevels(ctx context.Context) ([]StockLevel, error)
}

type stockService struct {
	pool   *pgxpool.Pool
	ledger *Ledger
}

func NewStockService(pool *pgxpool.Pool, ledger *Ledger) StockService {
	return &stockService{pool: pool, ledger: ledger}
}

func (s *stockService) Transfer(ctx context.Context, in TransferInput) (*TransferResult, error) {
	if in.FromLocationCode == in.ToLocationCode {
		return nil, fmt.Errorf("%w: %s", ErrSameLocationTransfer, in.FromLocationCode)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transfer: %w", err)
	}
	defer tx.Rollback(ctx)

	// Each leg records the location it acted on: the out-leg debits the
	// source, the in-leg credits the destination.
	out, err := s.ledger.PostTx(ctx, tx, PostInput{
		Type:             TypeTransferOut,
		ItemCode:         in.ItemCode,
		Quantity:         in.Quantity,
		FromLocationCode: in.FromLocationCode,
		LotNumber:        in.LotNumber,
		SerialNumber:     in.SerialNumber,
		Reason:           in.Reason,
		PerformedBy:      in.PerformedBy,
	})
	if err != nil {
		return nil, err
	}

	// The in-leg carries the out-leg's cost, expiration, and id so the pair
	// shares quantity, item, cost, and lot expiry, and the link is set in the
	// same atomic unit.
	inTxn, err := s.ledger.PostTx(ctx, tx, PostInput{
		Type:                TypeTransferIn,
		ItemCode:            in.ItemCode,
		Quantity:            in.Quantity,
		ToLocationCode:      in.ToLocationCode,
		LotNumber:           in.LotNumber,
		SerialNumber:        in.SerialNumber,
		UnitCost:            &out.UnitCost,
		ExpirationDate:      out.ExpirationDate,
		Reason:              in.Reason,
		PairedTransactionID: &out.ID,
		PerformedBy:         in.PerformedBy,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transfer: %w", err)
	}
	return &TransferResult{Out: out, In: inTxn}, nil
}

func (s *stockService) Adjust(ctx context.Context, in AdjustInput) (*StockTransaction, error) {
	return s.ledger.Post(ctx, PostInput{
		Type:           TypeAdjustment,
		ItemCode:       in.ItemCode,
		Quantity:       in.NewQtyOnHand,
		ToLocationCode: in.LocationCode,
		Reason:         in.Reason,
		PerformedBy:    in.PerformedBy,
	})
}

func (s *stockService) Reserve(ctx context.Context, in ReserveInput) error {
	if in.Quantity <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidQuantity, in.Quantity)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin reservation: %w", err)
	}
	defer tx.Rollback(ctx)

	item, err := resolveItem(ctx, tx, in.ItemCode)
	if err != nil {
		return err
	}
	loc, err := resolveLocation(ctx, tx, in.LocationCode)
	if err != nil {
		return err
	}

	var (
		recordID            int
		available, reserved int64
	)
	err = tx.QueryRow(ctx, `
		SELECT id, qty_available, qty_reserved
		FROM stock_records
		WHERE item_id = $1 AND location_id = $2
		  AND lot_number IS NOT DISTINCT FROM $3
		  AND serial_number IS NOT DISTINCT FROM $4
		FOR UPDATE
	`, item.ID, loc.ID, nullable(in.LotNumber), nullable(in.SerialNumber)).Scan(&recordID, &available, &reserved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: item %s at %s", ErrStockRecordNotFound, item.Code, loc.Code)
		}
		return fmt.Errorf("failed to lock stock record: %w", err)
	}

	if available < in.Quantity {
		return &InsufficientStockError{
			ItemCode:     item.Code,
			LocationCode: loc.Code,
			Available:    available,
			Requested:    in.Quantity,
		}
	}

	_, err = tx.Exec(ctx,
		"UPDATE stock_records SET qty_reserved = qty_reserved + $1, updated_at = NOW() WHERE id = $2",
		in.Quantity, recordID)
	if err != nil {
		return fmt.Errorf("failed to reserve stock: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit reservation: %w", err)
	}
	return nil
}

func (s *stockService) Release(ctx context.Context, in ReleaseInput) error {
	if in.Quantity <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidQuantity, in.Quantity)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin release: %w", err)
	}
	defer tx.Rollback(ctx)

	item, err := resolveItem(ctx, tx, in.ItemCode)
	if err != nil {
		return err
	}
	loc, err := resolveLocation(ctx, tx, in.LocationCode)
	if err != nil {
		return err
	}

	var (
		recordID         int
		onHand, reserved int64
	)
	err = tx.QueryRow(ctx, `
		SELECT id, qty_on_hand, qty_reserved
		FROM stock_records
		WHERE item_id = $1 AND location_id = $2
		  AND lot_number IS NOT DISTINCT FROM $3
		  AND serial_number IS NOT DISTINCT FROM $4
		FOR UPDATE
	`, item.ID, loc.ID, nullable(in.LotNumber), nullable(in.SerialNumber)).Scan(&recordID, &onHand, &reserved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: item %s at %s", ErrStockRecordNotFound, item.Code, loc.Code)
		}
		return fmt.Errorf("failed to lock stock record: %w", err)
	}

	if reserved < in.Quantity {
		return fmt.Errorf("%w: only %d reserved, release of %d requested",
			ErrInsufficientReservation, reserved, in.Quantity)
	}

	newReserved := reserved - in.Quantity
	if onHand == 0 && newReserved == 0 {
		// Zero-quantity records do not persist.
		if _, err := tx.Exec(ctx, "DELETE FROM stock_records WHERE id = $1", recordID); err != nil {
			return fmt.Errorf("failed to remove drained stock record: %w", err)
		}
	} else {
		_, err = tx.Exec(ctx,
			"UPDATE stock_records SET qty_reserved = $1, updated_at = NOW() WHERE id = $2",
			newReserved, recordID)
		if err != nil {
			return fmt.Errorf("failed to release reservation: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit release: %w", err)
	}
	return nil
}

func (s *stockService) GetStockLevels(ctx context.Context) ([]StockLevel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.code, i.name, l.code, l.name,
		       sr.lot_number, sr.serial_number,
		       sr.qty_on_hand, sr.qty_reserved, sr.qty_available,
		       sr.unit_cost, sr.expiration_date
		FROM stock_records sr
		JOIN items i     ON i.id = sr.item_id
		JOIN locations l ON l.id = sr.location_id
		ORDER BY i.code, l.code, sr.lot_number NULLS FIRST, sr.serial_number NULLS FIRST
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock levels: %w", err)
	}
	defer rows.Close()

	var levels []StockLevel
	for rows.Next() {
		var sl StockLevel
		if err := rows.Scan(
			&sl.ItemCode, &sl.ItemName, &sl.LocationCode, &sl.LocationName,
			&sl.LotNumber, &sl.SerialNumber,
			&sl.OnHand, &sl.Reserved, &sl.Available,
			&sl.UnitCost, &sl.ExpirationDate,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stock level: %w", err)
		}
		levels = append(levels, sl)
	}
	return levels, rows.Err()
}
