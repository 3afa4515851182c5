package core

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors for the ledger. All are detected before any mutation is
// applied; when one is returned the enclosing database transaction has been
// rolled back and the store is unchanged.
var (
	ErrItemNotFound            = errors.New("item not found")
	ErrLocationNotFound        = errors.New("location not found")
	ErrLocationInactive        = errors.New("location is inactive")
	ErrStockRecordNotFound     = errors.New("no stock record at the requested key")
	ErrInvalidQuantity         = errors.New("quantity must be positive")
	ErrInvalidType             = errors.New("unknown transaction type")
	ErrMissingLocation         = errors.New("required location missing for transaction type")
	ErrSameLocationTransfer    = errors.New("transfer source and destination are the same location")
	ErrReasonRequired          = errors.New("a reason is required")
	ErrActorRequired           = errors.New("performing actor is required")
	ErrLotRequired             = errors.New("item is lot-tracked: lot number required")
	ErrSerialRequired          = errors.New("item is serialized: serial number required")
	ErrNothingToAdjust         = errors.New("target quantity equals current on-hand")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInsufficientReservation = errors.New("release exceeds reserved quantity")
	ErrCodeRequired            = errors.New("code and name are required")
	ErrItemExists              = errors.New("item code already in use")
	ErrLocationExists          = errors.New("location code already in use")
	ErrDuplicateTransaction    = errors.New("duplicate idempotency key")
	ErrConcurrencyConflict     = errors.New("concurrent update conflict")
)

// InsufficientStockError carries the quantities behind an ErrInsufficientStock
// failure. Inspect with errors.As; errors.Is(err, ErrInsufficientStock) also
// matches.
type InsufficientStockError struct {
	ItemCode     string
	LocationCode string
	Available    int64
	Requested    int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s at %s: available %d, requested %d",
		e.ItemCode, e.LocationCode, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505), the signature of a lost race between writers.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
