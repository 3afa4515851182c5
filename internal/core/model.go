package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a stock movement. The type implies direction:
// quantity on a transaction is always the positive magnitude of the movement.
type TransactionType string

const (
	TypeReceipt     TransactionType = "RECEIPT"
	TypeIssue       TransactionType = "ISSUE"
	TypeReturn      TransactionType = "RETURN"
	TypeAdjustment  TransactionType = "ADJUSTMENT"
	TypeTransferIn  TransactionType = "TRANSFER_IN"
	TypeTransferOut TransactionType = "TRANSFER_OUT"
	TypeWaste       TransactionType = "WASTE"
	TypeExpired     TransactionType = "EXPIRED"
	TypeRecalled    TransactionType = "RECALLED"
	TypeCount       TransactionType = "COUNT"
)

// Inbound reports whether the type credits a destination location.
func (t TransactionType) Inbound() bool {
	return t == TypeReceipt || t == TypeReturn || t == TypeTransferIn
}

// Outbound reports whether the type debits a source location.
func (t TransactionType) Outbound() bool {
	return t == TypeIssue || t == TypeWaste || t == TypeExpired ||
		t == TypeRecalled || t == TypeTransferOut
}

// Reconciling reports whether the type sets an absolute on-hand target
// (count/adjustment semantics) rather than applying a relative delta.
func (t TransactionType) Reconciling() bool {
	return t == TypeAdjustment || t == TypeCount
}

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	return t.Inbound() || t.Outbound() || t.Reconciling()
}

// Item is a catalog entry. The ledger reads identity and tracking flags and
// maintains only the cost fields (average_cost, last_cost).
type Item struct {
	ID           int             `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	IsLotTracked bool            `json:"is_lot_tracked"`
	IsSerialized bool            `json:"is_serialized"`
	HasExpiry    bool            `json:"has_expiry"`
	ReorderPoint int64           `json:"reorder_point"`
	AverageCost  decimal.Decimal `json:"average_cost"`
	LastCost     decimal.Decimal `json:"last_cost"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Location is a storage location. The ledger only reads existence and the
// active flag; hierarchy (ParentID) is informational.
type Location struct {
	ID        int       `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	ParentID  *int      `json:"parent_id,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// StockRecord is the current quantity held at one
// (item, location, lot, serial) key. Created on the first positive movement
// into the key and deleted once on-hand and reserved both reach zero.
type StockRecord struct {
	ID             int             `json:"id"`
	ItemID         int             `json:"item_id"`
	LocationID     int             `json:"location_id"`
	LotNumber      *string         `json:"lot_number,omitempty"`
	SerialNumber   *string         `json:"serial_number,omitempty"`
	QtyOnHand      int64           `json:"qty_on_hand"`
	QtyReserved    int64           `json:"qty_reserved"`
	QtyAvailable   int64           `json:"qty_available"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	ExpirationDate *time.Time      `json:"expiration_date,omitempty"`
	ReceivedDate   time.Time       `json:"received_date"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// StockTransaction is one immutable entry in the movement log.
type StockTransaction struct {
	ID                  int             `json:"id"`
	SequenceNumber      int64           `json:"sequence_number"`
	TransactionNumber   string          `json:"transaction_number"`
	Type                TransactionType `json:"type"`
	ItemID              int             `json:"item_id"`
	Quantity            int64           `json:"quantity"`
	UnitCost            decimal.Decimal `json:"unit_cost"`
	TotalCost           decimal.Decimal `json:"total_cost"`
	FromLocationID      *int            `json:"from_location_id,omitempty"`
	ToLocationID        *int            `json:"to_location_id,omitempty"`
	LotNumber           *string         `json:"lot_number,omitempty"`
	SerialNumber        *string         `json:"serial_number,omitempty"`
	ExpirationDate      *time.Time      `json:"expiration_date,omitempty"`
	StockRecordID       *int            `json:"stock_record_id,omitempty"`
	PairedTransactionID *int            `json:"paired_transaction_id,omitempty"`
	IdempotencyKey      string          `json:"idempotency_key,omitempty"`
	Reason              string          `json:"reason,omitempty"`
	Notes               string          `json:"notes,omitempty"`
	PerformedBy         string          `json:"performed_by"`
	CreatedAt           time.Time       `json:"created_at"`
}

// StockLevel is a read view of a stock record joined with item and location info.
type StockLevel struct {
	ItemCode       string          `json:"item_code"`
	ItemName       string          `json:"item_name"`
	LocationCode   string          `json:"location_code"`
	LocationName   string          `json:"location_name"`
	LotNumber      *string         `json:"lot_number,omitempty"`
	SerialNumber   *string         `json:"serial_number,omitempty"`
	OnHand         int64           `json:"on_hand"`
	Reserved       int64           `json:"reserved"`
	Available      int64           `json:"available"` // = OnHand - Reserved
	UnitCost       decimal.Decimal `json:"unit_cost"`
	ExpirationDate *time.Time      `json:"expiration_date,omitempty"`
}

// PostInput is one requested ledger posting.
//
// For RECEIPT/RETURN/TRANSFER_IN the destination is required; for
// ISSUE/WASTE/EXPIRED/RECALLED/TRANSFER_OUT the source is required. For
// ADJUSTMENT/COUNT, Quantity carries the absolute target on-hand for the
// (item, location) pair instead of a movement magnitude.
type PostInput struct {
	Type             TransactionType
	ItemCode         string
	Quantity         int64
	FromLocationCode string
	ToLocationCode   string
	LotNumber        string
	SerialNumber     string
	// UnitCost overrides the item's current average cost when non-nil.
	UnitCost            *decimal.Decimal
	ExpirationDate      *time.Time
	Reason              string
	Notes               string
	IdempotencyKey      string
	PairedTransactionID *int
	PerformedBy         string
}

// TransferInput moves stock between two locations as one atomic operation.
type TransferInput struct {
	ItemCode         string
	FromLocationCode string
	ToLocationCode   string
	Quantity         int64
	LotNumber        string
	SerialNumber     string
	Reason           string
	PerformedBy      string
}

// TransferResult carries the two linked postings of a completed transfer.
type TransferResult struct {
	Out *StockTransaction `json:"out"`
	In  *StockTransaction `json:"in"`
}

// AdjustInput reconciles the on-hand quantity at an (item, location) pair to
// an absolute target, e.g. after a physical count. Reason is mandatory.
type AdjustInput struct {
	ItemCode     string
	LocationCode string
	NewQtyOnHand int64
	Reason       string
	PerformedBy  string
}

// CreateItemInput describes a new catalog entry. Cost fields after creation
// are maintained by the ledger, not by catalog updates.
type CreateItemInput struct {
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	IsLotTracked bool            `json:"is_lot_tracked"`
	IsSerialized bool            `json:"is_serialized"`
	HasExpiry    bool            `json:"has_expiry"`
	ReorderPoint int64           `json:"reorder_point"`
	AverageCost  decimal.Decimal `json:"average_cost"`
}

// CreateLocationInput describes a new storage location.
type CreateLocationInput struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	ParentID *int   `json:"parent_id,omitempty"`
}

// ReserveInput earmarks stock at a key without moving it.
type ReserveInput struct {
	ItemCode     string
	LocationCode string
	LotNumber    string
	SerialNumber string
	Quantity     int64
}

// ReleaseInput frees previously reserved stock at a key.
type ReleaseInput struct {
	ItemCode     string
	LocationCode string
	LotNumber    string
	SerialNumber string
	Quantity     int64
}
