package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CatalogService manages the item catalog and location directory the ledger
// posts against. The ledger itself only reads these (and maintains item cost
// fields); everything else comes in through here.
type CatalogService interface {
	GetItem(ctx context.Context, code string) (*Item, error)
	GetLocation(ctx context.Context, code string) (*Location, error)
	CreateItem(ctx context.Context, in CreateItemInput) (*Item, error)
	CreateLocation(ctx context.Context, in CreateLocationInput) (*Location, error)
}

type catalogService struct {
	pool *pgxpool.Pool
}

func NewCatalogService(pool *pgxpool.Pool) CatalogService {
	return &catalogService{pool: pool}
}

func (s *catalogService) GetItem(ctx context.Context, code string) (*Item, error) {
	var it Item
	err := s.pool.QueryRow(ctx, `
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
		return nil, fmt.Errorf("get item %s: %w", code, err)
	}
	return &it, nil
}

func (s *catalogService) GetLocation(ctx context.Context, code string) (*Location, error) {
	var loc Location
	err := s.pool.QueryRow(ctx, `
		SELECT id, code, name, parent_id, is_active, created_at
		FROM locations
		WHERE code = $1
	`, code).Scan(&loc.ID, &loc.Code, &loc.Name, &loc.ParentID, &loc.IsActive, &loc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrLocationNotFound, code)
		}
		return nil, fmt.Errorf("get location %s: %w", code, err)
	}
	return &loc, nil
}

func (s *catalogService) CreateItem(ctx context.Context, in CreateItemInput) (*Item, error) {
	if strings.TrimSpace(in.Code) == "" || strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w (item)", ErrCodeRequired)
	}
	unit := in.Unit
	if unit == "" {
		unit = "EA"
	}

	it := &Item{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO items (code, name, unit, is_lot_tracked, is_serialized, has_expiry,
		                   reorder_point, average_cost, last_cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id, code, name, unit, is_lot_tracked, is_serialized, has_expiry,
		          reorder_point, average_cost, last_cost, is_active, created_at, updated_at
	`, in.Code, in.Name, unit, in.IsLotTracked, in.IsSerialized, in.HasExpiry,
		in.ReorderPoint, in.AverageCost,
	).Scan(&it.ID, &it.Code, &it.Name, &it.Unit, &it.IsLotTracked, &it.IsSerialized,
		&it.HasExpiry, &it.ReorderPoint, &it.AverageCost, &it.LastCost, &it.IsActive,
		&it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrItemExists, in.Code)
		}
		return nil, fmt.Errorf("create item %q: %w", in.Code, err)
	}
	return it, nil
}

func (s *catalogService) CreateLocation(ctx context.Context, in CreateLocationInput) (*Location, error) {
	if strings.TrimSpace(in.Code) == "" || strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w (location)", ErrCodeRequired)
	}

	loc := &Location{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO locations (code, name, parent_id)
		VALUES ($1, $2, $3)
		RETURNING id, code, name, parent_id, is_active, created_at
	`, in.Code, in.Name, in.ParentID,
	).Scan(&loc.ID, &loc.Code, &loc.Name, &loc.ParentID, &loc.IsActive, &loc.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrLocationExists, in.Code)
		}
		return nil, fmt.Errorf("create location %q: %w", in.Code, err)
	}
	return loc, nil
}
