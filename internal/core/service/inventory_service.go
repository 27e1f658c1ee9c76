package service

import (
	"context"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/pos-engine/internal/core/domain"
	"github.com/rl1809/pos-engine/internal/port"
)

type CreateItemCommand struct {
	Name          string          `json:"name" validate:"required,max=255"`
	Unit          string          `json:"unit" validate:"required,max=50"`
	MinStock      decimal.Decimal `json:"min_stock"`
	OpeningStock  decimal.Decimal `json:"current_stock"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	SupplierName  string          `json:"supplier_name" validate:"omitempty,max=255"`
	SupplierPhone string          `json:"supplier_phone" validate:"omitempty,max=20"`
	IsActive      *bool           `json:"is_active"`
	RestaurantID  *int64          `json:"restaurant_id"`
}

type MovementCommand struct {
	Type          domain.MovementType `json:"type" validate:"required,oneof=in out adjustment"`
	Quantity      decimal.Decimal     `json:"quantity"`
	UnitCost      *decimal.Decimal    `json:"unit_cost"`
	ReferenceType string              `json:"reference_type" validate:"omitempty,max=50"`
	ReferenceID   *int64              `json:"reference_id"`
	Notes         string              `json:"notes"`
}

type InventoryService struct {
	options
	items port.InventoryRepository
}

func NewInventoryService(items port.InventoryRepository, opts ...Option) *InventoryService {
	o := buildOptions(opts)
	o.logger = o.logger.Named("inventory")
	return &InventoryService{options: o, items: items}
}

// CreateItem registers an inventory item. A non-zero opening stock is
// written as an adjustment entry so the ledger alone reproduces the balance.
func (s *InventoryService) CreateItem(ctx context.Context, actor domain.Actor, cmd CreateItemCommand) (item *domain.InventoryItem, err error) {
	ctx, span := s.tracer.Start(ctx, "InventoryService.CreateItem")
	defer func() { endSpan(span, err) }()

	if !actor.CanManageInventory() {
		return nil, domain.Detail(domain.ErrForbidden, "actor cannot manage inventory")
	}
	if err := validateStruct(cmd); err != nil {
		return nil, err
	}
	fields := map[string]string{}
	for name, v := range map[string]decimal.Decimal{"min_stock": cmd.MinStock, "current_stock": cmd.OpeningStock, "unit_cost": cmd.UnitCost} {
		checkScale(fields, name, v)
		if v.IsNegative() {
			fields[name] = "must be at least 0"
		}
	}
	if len(fields) > 0 {
		return nil, domain.Validation(fields)
	}

	restaurantID := actor.RestaurantID
	if cmd.RestaurantID != nil && actor.CanViewAllRestaurants() {
		restaurantID = *cmd.RestaurantID
	}
	active := true
	if cmd.IsActive != nil {
		active = *cmd.IsActive
	}

	now := s.now()
	err = s.items.WithinInventoryTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		created := &domain.InventoryItem{
			RestaurantID:  restaurantID,
			Name:          cmd.Name,
			Unit:          cmd.Unit,
			MinStock:      cmd.MinStock,
			CurrentStock:  decimal.Zero,
			UnitCost:      cmd.UnitCost,
			SupplierName:  cmd.SupplierName,
			SupplierPhone: cmd.SupplierPhone,
			IsActive:      active,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.InsertItem(ctx, created); err != nil {
			return err
		}
		if cmd.OpeningStock.IsPositive() {
			balance, err := tx.ApplyMovement(ctx, created.ID, domain.MovementAdjustment, cmd.OpeningStock)
			if err != nil {
				return err
			}
			created.CurrentStock = balance
			entry := &domain.LedgerEntry{
				RestaurantID:    restaurantID,
				InventoryItemID: created.ID,
				Type:            domain.MovementAdjustment,
				Quantity:        cmd.OpeningStock,
				UnitCost:        cmd.UnitCost,
				TotalCost:       cmd.UnitCost.Mul(cmd.OpeningStock),
				ReferenceType:   domain.ReferenceOpeningBalance,
				Notes:           "Opening balance",
				CreatedBy:       actor.ID,
				CreatedAt:       now,
			}
			if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
				return err
			}
		}
		item = created
		return nil
	})
	if err != nil {
		return nil, domain.AsEngineError("create inventory item", err)
	}

	span.SetAttributes(attribute.Int64("item.id", item.ID))
	s.logger.Info("inventory item created", zap.Int64("item_id", item.ID), zap.Int64("restaurant_id", item.RestaurantID), zap.String("name", item.Name))
	return item, nil
}

// RecordMovement appends one ledger entry and moves the cached balance in
// the same unit of work. The item row stays locked from the balance check to
// commit, so concurrent out movements cannot both pass against a stale read.
func (s *InventoryService) RecordMovement(ctx context.Context, actor domain.Actor, itemID int64, cmd MovementCommand) (entry *domain.LedgerEntry, item *domain.InventoryItem, err error) {
	ctx, span := s.tracer.Start(ctx, "InventoryService.RecordMovement")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(
		attribute.Int64("item.id", itemID),
		attribute.String("movement.type", string(cmd.Type)),
		attribute.String("movement.quantity", cmd.Quantity.String()),
	)

	if !actor.CanManageInventory() {
		return nil, nil, domain.Detail(domain.ErrForbidden, "actor cannot manage inventory")
	}
	if !cmd.Type.Valid() {
		return nil, nil, domain.Detail(domain.ErrInvalidMovementType, "unsupported movement type %q", cmd.Type)
	}
	if err := validateStruct(cmd); err != nil {
		return nil, nil, err
	}
	if !cmd.Quantity.IsPositive() {
		return nil, nil, domain.ErrInvalidQuantity
	}
	fields := map[string]string{}
	checkScale(fields, "quantity", cmd.Quantity)
	if cmd.UnitCost != nil {
		checkScale(fields, "unit_cost", *cmd.UnitCost)
		if cmd.UnitCost.IsNegative() {
			fields["unit_cost"] = "must be at least 0"
		}
	}
	if len(fields) > 0 {
		return nil, nil, domain.Validation(fields)
	}

	now := s.now()
	err = s.items.WithinInventoryTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		locked, err := tx.LockItem(ctx, itemID)
		if err != nil {
			return err
		}
		if locked.RestaurantID != actor.RestaurantID && !actor.CanViewAllRestaurants() {
			return domain.Detail(domain.ErrForbidden, "inventory item belongs to another restaurant")
		}

		unitCost := locked.UnitCost
		if cmd.UnitCost != nil {
			unitCost = *cmd.UnitCost
		}

		balance, err := tx.ApplyMovement(ctx, itemID, cmd.Type, cmd.Quantity)
		if err != nil {
			return err
		}

		e := &domain.LedgerEntry{
			RestaurantID:    locked.RestaurantID,
			InventoryItemID: itemID,
			Type:            cmd.Type,
			Quantity:        cmd.Quantity,
			UnitCost:        unitCost,
			TotalCost:       unitCost.Mul(cmd.Quantity),
			ReferenceType:   cmd.ReferenceType,
			ReferenceID:     cmd.ReferenceID,
			Notes:           cmd.Notes,
			CreatedBy:       actor.ID,
			CreatedAt:       now,
		}
		if err := tx.AppendLedgerEntry(ctx, e); err != nil {
			return err
		}

		locked.CurrentStock = balance
		locked.UpdatedAt = now
		entry, item = e, locked
		return nil
	})
	if err != nil {
		return nil, nil, domain.AsEngineError("record inventory movement", err)
	}

	log := s.logger.With(zap.Int64("item_id", itemID), zap.String("type", string(cmd.Type)))
	log.Info("inventory movement recorded",
		zap.String("quantity", cmd.Quantity.String()),
		zap.String("balance", item.CurrentStock.String()),
	)
	if item.IsLowStock() {
		log.Debug("inventory item at or below minimum stock", zap.String("min_stock", item.MinStock.String()))
	}
	return entry, item, nil
}

func (s *InventoryService) GetItem(ctx context.Context, actor domain.Actor, itemID int64) (*domain.InventoryItem, error) {
	if !actor.CanManageInventory() {
		return nil, domain.Detail(domain.ErrForbidden, "actor cannot view inventory")
	}
	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, domain.AsEngineError("get inventory item", err)
	}
	if !actor.CanRead(item.RestaurantID) {
		return nil, domain.Detail(domain.ErrForbidden, "inventory item belongs to another restaurant")
	}
	return item, nil
}

func (s *InventoryService) ListItems(ctx context.Context, actor domain.Actor, filter domain.InventoryFilter) ([]domain.InventoryItem, int, error) {
	if !actor.CanManageInventory() {
		return nil, 0, domain.Detail(domain.ErrForbidden, "actor cannot view inventory")
	}
	filter.RestaurantID = actor.Scope(filter.RestaurantID)
	filter.Page = filter.Page.Normalize()
	items, total, err := s.items.ListItems(ctx, filter)
	if err != nil {
		return nil, 0, domain.AsEngineError("list inventory items", err)
	}
	return items, total, nil
}

// ListLedger pages through an item's movements, newest first.
func (s *InventoryService) ListLedger(ctx context.Context, actor domain.Actor, itemID int64, page domain.Page) ([]domain.LedgerEntry, int, error) {
	if _, err := s.GetItem(ctx, actor, itemID); err != nil {
		return nil, 0, err
	}
	entries, total, err := s.items.ListLedger(ctx, itemID, page.Normalize())
	if err != nil {
		return nil, 0, domain.AsEngineError("list ledger", err)
	}
	return entries, total, nil
}

// LowStockItems lists active items at or below their minimum stock.
func (s *InventoryService) LowStockItems(ctx context.Context, actor domain.Actor, restaurantID *int64) ([]domain.InventoryItem, error) {
	items, _, err := s.ListItems(ctx, actor, domain.InventoryFilter{
		RestaurantID: restaurantID,
		LowStockOnly: true,
		Page:         domain.Page{Number: 1, PerPage: 100},
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
