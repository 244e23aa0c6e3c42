package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vaalbara/backend/internal/cache"
	"vaalbara/backend/internal/domain"
	"vaalbara/backend/internal/store"
	"vaalbara/backend/internal/vietnum"
	"vaalbara/backend/internal/xid"
)

// ErrValidation marks request payloads the caller can fix.
var ErrValidation = errors.New("invalid input")

const stockCacheTTL = 30 * time.Second

// ErrForbidden marks operations the acting user's role does not allow.
var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo   store.Repository
	stock  cache.StockCache
	logger *zap.Logger
}

func New(repo store.Repository, stock cache.StockCache, logger *zap.Logger) *Service {
	if stock == nil {
		stock = cache.NewNoop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, stock: stock, logger: logger}
}

func (s *Service) ListInventories(ctx context.Context) ([]domain.Inventory, error) {
	return s.repo.ListInventories(ctx)
}

func (s *Service) CreateInventory(ctx context.Context, req domain.InventoryCreateRequest) (domain.Inventory, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Slug = strings.ToLower(strings.TrimSpace(req.Slug))
	if req.Name == "" || req.Slug == "" {
		return domain.Inventory{}, fmt.Errorf("%w: name and slug are required", ErrValidation)
	}

	created, err := s.repo.CreateInventory(ctx, domain.Inventory{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		return domain.Inventory{}, err
	}

	s.logAudit(ctx, "inventory_create", "inventory", created.Slug, "name="+created.Name)
	return *created, nil
}

func (s *Service) GetInventorySummary(ctx context.Context, slug string) (domain.InventorySummary, error) {
	summary, err := s.repo.GetInventorySummary(ctx, slug)
	if err != nil {
		return domain.InventorySummary{}, err
	}
	return *summary, nil
}

func (s *Service) ListItems(ctx context.Context, inventorySlug string, includeInactive bool) ([]domain.ItemDetail, error) {
	var inventoryID int64
	if inventorySlug != "" {
		inv, err := s.repo.GetInventoryBySlug(ctx, inventorySlug)
		if err != nil {
			return nil, err
		}
		inventoryID = inv.ID
	}
	return s.repo.ListItems(ctx, inventoryID, includeInactive)
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Item{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if req.Unit == "" {
		req.Unit = domain.UnitNone
	}
	if !domain.IsValidUnit(req.Unit) {
		return domain.Item{}, fmt.Errorf("%w: unknown unit %q", ErrValidation, req.Unit)
	}

	inv, err := s.repo.GetInventoryBySlug(ctx, req.InventorySlug)
	if err != nil {
		return domain.Item{}, err
	}

	created, err := s.repo.CreateItem(ctx, domain.Item{
		InventoryID: inv.ID,
		Name:        req.Name,
		Brand:       strings.TrimSpace(req.Brand),
		Packaging:   strings.TrimSpace(req.Packaging),
		Unit:        req.Unit,
		Category:    strings.TrimSpace(req.Category),
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		return domain.Item{}, err
	}

	s.invalidateStock(ctx, inv.ID)
	s.logAudit(ctx, "item_create", "item", fmt.Sprint(created.ID), "name="+created.Name)
	return *created, nil
}

func (s *Service) GetItem(ctx context.Context, id int64) (domain.ItemDetail, error) {
	detail, err := s.repo.GetItemByID(ctx, id)
	if err != nil {
		return domain.ItemDetail{}, err
	}
	return *detail, nil
}

func (s *Service) UpdateItem(ctx context.Context, id int64, req domain.ItemUpdateRequest) (domain.Item, error) {
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return domain.Item{}, fmt.Errorf("%w: name cannot be empty", ErrValidation)
	}
	if req.Unit != nil && !domain.IsValidUnit(*req.Unit) {
		return domain.Item{}, fmt.Errorf("%w: unknown unit %q", ErrValidation, *req.Unit)
	}

	updated, err := s.repo.UpdateItem(ctx, id, req)
	if err != nil {
		return domain.Item{}, err
	}

	s.logAudit(ctx, "item_update", "item", fmt.Sprint(id), "name="+updated.Name)
	return *updated, nil
}

// DeactivateItem hides an item from transaction forms. The store refuses
// when the item still has stock; a later completed import that puts stock
// back flips it active again.
func (s *Service) DeactivateItem(ctx context.Context, id int64) (domain.Item, error) {
	if err := s.requireRole(ctx, domain.RoleManager, domain.RoleAdmin); err != nil {
		return domain.Item{}, err
	}

	updated, err := s.repo.DeactivateItem(ctx, id)
	if err != nil {
		return domain.Item{}, err
	}

	s.invalidateStock(ctx, updated.InventoryID)
	s.logAudit(ctx, "item_deactivate", "item", fmt.Sprint(id), "name="+updated.Name)
	return *updated, nil
}

// StockMap returns item id to total stock for an inventory's active items.
// The snapshot is cached; completions invalidate it.
func (s *Service) StockMap(ctx context.Context, inventorySlug string) (map[int64]decimal.Decimal, error) {
	inv, err := s.repo.GetInventoryBySlug(ctx, inventorySlug)
	if err != nil {
		return nil, err
	}

	cached, ok, err := s.stock.Get(ctx, inv.ID)
	if err != nil {
		s.logger.Warn("stock cache read failed", zap.Int64("inventory_id", inv.ID), zap.Error(err))
	} else if ok {
		return cached, nil
	}

	stockMap, err := s.repo.GetStockMap(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	if err := s.stock.Set(ctx, inv.ID, stockMap, stockCacheTTL); err != nil {
		s.logger.Warn("stock cache write failed", zap.Int64("inventory_id", inv.ID), zap.Error(err))
	}
	return stockMap, nil
}

func (s *Service) ListPartners(ctx context.Context) ([]domain.Partner, error) {
	return s.repo.ListPartners(ctx)
}

func (s *Service) CreatePartner(ctx context.Context, req domain.PartnerCreateRequest) (domain.Partner, error) {
	partner, err := partnerFromRequest(req)
	if err != nil {
		return domain.Partner{}, err
	}

	created, err := s.repo.CreatePartner(ctx, partner)
	if err != nil {
		return domain.Partner{}, err
	}

	s.logAudit(ctx, "partner_create", "partner", fmt.Sprint(created.ID), "name="+created.Name)
	return *created, nil
}

func (s *Service) GetPartner(ctx context.Context, id int64) (domain.Partner, error) {
	partner, err := s.repo.GetPartnerByID(ctx, id)
	if err != nil {
		return domain.Partner{}, err
	}
	return *partner, nil
}

func (s *Service) UpdatePartner(ctx context.Context, id int64, req domain.PartnerUpdateRequest) (domain.Partner, error) {
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return domain.Partner{}, fmt.Errorf("%w: name cannot be empty", ErrValidation)
	}

	updated, err := s.repo.UpdatePartner(ctx, id, req)
	if err != nil {
		return domain.Partner{}, err
	}

	s.logAudit(ctx, "partner_update", "partner", fmt.Sprint(id), "name="+updated.Name)
	return *updated, nil
}

func (s *Service) DeletePartner(ctx context.Context, id int64) error {
	if err := s.requireRole(ctx, domain.RoleManager, domain.RoleAdmin); err != nil {
		return err
	}

	if err := s.repo.DeletePartner(ctx, id); err != nil {
		return err
	}

	s.logAudit(ctx, "partner_delete", "partner", fmt.Sprint(id), "")
	return nil
}

func (s *Service) ListTransactions(ctx context.Context, inventorySlug string, txType string, status string, limit int) ([]domain.TransactionDetail, error) {
	filter := store.TransactionFilter{Type: txType, Status: status, Limit: limit}
	if inventorySlug != "" {
		inv, err := s.repo.GetInventoryBySlug(ctx, inventorySlug)
		if err != nil {
			return nil, err
		}
		filter.InventoryID = inv.ID
	}

	transactions, err := s.repo.ListTransactions(ctx, filter)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	details := make([]domain.TransactionDetail, 0, len(transactions))
	for _, tx := range transactions {
		details = append(details, detailOf(tx, now))
	}
	return details, nil
}

func (s *Service) CreateTransaction(ctx context.Context, req domain.TransactionCreateRequest) (domain.TransactionDetail, error) {
	if !domain.IsValidTxType(req.Type) {
		return domain.TransactionDetail{}, fmt.Errorf("%w: unknown transaction type %q", ErrValidation, req.Type)
	}
	if err := checkLineRequests(req.Lines); err != nil {
		return domain.TransactionDetail{}, err
	}
	if req.ExtraCost.Sign() < 0 {
		return domain.TransactionDetail{}, fmt.Errorf("%w: extra cost cannot be negative", ErrValidation)
	}

	inv, err := s.repo.GetInventoryBySlug(ctx, req.InventorySlug)
	if err != nil {
		return domain.TransactionDetail{}, err
	}

	newPartner, err := partnerArgs(req.PartnerID, req.NewPartner)
	if err != nil {
		return domain.TransactionDetail{}, err
	}

	actor, _ := ActorFromContext(ctx)
	tx := domain.Transaction{
		Type:               req.Type,
		InventoryID:        inv.ID,
		PartnerID:          req.PartnerID,
		PartnerBill:        strings.TrimSpace(req.PartnerBill),
		ExtraCost:          req.ExtraCost,
		Notes:              strings.TrimSpace(req.Notes),
		CompletionDeadline: req.CompletionDeadline,
		CreatedBy:          actor.Username,
		Items:              linesFromRequests(req.Lines),
	}

	created, err := s.repo.CreateTransaction(ctx, tx, newPartner)
	if err != nil {
		return domain.TransactionDetail{}, err
	}

	if newPartner != nil {
		s.logAudit(ctx, "partner_create", "partner", fmt.Sprint(created.PartnerID), "name="+newPartner.Name)
	}
	s.logAudit(ctx, "transaction_create", "transaction", created.Code(), fmt.Sprintf("type=%s,lines=%d", created.Type, len(created.Items)))
	return detailOf(*created, time.Now().UTC()), nil
}

func (s *Service) GetTransaction(ctx context.Context, id int64) (domain.TransactionDetail, error) {
	tx, err := s.repo.GetTransactionByID(ctx, id)
	if err != nil {
		return domain.TransactionDetail{}, err
	}
	return detailOf(*tx, time.Now().UTC()), nil
}

func (s *Service) UpdateTransaction(ctx context.Context, id int64, req domain.TransactionUpdateRequest) (domain.TransactionDetail, error) {
	if err := checkLineRequests(req.Lines); err != nil {
		return domain.TransactionDetail{}, err
	}
	if req.ExtraCost.Sign() < 0 {
		return domain.TransactionDetail{}, fmt.Errorf("%w: extra cost cannot be negative", ErrValidation)
	}

	newPartner, err := partnerArgs(req.PartnerID, req.NewPartner)
	if err != nil {
		return domain.TransactionDetail{}, err
	}

	updated, err := s.repo.UpdateTransaction(ctx, domain.Transaction{
		ID:                 id,
		PartnerID:          req.PartnerID,
		PartnerBill:        strings.TrimSpace(req.PartnerBill),
		ExtraCost:          req.ExtraCost,
		Notes:              strings.TrimSpace(req.Notes),
		CompletionDeadline: req.CompletionDeadline,
		Items:              linesFromRequests(req.Lines),
	}, newPartner)
	if err != nil {
		return domain.TransactionDetail{}, err
	}

	if newPartner != nil {
		s.logAudit(ctx, "partner_create", "partner", fmt.Sprint(updated.PartnerID), "name="+newPartner.Name)
	}
	s.logAudit(ctx, "transaction_update", "transaction", updated.Code(), fmt.Sprintf("lines=%d", len(updated.Items)))
	return detailOf(*updated, time.Now().UTC()), nil
}

func (s *Service) DeleteTransaction(ctx context.Context, id int64) error {
	if err := s.requireRole(ctx, domain.RoleManager, domain.RoleAdmin); err != nil {
		return err
	}

	if err := s.repo.DeleteTransaction(ctx, id); err != nil {
		return err
	}

	s.logAudit(ctx, "transaction_delete", "transaction", fmt.Sprint(id), "")
	return nil
}

func (s *Service) AuthorizeTransaction(ctx context.Context, id int64) (domain.TransactionDetail, error) {
	return s.decide(ctx, id, "transaction_authorize", s.repo.AuthorizeTransaction)
}

func (s *Service) RejectTransaction(ctx context.Context, id int64) (domain.TransactionDetail, error) {
	return s.decide(ctx, id, "transaction_reject", s.repo.RejectTransaction)
}

func (s *Service) decide(ctx context.Context, id int64, action string, op func(context.Context, int64, string, time.Time) (*domain.Transaction, error)) (domain.TransactionDetail, error) {
	if err := s.requireRole(ctx, domain.RoleManager, domain.RoleAdmin); err != nil {
		return domain.TransactionDetail{}, err
	}

	actor, _ := ActorFromContext(ctx)
	now := time.Now().UTC()
	updated, err := op(ctx, id, actor.Username, now)
	if err != nil {
		return domain.TransactionDetail{}, err
	}

	s.logAudit(ctx, action, "transaction", updated.Code(), "status="+updated.Status)
	return detailOf(*updated, now), nil
}

// CompleteTransaction settles the transaction against stock: imports mint
// batches, exports drain them oldest first. The whole settlement is atomic
// in the store and a completed transaction never changes again.
func (s *Service) CompleteTransaction(ctx context.Context, id int64) (domain.TransactionDetail, error) {
	if err := s.requireRole(ctx, domain.RoleManager, domain.RoleAdmin); err != nil {
		return domain.TransactionDetail{}, err
	}

	actor, _ := ActorFromContext(ctx)
	now := time.Now().UTC()
	completed, err := s.repo.CompleteTransaction(ctx, id, actor.Username, now)
	if err != nil {
		return domain.TransactionDetail{}, err
	}

	s.invalidateStock(ctx, completed.InventoryID)
	s.logAudit(ctx, "transaction_complete", "transaction", completed.Code(),
		fmt.Sprintf("type=%s,report_value=%s", completed.Type, completed.ReportValue()))
	s.logger.Info("transaction completed",
		zap.String("code", completed.Code()),
		zap.String("type", completed.Type),
		zap.String("report_value", completed.ReportValue().String()),
		zap.String("performed_by", completed.PerformedBy))
	return detailOf(*completed, now), nil
}

// PeriodReport aggregates completed transactions by completion date.
// Month 0 covers the whole year; an empty slug covers all inventories.
func (s *Service) PeriodReport(ctx context.Context, inventorySlug string, month int, year int) (domain.PeriodReport, error) {
	if month < 0 || month > 12 {
		return domain.PeriodReport{}, fmt.Errorf("%w: month must be 0..12", ErrValidation)
	}
	if year < 1 {
		return domain.PeriodReport{}, fmt.Errorf("%w: year is required", ErrValidation)
	}

	var inventoryID int64
	if inventorySlug != "" {
		inv, err := s.repo.GetInventoryBySlug(ctx, inventorySlug)
		if err != nil {
			return domain.PeriodReport{}, err
		}
		inventoryID = inv.ID
	}

	report, err := s.repo.GetPeriodReport(ctx, inventoryID, month, year)
	if err != nil {
		return domain.PeriodReport{}, err
	}
	return *report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

// partnerArgs enforces the exactly-one rule for the counterparty. A non-nil
// result is a new partner the store creates atomically with the transaction.
func partnerArgs(partnerID int64, newPartner *domain.PartnerCreateRequest) (*domain.Partner, error) {
	switch {
	case partnerID != 0 && newPartner != nil:
		return nil, fmt.Errorf("%w: pass either partner_id or new_partner, not both", ErrValidation)
	case partnerID != 0:
		return nil, nil
	case newPartner != nil:
		partner, err := partnerFromRequest(*newPartner)
		if err != nil {
			return nil, err
		}
		return &partner, nil
	default:
		return nil, fmt.Errorf("%w: a partner is required", ErrValidation)
	}
}

func partnerFromRequest(req domain.PartnerCreateRequest) (domain.Partner, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Partner{}, fmt.Errorf("%w: partner name is required", ErrValidation)
	}
	return domain.Partner{
		Name:          name,
		Email:         strings.TrimSpace(req.Email),
		Phone:         strings.TrimSpace(req.Phone),
		Address:       strings.TrimSpace(req.Address),
		ContactPerson: strings.TrimSpace(req.ContactPerson),
		TaxCode:       strings.TrimSpace(req.TaxCode),
	}, nil
}

func (s *Service) requireRole(ctx context.Context, roles ...string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return ErrForbidden
	}
	for _, role := range roles {
		if actor.Role == role {
			return nil
		}
	}
	return fmt.Errorf("%w: requires one of %s", ErrForbidden, strings.Join(roles, ", "))
}

func (s *Service) invalidateStock(ctx context.Context, inventoryID int64) {
	if err := s.stock.Invalidate(ctx, inventoryID); err != nil {
		s.logger.Warn("stock cache invalidation failed", zap.Int64("inventory_id", inventoryID), zap.Error(err))
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err))
	}
}

func checkLineRequests(lines []domain.TransactionLineRequest) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: at least one line is required", ErrValidation)
	}
	for i, line := range lines {
		if line.Quantity.Sign() <= 0 {
			return fmt.Errorf("%w: line %d quantity must be positive", ErrValidation, i+1)
		}
		if line.UnitCost.Sign() < 0 {
			return fmt.Errorf("%w: line %d unit cost cannot be negative", ErrValidation, i+1)
		}
		if line.Discount.Sign() < 0 || line.Discount.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("%w: line %d discount must be 0..100", ErrValidation, i+1)
		}
	}
	return nil
}

func linesFromRequests(lines []domain.TransactionLineRequest) []domain.TransactionItem {
	items := make([]domain.TransactionItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.TransactionItem{
			ItemID:   line.ItemID,
			UnitCost: line.UnitCost,
			Quantity: line.Quantity,
			Discount: line.Discount,
			Notes:    strings.TrimSpace(line.Notes),
		})
	}
	return items
}

// detailOf projects a transaction for the read side. The spelled-out amount
// follows what a printed receipt shows: the realized value once completed,
// the quoted value before that.
func detailOf(tx domain.Transaction, now time.Time) domain.TransactionDetail {
	amount := tx.Value()
	if tx.Status == domain.TxStatusCompleted {
		amount = tx.ReportValue()
	}
	return domain.TransactionDetail{
		Transaction:      tx,
		Code:             tx.Code(),
		Value:            tx.Value(),
		ReportValue:      tx.ReportValue(),
		ReportValueWords: vietnum.Words(amount.Round(0).IntPart()) + " đồng",
		IsOverdue:        tx.IsOverdue(now),
	}
}
