package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"vaalbara/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("already exists")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTransactionLocked = errors.New("transaction is completed and locked")
	ErrPartnerInUse      = errors.New("partner is referenced by transactions")
	ErrItemHasStock      = errors.New("item still has stock")
)

// TransactionFilter narrows ListTransactions. Zero values mean "any".
type TransactionFilter struct {
	InventoryID int64
	Type        string
	Status      string
	Limit       int
}

type Repository interface {
	ListInventories(ctx context.Context) ([]domain.Inventory, error)
	CreateInventory(ctx context.Context, inv domain.Inventory) (*domain.Inventory, error)
	GetInventoryBySlug(ctx context.Context, slug string) (*domain.Inventory, error)
	GetInventorySummary(ctx context.Context, slug string) (*domain.InventorySummary, error)

	ListItems(ctx context.Context, inventoryID int64, includeInactive bool) ([]domain.ItemDetail, error)
	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	GetItemByID(ctx context.Context, id int64) (*domain.ItemDetail, error)
	UpdateItem(ctx context.Context, id int64, req domain.ItemUpdateRequest) (*domain.Item, error)
	DeactivateItem(ctx context.Context, id int64) (*domain.Item, error)
	GetStockMap(ctx context.Context, inventoryID int64) (map[int64]decimal.Decimal, error)

	ListPartners(ctx context.Context) ([]domain.Partner, error)
	CreatePartner(ctx context.Context, partner domain.Partner) (*domain.Partner, error)
	GetPartnerByID(ctx context.Context, id int64) (*domain.Partner, error)
	UpdatePartner(ctx context.Context, id int64, req domain.PartnerUpdateRequest) (*domain.Partner, error)
	DeletePartner(ctx context.Context, id int64) error

	ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, error)
	// CreateTransaction persists the header and lines. A non-nil newPartner
	// is created in the same atomic unit and becomes the counterparty, so a
	// failing line never strands a partner row.
	CreateTransaction(ctx context.Context, tx domain.Transaction, newPartner *domain.Partner) (*domain.Transaction, error)
	GetTransactionByID(ctx context.Context, id int64) (*domain.Transaction, error)
	UpdateTransaction(ctx context.Context, tx domain.Transaction, newPartner *domain.Partner) (*domain.Transaction, error)
	DeleteTransaction(ctx context.Context, id int64) error
	AuthorizeTransaction(ctx context.Context, id int64, actor string, at time.Time) (*domain.Transaction, error)
	RejectTransaction(ctx context.Context, id int64, actor string, at time.Time) (*domain.Transaction, error)
	// CompleteTransaction runs the whole settlement atomically: the status
	// write, report value writes and batch mutations all land or none do.
	CompleteTransaction(ctx context.Context, id int64, actor string, at time.Time) (*domain.Transaction, error)

	GetPeriodReport(ctx context.Context, inventoryID int64, month int, year int) (*domain.PeriodReport, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
