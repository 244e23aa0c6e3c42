package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types.
const (
	TxTypeImport = "Import"
	TxTypeExport = "Export"
)

// Transaction statuses.
const (
	TxStatusPending    = "Pending"
	TxStatusAuthorized = "Authorized"
	TxStatusRejected   = "Rejected"
	TxStatusCompleted  = "Completed"
)

// Item stock units.
const (
	UnitNone    = "None"
	UnitPiece   = "Piece"
	UnitBox     = "Box"
	UnitBottle  = "Bottle"
	UnitJar     = "Jar"
	UnitTube    = "Tube"
	UnitBag     = "Bag"
	UnitSack    = "Sack"
	UnitBlister = "Blister"
	UnitPill    = "Pill"
)

var validUnits = map[string]bool{
	UnitNone: true, UnitPiece: true, UnitBox: true, UnitBottle: true,
	UnitJar: true, UnitTube: true, UnitBag: true, UnitSack: true,
	UnitBlister: true, UnitPill: true,
}

func IsValidUnit(unit string) bool {
	return validUnits[unit]
}

func IsValidTxType(txType string) bool {
	return txType == TxTypeImport || txType == TxTypeExport
}

type Inventory struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

type InventoryCreateRequest struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

// InventorySummary carries the derived figures of one inventory. All fields
// are computed from current items, batches and transactions at read time.
type InventorySummary struct {
	Inventory       Inventory       `json:"inventory"`
	NumUniqueItems  int             `json:"num_unique_items"`
	NumTransactions int             `json:"num_transactions"`
	Value           decimal.Decimal `json:"value"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	TotalRevenue    decimal.Decimal `json:"total_revenue"`
	TotalProfit     decimal.Decimal `json:"total_profit"`
}

type Item struct {
	ID          int64  `json:"id"`
	InventoryID int64  `json:"inventory_id"`
	Name        string `json:"name"`
	Brand       string `json:"brand"`
	Packaging   string `json:"packaging"`
	Unit        string `json:"unit"`
	Category    string `json:"category"`
	Description string `json:"description"`
	IsActive    bool   `json:"is_active"`
}

type ItemCreateRequest struct {
	InventorySlug string `json:"inventory_slug"`
	Name          string `json:"name"`
	Brand         string `json:"brand"`
	Packaging     string `json:"packaging"`
	Unit          string `json:"unit"`
	Category      string `json:"category"`
	Description   string `json:"description"`
}

type ItemUpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Brand       *string `json:"brand,omitempty"`
	Packaging   *string `json:"packaging,omitempty"`
	Unit        *string `json:"unit,omitempty"`
	Category    *string `json:"category,omitempty"`
	Description *string `json:"description,omitempty"`
}

// ItemDetail is an item together with its live batches and the stock/value
// figures derived from them.
type ItemDetail struct {
	Item       Item            `json:"item"`
	Batches    []ItemBatch     `json:"batches"`
	TotalStock decimal.Decimal `json:"total_stock"`
	Value      decimal.Decimal `json:"value"`
}

// ItemBatch is a FIFO lot of stock. Batches are created only by Import
// completions and reduced or deleted only by Export completions.
type ItemBatch struct {
	ID            int64           `json:"id"`
	TransactionID int64           `json:"transaction_id"`
	ItemID        int64           `json:"item_id"`
	CreationDate  time.Time       `json:"creation_date"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	Quantity      decimal.Decimal `json:"quantity"`
	Notes         string          `json:"notes"`
}

// Value is the monetary worth of the batch at its recorded unit cost.
func (b ItemBatch) Value() decimal.Decimal {
	return b.Quantity.Mul(b.UnitCost)
}

type Partner struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Address       string `json:"address"`
	ContactPerson string `json:"contact_person"`
	TaxCode       string `json:"tax_code"`
}

type PartnerCreateRequest struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Address       string `json:"address"`
	ContactPerson string `json:"contact_person"`
	TaxCode       string `json:"tax_code"`
}

type PartnerUpdateRequest struct {
	Name          *string `json:"name,omitempty"`
	Email         *string `json:"email,omitempty"`
	Phone         *string `json:"phone,omitempty"`
	Address       *string `json:"address,omitempty"`
	ContactPerson *string `json:"contact_person,omitempty"`
	TaxCode       *string `json:"tax_code,omitempty"`
}

type Transaction struct {
	ID                 int64             `json:"id"`
	Type               string            `json:"type"`
	InventoryID        int64             `json:"inventory_id"`
	PartnerID          int64             `json:"partner_id"`
	PartnerBill        string            `json:"partner_bill"`
	ExtraCost          decimal.Decimal   `json:"extra_cost"`
	Notes              string            `json:"notes"`
	CreationDate       time.Time         `json:"creation_date"`
	CompletionDeadline *time.Time        `json:"completion_deadline,omitempty"`
	AuthorizationDate  *time.Time        `json:"authorization_date,omitempty"`
	CompletionDate     *time.Time        `json:"completion_date,omitempty"`
	CreatedBy          string            `json:"created_by"`
	AuthorizedBy       string            `json:"authorized_by,omitempty"`
	PerformedBy        string            `json:"performed_by,omitempty"`
	Status             string            `json:"status"`
	Items              []TransactionItem `json:"items"`
}

// Code derives the display identifier from type and id: NK00007 for an
// Import with id 7, XK00123 for an Export with id 123, "New" when the
// transaction has not been persisted yet.
func (t Transaction) Code() string {
	if t.ID == 0 {
		return "New"
	}
	prefix := "NK"
	if t.Type == TxTypeExport {
		prefix = "XK"
	}
	return fmt.Sprintf("%s%05d", prefix, t.ID)
}

// Value is the quoted (pre-completion) worth across all lines.
func (t Transaction) Value() decimal.Decimal {
	total := decimal.Zero
	for _, line := range t.Items {
		total = total.Add(line.Value())
	}
	return total
}

// ReportValue is the realized cost basis across all lines. It is only
// meaningful once the transaction has been completed.
func (t Transaction) ReportValue() decimal.Decimal {
	total := decimal.Zero
	for _, line := range t.Items {
		total = total.Add(line.ReportValue)
	}
	return total
}

// IsOverdue reports whether the completion deadline has passed without the
// transaction reaching Completed.
func (t Transaction) IsOverdue(now time.Time) bool {
	if t.CompletionDeadline == nil || t.Status == TxStatusCompleted {
		return false
	}
	return now.After(*t.CompletionDeadline)
}

type TransactionItem struct {
	ID            int64           `json:"id"`
	TransactionID int64           `json:"transaction_id"`
	ItemID        int64           `json:"item_id"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	Quantity      decimal.Decimal `json:"quantity"`
	Discount      decimal.Decimal `json:"discount"`
	Notes         string          `json:"notes"`
	ReportValue   decimal.Decimal `json:"report_value"`
}

// Value is the quoted line worth: quantity * unit_cost * (1 - discount/100).
func (ti TransactionItem) Value() decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(ti.Discount.Div(decimal.NewFromInt(100)))
	return ti.Quantity.Mul(ti.UnitCost).Mul(factor)
}

// ReportUnitCost is the realized unit cost after completion. The second
// return value is false when quantity is zero and the figure is undefined.
func (ti TransactionItem) ReportUnitCost() (decimal.Decimal, bool) {
	if ti.Quantity.IsZero() {
		return decimal.Zero, false
	}
	return ti.ReportValue.Div(ti.Quantity), true
}

type TransactionLineRequest struct {
	ItemID   int64           `json:"item_id"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	Quantity decimal.Decimal `json:"quantity"`
	Discount decimal.Decimal `json:"discount"`
	Notes    string          `json:"notes"`
}

// TransactionCreateRequest carries the header, the counterparty (an existing
// partner id OR a full new-partner payload, exactly one) and the ordered
// line items.
type TransactionCreateRequest struct {
	Type               string                   `json:"type"`
	InventorySlug      string                   `json:"inventory_slug"`
	PartnerID          int64                    `json:"partner_id,omitempty"`
	NewPartner         *PartnerCreateRequest    `json:"new_partner,omitempty"`
	PartnerBill        string                   `json:"partner_bill"`
	ExtraCost          decimal.Decimal          `json:"extra_cost"`
	Notes              string                   `json:"notes"`
	CompletionDeadline *time.Time               `json:"completion_deadline,omitempty"`
	Lines              []TransactionLineRequest `json:"lines"`
}

// TransactionUpdateRequest is the edit shape; the submitted line list
// replaces the previous one in full.
type TransactionUpdateRequest struct {
	PartnerID          int64                    `json:"partner_id,omitempty"`
	NewPartner         *PartnerCreateRequest    `json:"new_partner,omitempty"`
	PartnerBill        string                   `json:"partner_bill"`
	ExtraCost          decimal.Decimal          `json:"extra_cost"`
	Notes              string                   `json:"notes"`
	CompletionDeadline *time.Time               `json:"completion_deadline,omitempty"`
	Lines              []TransactionLineRequest `json:"lines"`
}

// TransactionDetail is the read-side projection of one transaction.
type TransactionDetail struct {
	Transaction      Transaction     `json:"transaction"`
	Code             string          `json:"code"`
	Value            decimal.Decimal `json:"value"`
	ReportValue      decimal.Decimal `json:"report_value"`
	ReportValueWords string          `json:"report_value_words"`
	IsOverdue        bool            `json:"is_overdue"`
}

// PeriodReport aggregates completed-transaction figures for one period.
// Month == 0 means the whole year; InventoryID == 0 means all inventories.
type PeriodReport struct {
	InventoryID int64           `json:"inventory_id,omitempty"`
	Month       int             `json:"month,omitempty"`
	Year        int             `json:"year"`
	Revenue     decimal.Decimal `json:"revenue"`
	Cost        decimal.Decimal `json:"cost"`
	Profit      decimal.Decimal `json:"profit"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// Roles, in increasing order of capability.
const (
	RoleStaff   = "staff"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

func IsValidRole(role string) bool {
	return role == RoleStaff || role == RoleManager || role == RoleAdmin
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type User struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
