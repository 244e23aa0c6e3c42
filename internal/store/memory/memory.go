package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"vaalbara/backend/internal/domain"
	"vaalbara/backend/internal/fifo"
	"vaalbara/backend/internal/store"
	"vaalbara/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	inventories     map[int64]domain.Inventory
	items           map[int64]domain.Item
	batches         map[int64]domain.ItemBatch
	partners        map[int64]domain.Partner
	transactions    map[int64]domain.Transaction
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount

	nextInventoryID   int64
	nextItemID        int64
	nextBatchID       int64
	nextPartnerID     int64
	nextTransactionID int64
	nextLineID        int64
}

func New() *Store {
	return &Store{
		inventories:     make(map[int64]domain.Inventory),
		items:           make(map[int64]domain.Item),
		batches:         make(map[int64]domain.ItemBatch),
		partners:        make(map[int64]domain.Partner),
		transactions:    make(map[int64]domain.Transaction),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

// NewSeeded builds a store with a demo inventory so the server is usable
// out of the box without PostgreSQL.
func NewSeeded() *Store {
	s := New()
	s.inventories[1] = domain.Inventory{ID: 1, Name: "Kho chính", Slug: "kho-chinh", Description: "Main warehouse"}
	s.nextInventoryID = 1

	items := []domain.Item{
		{ID: 1, InventoryID: 1, Name: "Paracetamol 500mg", Brand: "DHG", Packaging: "Hộp 10 vỉ", Unit: domain.UnitBox, Category: "Giảm đau", IsActive: true},
		{ID: 2, InventoryID: 1, Name: "Vitamin C 1000mg", Brand: "Traphaco", Packaging: "Tuýp 20 viên", Unit: domain.UnitTube, Category: "Vitamin", IsActive: true},
		{ID: 3, InventoryID: 1, Name: "Nước muối sinh lý 500ml", Brand: "Vidipha", Packaging: "Chai", Unit: domain.UnitBottle, Category: "Sát khuẩn", IsActive: true},
	}
	for _, it := range items {
		s.items[it.ID] = it
	}
	s.nextItemID = int64(len(items))

	s.partners[1] = domain.Partner{ID: 1, Name: "Dược phẩm Hòa Bình", Phone: "0283812345", ContactPerson: "Trần Văn Bình", TaxCode: "0301234567"}
	s.nextPartnerID = 1
	return s
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Passwords come from SEED_STAFF_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_ADMIN_PASSWORD; hardcoded dev defaults are used when unset. The
// backend uses PostgreSQL accounts when DATABASE_URL is set.
func seedUsers() map[string]domain.UserAccount {
	defaults := []struct {
		username string
		envKey   string
		fallback string
		role     string
	}{
		{"staff", "SEED_STAFF_PASSWORD", "staff123", domain.RoleStaff},
		{"manager", "SEED_MANAGER_PASSWORD", "manager123", domain.RoleManager},
		{"admin", "SEED_ADMIN_PASSWORD", "admin123", domain.RoleAdmin},
	}

	now := time.Now().UTC()
	users := make(map[string]domain.UserAccount, len(defaults))
	for _, u := range defaults {
		pwd := os.Getenv(u.envKey)
		if pwd == "" {
			pwd = u.fallback
			log.Printf("[memory-store] WARNING: using default dev credentials for %s. Set %s to override.", u.username, u.envKey)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func (s *Store) ListInventories(_ context.Context) ([]domain.Inventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Inventory, 0, len(s.inventories))
	for _, inv := range s.inventories {
		result = append(result, inv)
	}
	slices.SortFunc(result, func(a, b domain.Inventory) int {
		return cmpString(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) CreateInventory(_ context.Context, inv domain.Inventory) (*domain.Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.inventories {
		if existing.Slug == inv.Slug {
			return nil, store.ErrDuplicate
		}
	}

	s.nextInventoryID++
	inv.ID = s.nextInventoryID
	s.inventories[inv.ID] = inv
	created := inv
	return &created, nil
}

func (s *Store) GetInventoryBySlug(_ context.Context, slug string) (*domain.Inventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.inventoryBySlug(slug)
	if !ok {
		return nil, store.ErrNotFound
	}
	found := inv
	return &found, nil
}

func (s *Store) GetInventorySummary(_ context.Context, slug string) (*domain.InventorySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.inventoryBySlug(slug)
	if !ok {
		return nil, store.ErrNotFound
	}

	summary := domain.InventorySummary{
		Inventory:    inv,
		Value:        decimal.Zero,
		TotalCost:    decimal.Zero,
		TotalRevenue: decimal.Zero,
		TotalProfit:  decimal.Zero,
	}

	itemIDs := make(map[int64]bool)
	for _, it := range s.items {
		if it.InventoryID != inv.ID {
			continue
		}
		summary.NumUniqueItems++
		itemIDs[it.ID] = true
	}
	for _, b := range s.batches {
		if itemIDs[b.ItemID] {
			summary.Value = summary.Value.Add(b.Value())
		}
	}
	for _, tx := range s.transactions {
		if tx.InventoryID != inv.ID {
			continue
		}
		summary.NumTransactions++
		if tx.Status != domain.TxStatusCompleted {
			continue
		}
		summary.TotalCost = summary.TotalCost.Add(tx.ExtraCost)
		switch tx.Type {
		case domain.TxTypeImport:
			summary.TotalCost = summary.TotalCost.Add(tx.Value())
		case domain.TxTypeExport:
			summary.TotalRevenue = summary.TotalRevenue.Add(tx.Value())
		}
	}
	summary.TotalProfit = summary.TotalRevenue.Sub(summary.TotalCost)
	return &summary, nil
}

func (s *Store) ListItems(_ context.Context, inventoryID int64, includeInactive bool) ([]domain.ItemDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ItemDetail, 0, len(s.items))
	for _, it := range s.items {
		if inventoryID != 0 && it.InventoryID != inventoryID {
			continue
		}
		if !includeInactive && !it.IsActive {
			continue
		}
		result = append(result, s.itemDetailLocked(it))
	}
	slices.SortFunc(result, func(a, b domain.ItemDetail) int {
		return cmpString(a.Item.Name, b.Item.Name)
	})
	return result, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inventories[item.InventoryID]; !ok {
		return nil, store.ErrNotFound
	}
	for _, existing := range s.items {
		if existing.InventoryID == item.InventoryID && strings.EqualFold(existing.Name, item.Name) {
			return nil, store.ErrDuplicate
		}
	}

	s.nextItemID++
	item.ID = s.nextItemID
	item.IsActive = true
	s.items[item.ID] = item
	created := item
	return &created, nil
}

func (s *Store) GetItemByID(_ context.Context, id int64) (*domain.ItemDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	detail := s.itemDetailLocked(it)
	return &detail, nil
}

func (s *Store) UpdateItem(_ context.Context, id int64, req domain.ItemUpdateRequest) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if req.Name != nil {
		for _, existing := range s.items {
			if existing.ID != id && existing.InventoryID == it.InventoryID && strings.EqualFold(existing.Name, *req.Name) {
				return nil, store.ErrDuplicate
			}
		}
		it.Name = *req.Name
	}
	if req.Brand != nil {
		it.Brand = *req.Brand
	}
	if req.Packaging != nil {
		it.Packaging = *req.Packaging
	}
	if req.Unit != nil {
		it.Unit = *req.Unit
	}
	if req.Category != nil {
		it.Category = *req.Category
	}
	if req.Description != nil {
		it.Description = *req.Description
	}

	s.items[id] = it
	updated := it
	return &updated, nil
}

func (s *Store) DeactivateItem(_ context.Context, id int64) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if s.totalStockLocked(id).Sign() > 0 {
		return nil, store.ErrItemHasStock
	}

	it.IsActive = false
	s.items[id] = it
	updated := it
	return &updated, nil
}

func (s *Store) GetStockMap(_ context.Context, inventoryID int64) (map[int64]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stockMap := make(map[int64]decimal.Decimal)
	for _, it := range s.items {
		if inventoryID != 0 && it.InventoryID != inventoryID {
			continue
		}
		if !it.IsActive {
			continue
		}
		stockMap[it.ID] = s.totalStockLocked(it.ID)
	}
	return stockMap, nil
}

func (s *Store) ListPartners(_ context.Context) ([]domain.Partner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Partner, 0, len(s.partners))
	for _, p := range s.partners {
		result = append(result, p)
	}
	slices.SortFunc(result, func(a, b domain.Partner) int {
		return cmpString(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) CreatePartner(_ context.Context, partner domain.Partner) (*domain.Partner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createPartnerLocked(partner)
}

func (s *Store) createPartnerLocked(partner domain.Partner) (*domain.Partner, error) {
	for _, existing := range s.partners {
		if strings.EqualFold(existing.Name, partner.Name) {
			return nil, store.ErrDuplicate
		}
	}
	s.nextPartnerID++
	partner.ID = s.nextPartnerID
	s.partners[partner.ID] = partner
	created := partner
	return &created, nil
}

func (s *Store) GetPartnerByID(_ context.Context, id int64) (*domain.Partner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.partners[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := p
	return &found, nil
}

func (s *Store) UpdatePartner(_ context.Context, id int64, req domain.PartnerUpdateRequest) (*domain.Partner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partners[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if req.Name != nil {
		for _, existing := range s.partners {
			if existing.ID != id && strings.EqualFold(existing.Name, *req.Name) {
				return nil, store.ErrDuplicate
			}
		}
		p.Name = *req.Name
	}
	if req.Email != nil {
		p.Email = *req.Email
	}
	if req.Phone != nil {
		p.Phone = *req.Phone
	}
	if req.Address != nil {
		p.Address = *req.Address
	}
	if req.ContactPerson != nil {
		p.ContactPerson = *req.ContactPerson
	}
	if req.TaxCode != nil {
		p.TaxCode = *req.TaxCode
	}

	s.partners[id] = p
	updated := p
	return &updated, nil
}

func (s *Store) DeletePartner(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.partners[id]; !ok {
		return store.ErrNotFound
	}
	for _, tx := range s.transactions {
		if tx.PartnerID == id {
			return store.ErrPartnerInUse
		}
	}
	delete(s.partners, id)
	return nil
}

func (s *Store) ListTransactions(_ context.Context, filter store.TransactionFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		if filter.InventoryID != 0 && tx.InventoryID != filter.InventoryID {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		result = append(result, cloneTransaction(tx))
	}
	slices.SortFunc(result, func(a, b domain.Transaction) int {
		if !a.CreationDate.Equal(b.CreationDate) {
			if a.CreationDate.After(b.CreationDate) {
				return -1
			}
			return 1
		}
		return int(b.ID - a.ID)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction, newPartner *domain.Partner) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inventories[tx.InventoryID]; !ok {
		return nil, store.ErrNotFound
	}
	if err := s.checkLinesLocked(tx.InventoryID, tx.Items); err != nil {
		return nil, err
	}
	if newPartner != nil {
		created, err := s.createPartnerLocked(*newPartner)
		if err != nil {
			return nil, err
		}
		tx.PartnerID = created.ID
	} else if _, ok := s.partners[tx.PartnerID]; !ok {
		return nil, store.ErrNotFound
	}

	s.nextTransactionID++
	tx.ID = s.nextTransactionID
	tx.Status = domain.TxStatusPending
	if tx.CreationDate.IsZero() {
		tx.CreationDate = time.Now().UTC()
	}
	for i := range tx.Items {
		s.nextLineID++
		tx.Items[i].ID = s.nextLineID
		tx.Items[i].TransactionID = tx.ID
		tx.Items[i].ReportValue = decimal.Zero
	}

	s.transactions[tx.ID] = cloneTransaction(tx)
	created := cloneTransaction(tx)
	return &created, nil
}

func (s *Store) GetTransactionByID(_ context.Context, id int64) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneTransaction(tx)
	return &found, nil
}

// UpdateTransaction replaces the header and line set of a non-completed
// transaction. Status and authorization are left as they are; only
// completion locks the record.
func (s *Store) UpdateTransaction(_ context.Context, tx domain.Transaction, newPartner *domain.Partner) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.transactions[tx.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if current.Status == domain.TxStatusCompleted {
		return nil, store.ErrTransactionLocked
	}
	if err := s.checkLinesLocked(current.InventoryID, tx.Items); err != nil {
		return nil, err
	}
	if newPartner != nil {
		created, err := s.createPartnerLocked(*newPartner)
		if err != nil {
			return nil, err
		}
		tx.PartnerID = created.ID
	} else if _, ok := s.partners[tx.PartnerID]; !ok {
		return nil, store.ErrNotFound
	}

	current.PartnerID = tx.PartnerID
	current.PartnerBill = tx.PartnerBill
	current.ExtraCost = tx.ExtraCost
	current.Notes = tx.Notes
	current.CompletionDeadline = tx.CompletionDeadline
	current.Items = make([]domain.TransactionItem, len(tx.Items))
	for i, line := range tx.Items {
		s.nextLineID++
		line.ID = s.nextLineID
		line.TransactionID = current.ID
		line.ReportValue = decimal.Zero
		current.Items[i] = line
	}

	s.transactions[current.ID] = cloneTransaction(current)
	updated := cloneTransaction(current)
	return &updated, nil
}

func (s *Store) DeleteTransaction(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return store.ErrNotFound
	}
	if tx.Status == domain.TxStatusCompleted {
		return store.ErrTransactionLocked
	}
	delete(s.transactions, id)
	return nil
}

func (s *Store) AuthorizeTransaction(_ context.Context, id int64, actor string, at time.Time) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Status != domain.TxStatusPending && tx.Status != domain.TxStatusRejected {
		return nil, store.ErrInvalidTransition
	}

	tx.Status = domain.TxStatusAuthorized
	tx.AuthorizedBy = actor
	// The stamp marks the first authorization and never moves.
	if tx.AuthorizationDate == nil {
		stamp := at
		tx.AuthorizationDate = &stamp
	}
	s.transactions[id] = tx
	updated := cloneTransaction(tx)
	return &updated, nil
}

// RejectTransaction flips status only; any earlier authorization record is
// kept as-is.
func (s *Store) RejectTransaction(_ context.Context, id int64, _ string, _ time.Time) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Status == domain.TxStatusCompleted {
		return nil, store.ErrInvalidTransition
	}

	tx.Status = domain.TxStatusRejected
	s.transactions[id] = tx
	updated := cloneTransaction(tx)
	return &updated, nil
}

// CompleteTransaction settles a transaction against stock. The lock is held
// for the whole settlement so the status write, report values and batch
// mutations are observed together or not at all.
func (s *Store) CompleteTransaction(_ context.Context, id int64, actor string, at time.Time) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Status == domain.TxStatusCompleted {
		return nil, store.ErrInvalidTransition
	}
	tx = cloneTransaction(tx)

	switch tx.Type {
	case domain.TxTypeImport:
		s.settleImportLocked(&tx, at)
	case domain.TxTypeExport:
		if err := s.settleExportLocked(&tx); err != nil {
			return nil, err
		}
	default:
		return nil, store.ErrInvalidTransition
	}

	tx.Status = domain.TxStatusCompleted
	tx.PerformedBy = actor
	tx.CompletionDate = &at

	// Anything the completion put back in stock flips its item active again.
	for _, line := range tx.Items {
		it := s.items[line.ItemID]
		if !it.IsActive && s.totalStockLocked(line.ItemID).Sign() > 0 {
			it.IsActive = true
			s.items[line.ItemID] = it
		}
	}

	s.transactions[id] = cloneTransaction(tx)
	updated := cloneTransaction(tx)
	return &updated, nil
}

// settleImportLocked creates one batch per line, dated at the completion
// moment so later exports drain them in arrival order. The batch carries the
// line's unit cost as quoted; discounts affect the transaction value, not
// the stock valuation.
func (s *Store) settleImportLocked(tx *domain.Transaction, at time.Time) {
	for i, line := range tx.Items {
		s.nextBatchID++
		s.batches[s.nextBatchID] = domain.ItemBatch{
			ID:            s.nextBatchID,
			TransactionID: tx.ID,
			ItemID:        line.ItemID,
			CreationDate:  at,
			UnitCost:      line.UnitCost,
			Quantity:      line.Quantity,
			Notes:         line.Notes,
		}
		tx.Items[i].ReportValue = line.Quantity.Mul(line.UnitCost)
	}
}

// settleExportLocked plans every line before touching stock so an
// insufficiency on any line aborts the whole settlement.
func (s *Store) settleExportLocked(tx *domain.Transaction) error {
	working := make(map[int64][]fifo.Batch)
	for _, line := range tx.Items {
		if _, ok := working[line.ItemID]; ok {
			continue
		}
		var available []fifo.Batch
		for _, b := range s.batches {
			if b.ItemID == line.ItemID {
				available = append(available, fifo.Batch{
					ID:           b.ID,
					CreationDate: b.CreationDate,
					UnitCost:     b.UnitCost,
					Quantity:     b.Quantity,
				})
			}
		}
		working[line.ItemID] = available
	}

	type mutation struct {
		batchID   int64
		remaining decimal.Decimal
	}
	var mutations []mutation

	for i, line := range tx.Items {
		plan, err := fifo.Consume(working[line.ItemID], line.Quantity)
		if err != nil {
			return store.ErrInsufficientStock
		}
		tx.Items[i].ReportValue = plan.Cost

		for _, c := range plan.Consumptions {
			mutations = append(mutations, mutation{batchID: c.BatchID, remaining: c.Remaining})
			next := working[line.ItemID][:0:0]
			for _, b := range working[line.ItemID] {
				if b.ID == c.BatchID {
					b.Quantity = c.Remaining
				}
				if b.Quantity.Sign() > 0 {
					next = append(next, b)
				}
			}
			working[line.ItemID] = next
		}
	}

	for _, m := range mutations {
		if m.remaining.Sign() <= 0 {
			delete(s.batches, m.batchID)
			continue
		}
		b := s.batches[m.batchID]
		b.Quantity = m.remaining
		s.batches[m.batchID] = b
	}
	return nil
}

func (s *Store) GetPeriodReport(_ context.Context, inventoryID int64, month int, year int) (*domain.PeriodReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if inventoryID != 0 {
		if _, ok := s.inventories[inventoryID]; !ok {
			return nil, store.ErrNotFound
		}
	}

	report := domain.PeriodReport{
		InventoryID: inventoryID,
		Month:       month,
		Year:        year,
		Revenue:     decimal.Zero,
		Cost:        decimal.Zero,
	}
	for _, tx := range s.transactions {
		if tx.Status != domain.TxStatusCompleted || tx.CompletionDate == nil {
			continue
		}
		if inventoryID != 0 && tx.InventoryID != inventoryID {
			continue
		}
		done := tx.CompletionDate.UTC()
		if done.Year() != year {
			continue
		}
		if month != 0 && int(done.Month()) != month {
			continue
		}
		report.Cost = report.Cost.Add(tx.ExtraCost)
		switch tx.Type {
		case domain.TxTypeImport:
			report.Cost = report.Cost.Add(tx.Value())
		case domain.TxTypeExport:
			report.Revenue = report.Revenue.Add(tx.Value())
		}
	}
	report.Profit = report.Revenue.Sub(report.Cost)
	return &report, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("log")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, len(s.auditLogs))
	copy(result, s.auditLogs)
	slices.Reverse(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrDuplicate
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := user
	return &found, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		result = append(result, u)
	}
	slices.SortFunc(result, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return result, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) inventoryBySlug(slug string) (domain.Inventory, bool) {
	for _, inv := range s.inventories {
		if inv.Slug == slug {
			return inv, true
		}
	}
	return domain.Inventory{}, false
}

func (s *Store) checkLinesLocked(inventoryID int64, lines []domain.TransactionItem) error {
	for _, line := range lines {
		it, ok := s.items[line.ItemID]
		if !ok || it.InventoryID != inventoryID {
			return store.ErrNotFound
		}
	}
	return nil
}

func (s *Store) itemDetailLocked(it domain.Item) domain.ItemDetail {
	batches := s.itemBatchesLocked(it.ID)
	detail := domain.ItemDetail{
		Item:       it,
		Batches:    batches,
		TotalStock: decimal.Zero,
		Value:      decimal.Zero,
	}
	for _, b := range batches {
		detail.TotalStock = detail.TotalStock.Add(b.Quantity)
		detail.Value = detail.Value.Add(b.Value())
	}
	return detail
}

func (s *Store) itemBatchesLocked(itemID int64) []domain.ItemBatch {
	result := make([]domain.ItemBatch, 0, 4)
	for _, b := range s.batches {
		if b.ItemID == itemID {
			result = append(result, b)
		}
	}
	slices.SortFunc(result, func(a, b domain.ItemBatch) int {
		if !a.CreationDate.Equal(b.CreationDate) {
			if a.CreationDate.Before(b.CreationDate) {
				return -1
			}
			return 1
		}
		return int(a.ID - b.ID)
	})
	return result
}

func (s *Store) totalStockLocked(itemID int64) decimal.Decimal {
	total := decimal.Zero
	for _, b := range s.batches {
		if b.ItemID == itemID {
			total = total.Add(b.Quantity)
		}
	}
	return total
}

func cloneTransaction(tx domain.Transaction) domain.Transaction {
	cloned := tx
	cloned.Items = make([]domain.TransactionItem, len(tx.Items))
	copy(cloned.Items, tx.Items)
	return cloned
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
