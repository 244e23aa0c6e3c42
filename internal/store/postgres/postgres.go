package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"vaalbara/backend/internal/domain"
	"vaalbara/backend/internal/fifo"
	"vaalbara/backend/internal/store"
	"vaalbara/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListInventories(ctx context.Context) ([]domain.Inventory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, slug, description
		FROM inventories
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	inventories := make([]domain.Inventory, 0, 8)
	for rows.Next() {
		var inv domain.Inventory
		if err := rows.Scan(&inv.ID, &inv.Name, &inv.Slug, &inv.Description); err != nil {
			return nil, err
		}
		inventories = append(inventories, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return inventories, nil
}

func (s *Store) CreateInventory(ctx context.Context, inv domain.Inventory) (*domain.Inventory, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO inventories (name, slug, description)
		VALUES ($1,$2,$3)
		RETURNING id
	`, inv.Name, inv.Slug, inv.Description).Scan(&inv.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	created := inv
	return &created, nil
}

func (s *Store) GetInventoryBySlug(ctx context.Context, slug string) (*domain.Inventory, error) {
	var inv domain.Inventory
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, description
		FROM inventories
		WHERE slug = $1
	`, slug).Scan(&inv.ID, &inv.Name, &inv.Slug, &inv.Description)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (s *Store) GetInventorySummary(ctx context.Context, slug string) (*domain.InventorySummary, error) {
	inv, err := s.GetInventoryBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	summary := domain.InventorySummary{
		Inventory:    *inv,
		Value:        decimal.Zero,
		TotalCost:    decimal.Zero,
		TotalRevenue: decimal.Zero,
		TotalProfit:  decimal.Zero,
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM items WHERE inventory_id = $1),
			(SELECT count(*) FROM transactions WHERE inventory_id = $1),
			COALESCE((
				SELECT sum(b.quantity * b.unit_cost)
				FROM item_batches b
				JOIN items i ON i.id = b.item_id
				WHERE i.inventory_id = $1
			), 0)
	`, inv.ID).Scan(&summary.NumUniqueItems, &summary.NumTransactions, &summary.Value)
	if err != nil {
		return nil, err
	}

	// All-time figures over completed transactions only.
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(sum(t.extra_cost), 0) + COALESCE(sum(li.import_value), 0),
			COALESCE(sum(le.export_value), 0)
		FROM transactions t
		LEFT JOIN LATERAL (
			SELECT sum(quantity * unit_cost * (1 - discount / 100)) AS import_value
			FROM transaction_items WHERE transaction_id = t.id AND t.type = 'Import'
		) li ON true
		LEFT JOIN LATERAL (
			SELECT sum(quantity * unit_cost * (1 - discount / 100)) AS export_value
			FROM transaction_items WHERE transaction_id = t.id AND t.type = 'Export'
		) le ON true
		WHERE t.inventory_id = $1 AND t.status = 'Completed'
	`, inv.ID).Scan(&summary.TotalCost, &summary.TotalRevenue)
	if err != nil {
		return nil, err
	}

	summary.TotalProfit = summary.TotalRevenue.Sub(summary.TotalCost)
	return &summary, nil
}

func (s *Store) ListItems(ctx context.Context, inventoryID int64, includeInactive bool) ([]domain.ItemDetail, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.inventory_id, i.name, i.brand, i.packaging, i.unit, i.category, i.description, i.is_active,
		       COALESCE(sum(b.quantity), 0), COALESCE(sum(b.quantity * b.unit_cost), 0)
		FROM items i
		LEFT JOIN item_batches b ON b.item_id = i.id
		WHERE ($1 = 0 OR i.inventory_id = $1)
		  AND ($2 OR i.is_active)
		GROUP BY i.id
		ORDER BY i.name
	`, inventoryID, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	details := make([]domain.ItemDetail, 0, 64)
	for rows.Next() {
		var d domain.ItemDetail
		it := &d.Item
		if err := rows.Scan(&it.ID, &it.InventoryID, &it.Name, &it.Brand, &it.Packaging, &it.Unit,
			&it.Category, &it.Description, &it.IsActive, &d.TotalStock, &d.Value); err != nil {
			return nil, err
		}
		d.Batches = []domain.ItemBatch{}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return details, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	item.IsActive = true
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO items (inventory_id, name, brand, packaging, unit, category, description, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,true)
		RETURNING id
	`, item.InventoryID, item.Name, item.Brand, item.Packaging, item.Unit, item.Category, item.Description).Scan(&item.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	created := item
	return &created, nil
}

func (s *Store) GetItemByID(ctx context.Context, id int64) (*domain.ItemDetail, error) {
	var d domain.ItemDetail
	it := &d.Item
	err := s.db.QueryRowContext(ctx, `
		SELECT id, inventory_id, name, brand, packaging, unit, category, description, is_active
		FROM items
		WHERE id = $1
	`, id).Scan(&it.ID, &it.InventoryID, &it.Name, &it.Brand, &it.Packaging, &it.Unit, &it.Category, &it.Description, &it.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	batches, err := s.itemBatches(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Batches = batches
	d.TotalStock = decimal.Zero
	d.Value = decimal.Zero
	for _, b := range batches {
		d.TotalStock = d.TotalStock.Add(b.Quantity)
		d.Value = d.Value.Add(b.Value())
	}
	return &d, nil
}

func (s *Store) UpdateItem(ctx context.Context, id int64, req domain.ItemUpdateRequest) (*domain.Item, error) {
	var item domain.Item
	err := s.db.QueryRowContext(ctx, `
		UPDATE items
		SET name = COALESCE($2, name),
		    brand = COALESCE($3, brand),
		    packaging = COALESCE($4, packaging),
		    unit = COALESCE($5, unit),
		    category = COALESCE($6, category),
		    description = COALESCE($7, description)
		WHERE id = $1
		RETURNING id, inventory_id, name, brand, packaging, unit, category, description, is_active
	`, id, req.Name, req.Brand, req.Packaging, req.Unit, req.Category, req.Description).
		Scan(&item.ID, &item.InventoryID, &item.Name, &item.Brand, &item.Packaging, &item.Unit,
			&item.Category, &item.Description, &item.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) DeactivateItem(ctx context.Context, id int64) (*domain.Item, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var item domain.Item
	err = tx.QueryRowContext(ctx, `
		SELECT id, inventory_id, name, brand, packaging, unit, category, description, is_active
		FROM items
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&item.ID, &item.InventoryID, &item.Name, &item.Brand, &item.Packaging, &item.Unit,
		&item.Category, &item.Description, &item.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	var stock decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(sum(quantity), 0) FROM item_batches WHERE item_id = $1
	`, id).Scan(&stock)
	if err != nil {
		return nil, err
	}
	if stock.Sign() > 0 {
		return nil, store.ErrItemHasStock
	}

	if _, err := tx.ExecContext(ctx, `UPDATE items SET is_active = false WHERE id = $1`, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	item.IsActive = false
	return &item, nil
}

func (s *Store) GetStockMap(ctx context.Context, inventoryID int64) (map[int64]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, COALESCE(sum(b.quantity), 0)
		FROM items i
		LEFT JOIN item_batches b ON b.item_id = i.id
		WHERE ($1 = 0 OR i.inventory_id = $1) AND i.is_active
		GROUP BY i.id
	`, inventoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stockMap := make(map[int64]decimal.Decimal, 64)
	for rows.Next() {
		var itemID int64
		var qty decimal.Decimal
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, err
		}
		stockMap[itemID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stockMap, nil
}

func (s *Store) itemBatches(ctx context.Context, itemID int64) ([]domain.ItemBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, item_id, creation_date, unit_cost, quantity, notes
		FROM item_batches
		WHERE item_id = $1
		ORDER BY creation_date, id
	`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.ItemBatch, 0, 8)
	for rows.Next() {
		var b domain.ItemBatch
		if err := rows.Scan(&b.ID, &b.TransactionID, &b.ItemID, &b.CreationDate, &b.UnitCost, &b.Quantity, &b.Notes); err != nil {
			return nil, err
		}
		b.CreationDate = b.CreationDate.UTC()
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *Store) ListPartners(ctx context.Context) ([]domain.Partner, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, phone, address, contact_person, tax_code
		FROM partners
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	partners := make([]domain.Partner, 0, 32)
	for rows.Next() {
		var p domain.Partner
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.Address, &p.ContactPerson, &p.TaxCode); err != nil {
			return nil, err
		}
		partners = append(partners, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return partners, nil
}

func (s *Store) CreatePartner(ctx context.Context, partner domain.Partner) (*domain.Partner, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO partners (name, email, phone, address, contact_person, tax_code)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, partner.Name, partner.Email, partner.Phone, partner.Address, partner.ContactPerson, partner.TaxCode).Scan(&partner.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	created := partner
	return &created, nil
}

func (s *Store) GetPartnerByID(ctx context.Context, id int64) (*domain.Partner, error) {
	var p domain.Partner
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, address, contact_person, tax_code
		FROM partners
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.Address, &p.ContactPerson, &p.TaxCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpdatePartner(ctx context.Context, id int64, req domain.PartnerUpdateRequest) (*domain.Partner, error) {
	var p domain.Partner
	err := s.db.QueryRowContext(ctx, `
		UPDATE partners
		SET name = COALESCE($2, name),
		    email = COALESCE($3, email),
		    phone = COALESCE($4, phone),
		    address = COALESCE($5, address),
		    contact_person = COALESCE($6, contact_person),
		    tax_code = COALESCE($7, tax_code)
		WHERE id = $1
		RETURNING id, name, email, phone, address, contact_person, tax_code
	`, id, req.Name, req.Email, req.Phone, req.Address, req.ContactPerson, req.TaxCode).
		Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.Address, &p.ContactPerson, &p.TaxCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) DeletePartner(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM partners
		WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM transactions WHERE partner_id = $1)
	`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM partners WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return store.ErrPartnerInUse
		}
		return store.ErrNotFound
	}
	return nil
}

const transactionColumns = `
	id, type, inventory_id, partner_id, partner_bill, extra_cost, notes,
	creation_date, completion_deadline, authorization_date, completion_date,
	created_by, COALESCE(authorized_by, ''), COALESCE(performed_by, ''), status
`

func scanTransaction(row interface{ Scan(...any) error }) (*domain.Transaction, error) {
	var tx domain.Transaction
	var deadline, authorized, completed sql.NullTime
	err := row.Scan(&tx.ID, &tx.Type, &tx.InventoryID, &tx.PartnerID, &tx.PartnerBill, &tx.ExtraCost, &tx.Notes,
		&tx.CreationDate, &deadline, &authorized, &completed,
		&tx.CreatedBy, &tx.AuthorizedBy, &tx.PerformedBy, &tx.Status)
	if err != nil {
		return nil, err
	}
	tx.CreationDate = tx.CreationDate.UTC()
	if deadline.Valid {
		t := deadline.Time.UTC()
		tx.CompletionDeadline = &t
	}
	if authorized.Valid {
		t := authorized.Time.UTC()
		tx.AuthorizationDate = &t
	}
	if completed.Valid {
		t := completed.Time.UTC()
		tx.CompletionDate = &t
	}
	return &tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]domain.Transaction, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE ($1 = 0 OR inventory_id = $1)
		  AND ($2 = '' OR type = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY creation_date DESC, id DESC
		LIMIT $4
	`, filter.InventoryID, filter.Type, filter.Status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0, limit)
	ids := make([]int64, 0, limit)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
		ids = append(ids, tx.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return transactions, nil
	}

	lines, err := s.linesByTransaction(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range transactions {
		transactions[i].Items = lines[transactions[i].ID]
	}
	return transactions, nil
}

func (s *Store) linesByTransaction(ctx context.Context, ids []int64) (map[int64][]domain.TransactionItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, item_id, unit_cost, quantity, discount, notes, report_value
		FROM transaction_items
		WHERE transaction_id = ANY($1)
		ORDER BY id
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int64][]domain.TransactionItem, len(ids))
	for rows.Next() {
		var line domain.TransactionItem
		if err := rows.Scan(&line.ID, &line.TransactionID, &line.ItemID, &line.UnitCost,
			&line.Quantity, &line.Discount, &line.Notes, &line.ReportValue); err != nil {
			return nil, err
		}
		result[line.TransactionID] = append(result[line.TransactionID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction, newPartner *domain.Partner) (*domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := checkLines(ctx, pgTx, tx.InventoryID, tx.Items); err != nil {
		return nil, err
	}
	if newPartner != nil {
		partnerID, err := insertPartner(ctx, pgTx, *newPartner)
		if err != nil {
			return nil, err
		}
		tx.PartnerID = partnerID
	}

	tx.Status = domain.TxStatusPending
	if tx.CreationDate.IsZero() {
		tx.CreationDate = time.Now().UTC()
	}
	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO transactions (type, inventory_id, partner_id, partner_bill, extra_cost, notes,
			creation_date, completion_deadline, created_by, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id
	`, tx.Type, tx.InventoryID, tx.PartnerID, tx.PartnerBill, tx.ExtraCost, tx.Notes,
		tx.CreationDate, nullTime(tx.CompletionDeadline), tx.CreatedBy, tx.Status).Scan(&tx.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if err := insertLines(ctx, pgTx, &tx); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	created := tx
	return &created, nil
}

// insertPartner creates the counterparty inside the caller's transaction so
// it commits or rolls back together with the voucher.
func insertPartner(ctx context.Context, pgTx *sql.Tx, partner domain.Partner) (int64, error) {
	var id int64
	err := pgTx.QueryRowContext(ctx, `
		INSERT INTO partners (name, email, phone, address, contact_person, tax_code)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, partner.Name, partner.Email, partner.Phone, partner.Address, partner.ContactPerson, partner.TaxCode).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, store.ErrDuplicate
		}
		return 0, err
	}
	return id, nil
}

func insertLines(ctx context.Context, pgTx *sql.Tx, tx *domain.Transaction) error {
	for i := range tx.Items {
		line := &tx.Items[i]
		line.TransactionID = tx.ID
		line.ReportValue = decimal.Zero
		err := pgTx.QueryRowContext(ctx, `
			INSERT INTO transaction_items (transaction_id, item_id, unit_cost, quantity, discount, notes, report_value)
			VALUES ($1,$2,$3,$4,$5,$6,0)
			RETURNING id
		`, tx.ID, line.ItemID, line.UnitCost, line.Quantity, line.Discount, line.Notes).Scan(&line.ID)
		if err != nil {
			if isForeignKeyViolation(err) {
				return store.ErrNotFound
			}
			return err
		}
	}
	return nil
}

func checkLines(ctx context.Context, pgTx *sql.Tx, inventoryID int64, lines []domain.TransactionItem) error {
	for _, line := range lines {
		var ok bool
		err := pgTx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM items WHERE id = $1 AND inventory_id = $2)
		`, line.ItemID, inventoryID).Scan(&ok)
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrNotFound
		}
	}
	return nil
}

func (s *Store) GetTransactionByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	lines, err := s.linesByTransaction(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	tx.Items = lines[id]
	return tx, nil
}

// UpdateTransaction replaces the header and line set of a non-completed
// transaction. Status and authorization are left untouched.
func (s *Store) UpdateTransaction(ctx context.Context, tx domain.Transaction, newPartner *domain.Partner) (*domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	current, err := lockTransaction(ctx, pgTx, tx.ID)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.TxStatusCompleted {
		return nil, store.ErrTransactionLocked
	}
	if err := checkLines(ctx, pgTx, current.InventoryID, tx.Items); err != nil {
		return nil, err
	}
	if newPartner != nil {
		partnerID, err := insertPartner(ctx, pgTx, *newPartner)
		if err != nil {
			return nil, err
		}
		tx.PartnerID = partnerID
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE transactions
		SET partner_id = $2, partner_bill = $3, extra_cost = $4, notes = $5,
		    completion_deadline = $6
		WHERE id = $1
	`, tx.ID, tx.PartnerID, tx.PartnerBill, tx.ExtraCost, tx.Notes,
		nullTime(tx.CompletionDeadline))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if _, err := pgTx.ExecContext(ctx, `DELETE FROM transaction_items WHERE transaction_id = $1`, tx.ID); err != nil {
		return nil, err
	}
	if err := insertLines(ctx, pgTx, &tx); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return s.GetTransactionByID(ctx, tx.ID)
}

func (s *Store) DeleteTransaction(ctx context.Context, id int64) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	current, err := lockTransaction(ctx, pgTx, id)
	if err != nil {
		return err
	}
	if current.Status == domain.TxStatusCompleted {
		return store.ErrTransactionLocked
	}

	if _, err := pgTx.ExecContext(ctx, `DELETE FROM transaction_items WHERE transaction_id = $1`, id); err != nil {
		return err
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id); err != nil {
		return err
	}
	return pgTx.Commit()
}

func lockTransaction(ctx context.Context, pgTx *sql.Tx, id int64) (*domain.Transaction, error) {
	tx, err := scanTransaction(pgTx.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return tx, nil
}

func (s *Store) AuthorizeTransaction(ctx context.Context, id int64, actor string, at time.Time) (*domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	current, err := lockTransaction(ctx, pgTx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.TxStatusPending && current.Status != domain.TxStatusRejected {
		return nil, store.ErrInvalidTransition
	}

	// COALESCE keeps the first authorization stamp.
	_, err = pgTx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $2, authorized_by = $3,
		    authorization_date = COALESCE(authorization_date, $4)
		WHERE id = $1
	`, id, domain.TxStatusAuthorized, actor, at)
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return s.GetTransactionByID(ctx, id)
}

// RejectTransaction flips status only; the authorization record, if any,
// stays as it was.
func (s *Store) RejectTransaction(ctx context.Context, id int64, _ string, _ time.Time) (*domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	current, err := lockTransaction(ctx, pgTx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.TxStatusCompleted {
		return nil, store.ErrInvalidTransition
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE transactions SET status = $2 WHERE id = $1
	`, id, domain.TxStatusRejected)
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return s.GetTransactionByID(ctx, id)
}

// CompleteTransaction settles the transaction in one serializable database
// transaction. Batches of every affected item are locked FOR UPDATE in
// creation order before any mutation.
func (s *Store) CompleteTransaction(ctx context.Context, id int64, actor string, at time.Time) (*domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	current, err := lockTransaction(ctx, pgTx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.TxStatusCompleted {
		return nil, store.ErrInvalidTransition
	}

	lines, err := s.linesByTransaction(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	current.Items = lines[id]

	switch current.Type {
	case domain.TxTypeImport:
		err = settleImport(ctx, pgTx, current, at)
	case domain.TxTypeExport:
		err = settleExport(ctx, pgTx, current)
	default:
		err = store.ErrInvalidTransition
	}
	if err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $2, performed_by = $3, completion_date = $4
		WHERE id = $1
	`, id, domain.TxStatusCompleted, actor, at)
	if err != nil {
		return nil, err
	}

	// Items that got stock back flip active again.
	_, err = pgTx.ExecContext(ctx, `
		UPDATE items
		SET is_active = true
		WHERE is_active = false
		  AND id IN (SELECT item_id FROM transaction_items WHERE transaction_id = $1)
		  AND EXISTS (SELECT 1 FROM item_batches b WHERE b.item_id = items.id AND b.quantity > 0)
	`, id)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return s.GetTransactionByID(ctx, id)
}

// settleImport mints one batch per line at the quoted unit cost; discounts
// affect the transaction value, not the stock valuation.
func settleImport(ctx context.Context, pgTx *sql.Tx, tx *domain.Transaction, at time.Time) error {
	for _, line := range tx.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO item_batches (transaction_id, item_id, creation_date, unit_cost, quantity, notes)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, tx.ID, line.ItemID, at, line.UnitCost, line.Quantity, line.Notes)
		if err != nil {
			return err
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE transaction_items SET report_value = $2 WHERE id = $1
		`, line.ID, line.Quantity.Mul(line.UnitCost))
		if err != nil {
			return err
		}
	}
	return nil
}

func settleExport(ctx context.Context, pgTx *sql.Tx, tx *domain.Transaction) error {
	itemIDs := make([]int64, 0, len(tx.Items))
	seen := make(map[int64]bool, len(tx.Items))
	for _, line := range tx.Items {
		if !seen[line.ItemID] {
			seen[line.ItemID] = true
			itemIDs = append(itemIDs, line.ItemID)
		}
	}

	rows, err := pgTx.QueryContext(ctx, `
		SELECT id, item_id, creation_date, unit_cost, quantity
		FROM item_batches
		WHERE item_id = ANY($1)
		ORDER BY creation_date, id
		FOR UPDATE
	`, itemIDs)
	if err != nil {
		return err
	}
	working := make(map[int64][]fifo.Batch, len(itemIDs))
	for rows.Next() {
		var b fifo.Batch
		var itemID int64
		if err := rows.Scan(&b.ID, &itemID, &b.CreationDate, &b.UnitCost, &b.Quantity); err != nil {
			_ = rows.Close()
			return err
		}
		working[itemID] = append(working[itemID], b)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, line := range tx.Items {
		plan, err := fifo.Consume(working[line.ItemID], line.Quantity)
		if err != nil {
			return store.ErrInsufficientStock
		}

		for _, c := range plan.Consumptions {
			if c.Remaining.Sign() <= 0 {
				if _, err := pgTx.ExecContext(ctx, `DELETE FROM item_batches WHERE id = $1`, c.BatchID); err != nil {
					return err
				}
			} else {
				if _, err := pgTx.ExecContext(ctx, `
					UPDATE item_batches SET quantity = $2 WHERE id = $1
				`, c.BatchID, c.Remaining); err != nil {
					return err
				}
			}
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

		_, err = pgTx.ExecContext(ctx, `
			UPDATE transaction_items SET report_value = $2 WHERE id = $1
		`, line.ID, plan.Cost)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetPeriodReport(ctx context.Context, inventoryID int64, month int, year int) (*domain.PeriodReport, error) {
	if inventoryID != 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM inventories WHERE id = $1)`, inventoryID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
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
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(sum(CASE WHEN t.type = 'Export' THEN l.value ELSE 0 END), 0),
			COALESCE(sum(t.extra_cost), 0) + COALESCE(sum(CASE WHEN t.type = 'Import' THEN l.value ELSE 0 END), 0)
		FROM transactions t
		LEFT JOIN LATERAL (
			SELECT COALESCE(sum(quantity * unit_cost * (1 - discount / 100)), 0) AS value
			FROM transaction_items WHERE transaction_id = t.id
		) l ON true
		WHERE t.status = 'Completed'
		  AND ($1 = 0 OR t.inventory_id = $1)
		  AND date_part('year', t.completion_date AT TIME ZONE 'UTC') = $2
		  AND ($3 = 0 OR date_part('month', t.completion_date AT TIME ZONE 'UTC') = $3)
	`, inventoryID, year, month).Scan(&report.Revenue, &report.Cost)
	if err != nil {
		return nil, err
	}
	report.Profit = report.Revenue.Sub(report.Cost)
	return &report, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("log")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, user.Username, user.Password, user.Role, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
