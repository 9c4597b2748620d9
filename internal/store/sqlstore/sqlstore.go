// Package sqlstore implements the store interfaces on database/sql. The
// postgres and sqlite packages open the connection and supply a Dialect;
// every statement here is written with $N placeholders, which both drivers
// accept. sqlite binds $N by order of first appearance, so placeholders are
// numbered in the order they occur in the text.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"obar/backend/internal/domain"
	"obar/backend/internal/store"
)

type Dialect struct {
	Name string
	// TxOptions is passed to BeginTx for every unit of work.
	TxOptions *sql.TxOptions
	// LockSuffix is appended to row reads inside a unit of work, e.g.
	// " FOR UPDATE". Empty when the driver serializes writers itself.
	LockSuffix            string
	IsUniqueViolation     func(err error) bool
	IsForeignKeyViolation func(err error) bool
	IsCheckViolation      func(err error) bool
}

type Store struct {
	db      *sql.DB
	dialect Dialect
}

var (
	_ store.Repository = (*Store)(nil)
	_ store.Tx         = (*txStore)(nil)
)

func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	customerColumns = `mail_address, pin_hash, first_name, last_name, admin`
	productColumns  = `code, name, available, price, discount, quantity, site_id`
	purchaseColumns = `code, customer_mail_address, created_at, gifted`
	itemColumns     = `id, purchase_code, product_code, quantity, price`
)

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.MailAddress == "" {
		return nil, store.ErrInvalidRequest
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES ($1,$2,$3,$4,$5)
	`, customer.MailAddress, customer.PINHash, customer.FirstName, customer.LastName, customer.Admin)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: customer %s already exists", store.ErrConflict, customer.MailAddress)
		}
		return nil, err
	}
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(ctx context.Context, mail string) (*domain.Customer, error) {
	return getCustomer(ctx, s.db, mail)
}

func getCustomer(ctx context.Context, q queryer, mail string) (*domain.Customer, error) {
	var c domain.Customer
	err := q.QueryRowContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE mail_address = $1
	`, mail).Scan(&c.MailAddress, &c.PINHash, &c.FirstName, &c.LastName, &c.Admin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, mail string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE mail_address = $1`, mail)
	if err != nil {
		if s.dialect.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: customer %s still owns purchases", store.ErrConflict, mail)
		}
		return err
	}
	return requireAffected(res)
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return nil, err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, product.Code, product.Name, product.Available, product.Price, product.Discount, product.Quantity, product.SiteID)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: product %s or name %q already exists", store.ErrConflict, product.Code, product.Name)
		}
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, code string) (*domain.Product, error) {
	return getProduct(ctx, s.db, code, "")
}

func getProduct(ctx context.Context, q queryer, code string, lockSuffix string) (*domain.Product, error) {
	var p domain.Product
	err := q.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE code = $1`+lockSuffix,
		code).Scan(&p.Code, &p.Name, &p.Available, &p.Price, &p.Discount, &p.Quantity, &p.SiteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $1, available = $2, price = $3, discount = $4, quantity = $5, site_id = $6
		WHERE code = $7
	`, product.Name, product.Available, product.Price, product.Discount, product.Quantity, product.SiteID, product.Code)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: product name %q already in use", store.ErrConflict, product.Name)
		}
		return nil, err
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	updated := product
	return &updated, nil
}

func (s *Store) GetPurchase(ctx context.Context, code string) (*domain.Purchase, error) {
	return getPurchase(ctx, s.db, code, "")
}

func getPurchase(ctx context.Context, q queryer, code string, lockSuffix string) (*domain.Purchase, error) {
	var p domain.Purchase
	err := q.QueryRowContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE code = $1`+lockSuffix,
		code).Scan(&p.Code, &p.CustomerMail, &p.CreatedAt, &p.Gifted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()

	rows, err := q.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM purchase_items
		WHERE purchase_code = $1
		ORDER BY line_no
	`, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	p.Items = make([]domain.PurchaseItem, 0, 4)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		p.Items = append(p.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListPurchasesSince(ctx context.Context, since time.Time) ([]domain.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE gifted = $1 AND created_at > $2
		ORDER BY created_at DESC
	`, false, since.UTC())
	if err != nil {
		return nil, err
	}

	purchases := make([]domain.Purchase, 0, 16)
	index := make(map[string]int)
	for rows.Next() {
		var p domain.Purchase
		if err := rows.Scan(&p.Code, &p.CustomerMail, &p.CreatedAt, &p.Gifted); err != nil {
			_ = rows.Close()
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		p.Items = []domain.PurchaseItem{}
		index[p.Code] = len(purchases)
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	if len(purchases) == 0 {
		return purchases, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.purchase_code, i.product_code, i.quantity, i.price
		FROM purchase_items i
		JOIN purchases p ON p.code = i.purchase_code
		WHERE p.gifted = $1 AND p.created_at > $2
		ORDER BY i.purchase_code, i.line_no
	`, false, since.UTC())
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	for itemRows.Next() {
		item, err := scanItem(itemRows)
		if err != nil {
			return nil, err
		}
		// A purchase committed between the two reads has no header row here.
		if i, ok := index[item.PurchaseCode]; ok {
			purchases[i].Items = append(purchases[i].Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}
	return purchases, nil
}

// WithinTx begins a transaction with the dialect's options. The deferred
// Rollback is a no-op once Commit has succeeded.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, s.dialect.TxOptions)
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &txStore{tx: sqlTx, dialect: s.dialect}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx      *sql.Tx
	dialect Dialect
}

func (t *txStore) GetCustomer(ctx context.Context, mail string) (*domain.Customer, error) {
	return getCustomer(ctx, t.tx, mail)
}

// LockProducts reads the rows one at a time in code order so that two units
// of work touching the same products always lock them in the same sequence.
func (t *txStore) LockProducts(ctx context.Context, codes []string) (map[string]domain.Product, error) {
	sorted := uniqueSorted(codes)
	result := make(map[string]domain.Product, len(sorted))
	for _, code := range sorted {
		p, err := getProduct(ctx, t.tx, code, t.dialect.LockSuffix)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		result[code] = *p
	}
	return result, nil
}

func (t *txStore) SetProductQuantity(ctx context.Context, code string, qty int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET quantity = $1
		WHERE code = $2
	`, qty, code)
	if err != nil {
		if t.dialect.IsCheckViolation(err) {
			return fmt.Errorf("%w: negative quantity for %s", store.ErrConflict, code)
		}
		return err
	}
	return requireAffected(res)
}

func (t *txStore) LockPurchase(ctx context.Context, code string) (*domain.Purchase, error) {
	return getPurchase(ctx, t.tx, code, t.dialect.LockSuffix)
}

func (t *txStore) InsertPurchase(ctx context.Context, purchase domain.Purchase) error {
	if purchase.Code == "" || len(purchase.Items) == 0 {
		return store.ErrInvalidRequest
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO purchases (`+purchaseColumns+`)
		VALUES ($1,$2,$3,$4)
	`, purchase.Code, purchase.CustomerMail, purchase.CreatedAt.UTC(), purchase.Gifted)
	if err != nil {
		return t.mapWriteError(err, "purchase "+purchase.Code)
	}

	for i, item := range purchase.Items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO purchase_items (id, purchase_code, product_code, quantity, price, line_no)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, item.ID, purchase.Code, item.ProductCode, item.Quantity, item.Price, i)
		if err != nil {
			return t.mapWriteError(err, "purchase item "+item.ID)
		}
	}
	return nil
}

func (t *txStore) ReassignPurchase(ctx context.Context, code string, mail string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE purchases
		SET customer_mail_address = $1, gifted = $2
		WHERE code = $3
	`, mail, true, code)
	if err != nil {
		return t.mapWriteError(err, "purchase "+code)
	}
	return requireAffected(res)
}

func (t *txStore) DeletePurchase(ctx context.Context, code string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM purchase_items WHERE purchase_code = $1`, code); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM purchases WHERE code = $1`, code)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (t *txStore) mapWriteError(err error, what string) error {
	switch {
	case t.dialect.IsUniqueViolation(err):
		return fmt.Errorf("%w: %s already exists", store.ErrConflict, what)
	case t.dialect.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: %s references a missing row", store.ErrNotFound, what)
	default:
		return err
	}
}

func scanItem(rows *sql.Rows) (domain.PurchaseItem, error) {
	var item domain.PurchaseItem
	err := rows.Scan(&item.ID, &item.PurchaseCode, &item.ProductCode, &item.Quantity, &item.Price)
	return item, err
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

var one = decimal.NewFromInt(1)

func validateProduct(p domain.Product) error {
	if p.Code == "" || p.Name == "" || p.Quantity < 0 {
		return store.ErrInvalidRequest
	}
	if p.Price.IsNegative() || p.Discount.IsNegative() || p.Discount.GreaterThanOrEqual(one) {
		return store.ErrInvalidRequest
	}
	return nil
}

func uniqueSorted(codes []string) []string {
	set := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		if code == "" {
			continue
		}
		set[code] = struct{}{}
	}
	sorted := make([]string, 0, len(set))
	for code := range set {
		sorted = append(sorted, code)
	}
	sort.Strings(sorted)
	return sorted
}
