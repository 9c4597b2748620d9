package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"obar/backend/internal/domain"
	"obar/backend/internal/store"
)

// Store keeps every record in maps guarded by one mutex. A unit of work holds
// the write lock for its whole duration, which serializes submissions.
type Store struct {
	mu        sync.RWMutex
	customers map[string]domain.Customer
	products  map[string]domain.Product
	purchases map[string]*domain.Purchase
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		customers: make(map[string]domain.Customer),
		products:  make(map[string]domain.Product),
		purchases: make(map[string]*domain.Purchase),
	}
}

const (
	devAdminPIN    = "904172"
	devCustomerPIN = "318265"
)

// seedCustomers builds the demo accounts for dev mode. Empty PINs fall back
// to dev defaults with a warning.
func seedCustomers(adminPIN string, customerPIN string, logger zerolog.Logger) ([]domain.Customer, error) {
	if adminPIN == "" || customerPIN == "" {
		logger.Warn().Msg("memory store: using default dev PINs, set SEED_ADMIN_PIN and SEED_CUSTOMER_PIN to override")
	}
	if adminPIN == "" {
		adminPIN = devAdminPIN
	}
	if customerPIN == "" {
		customerPIN = devCustomerPIN
	}

	customers := make([]domain.Customer, 0, 3)
	for _, c := range []struct {
		mail  string
		first string
		last  string
		pin   string
		admin bool
	}{
		{"admin@obar.local", "Bar", "Keeper", adminPIN, true},
		{"alice@obar.local", "Alice", "Rossi", customerPIN, false},
		{"bob@obar.local", "Bob", "Bianchi", customerPIN, false},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(c.pin), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash seed PIN for %s: %w", c.mail, err)
		}
		customers = append(customers, domain.Customer{
			MailAddress: c.mail,
			PINHash:     string(hash),
			FirstName:   c.first,
			LastName:    c.last,
			Admin:       c.admin,
		})
	}
	return customers, nil
}

// NewSeeded returns a store with demo customers and a small bar catalog.
func NewSeeded(adminPIN string, customerPIN string, logger zerolog.Logger) (*Store, error) {
	customers, err := seedCustomers(adminPIN, customerPIN, logger)
	if err != nil {
		return nil, err
	}
	s := New()
	for _, c := range customers {
		s.customers[c.MailAddress] = c
	}

	products := []domain.Product{
		{Code: "P-ESPRESSO", Name: "Espresso", Price: decimal.RequireFromString("1.10"), Quantity: 200, SiteID: "bar"},
		{Code: "P-CAPPUCCINO", Name: "Cappuccino", Price: decimal.RequireFromString("1.50"), Quantity: 120, SiteID: "bar"},
		{Code: "P-CORNETTO", Name: "Cornetto", Price: decimal.RequireFromString("1.20"), Discount: decimal.RequireFromString("0.2"), Quantity: 40, SiteID: "bar"},
		{Code: "P-WATER", Name: "Water 50cl", Price: decimal.RequireFromString("0.80"), Quantity: 90, SiteID: "fridge"},
		{Code: "P-COLA", Name: "Cola 33cl", Price: decimal.RequireFromString("1.80"), Quantity: 60, SiteID: "fridge"},
		{Code: "P-CHIPS", Name: "Chips", Price: decimal.RequireFromString("1.30"), Discount: decimal.RequireFromString("0.1"), Quantity: 30, SiteID: "shelf"},
		{Code: "P-CHOCOLATE", Name: "Chocolate bar", Price: decimal.RequireFromString("1.60"), Quantity: 25, SiteID: "shelf"},
	}
	for _, p := range products {
		p.Available = true
		s.products[p.Code] = p
	}
	return s, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.MailAddress == "" {
		return nil, store.ErrInvalidRequest
	}
	if _, exists := s.customers[customer.MailAddress]; exists {
		return nil, fmt.Errorf("%w: customer %s already exists", store.ErrConflict, customer.MailAddress)
	}
	s.customers[customer.MailAddress] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, mail string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getCustomer(mail)
}

func (s *Store) getCustomer(mail string) (*domain.Customer, error) {
	customer, ok := s.customers[mail]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) DeleteCustomer(_ context.Context, mail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[mail]; !ok {
		return store.ErrNotFound
	}
	for _, p := range s.purchases {
		if p.CustomerMail == mail {
			return fmt.Errorf("%w: customer %s still owns purchases", store.ErrConflict, mail)
		}
	}
	delete(s.customers, mail)
	return nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateProduct(product); err != nil {
		return nil, err
	}
	if _, exists := s.products[product.Code]; exists {
		return nil, fmt.Errorf("%w: product %s already exists", store.ErrConflict, product.Code)
	}
	if s.nameTaken(product.Name, product.Code) {
		return nil, fmt.Errorf("%w: product name %q already in use", store.ErrConflict, product.Name)
	}
	s.products[product.Code] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, code string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateProduct(product); err != nil {
		return nil, err
	}
	if _, exists := s.products[product.Code]; !exists {
		return nil, store.ErrNotFound
	}
	if s.nameTaken(product.Name, product.Code) {
		return nil, fmt.Errorf("%w: product name %q already in use", store.ErrConflict, product.Name)
	}
	s.products[product.Code] = product
	updated := product
	return &updated, nil
}

func (s *Store) nameTaken(name string, exceptCode string) bool {
	for code, p := range s.products {
		if code != exceptCode && p.Name == name {
			return true
		}
	}
	return false
}

func (s *Store) GetPurchase(_ context.Context, code string) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.purchases[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clonePurchase(p), nil
}

func (s *Store) ListPurchasesSince(_ context.Context, since time.Time) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Purchase, 0, 16)
	for _, p := range s.purchases {
		if p.Gifted || !p.CreatedAt.After(since) {
			continue
		}
		result = append(result, *clonePurchase(p))
	}
	slices.SortFunc(result, func(a, b domain.Purchase) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return result, nil
}

// WithinTx holds the write lock for the whole of fn. Products and purchases
// are snapshotted first and put back if fn fails or panics.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	products := make(map[string]domain.Product, len(s.products))
	for code, p := range s.products {
		products[code] = p
	}
	purchases := make(map[string]*domain.Purchase, len(s.purchases))
	for code, p := range s.purchases {
		purchases[code] = clonePurchase(p)
	}

	committed := false
	defer func() {
		if !committed {
			s.products = products
			s.purchases = purchases
		}
	}()

	if err := fn(ctx, &memTx{s: s}); err != nil {
		return err
	}
	committed = true
	return nil
}

// memTx runs with Store.mu already held by WithinTx.
type memTx struct {
	s *Store
}

func (t *memTx) GetCustomer(_ context.Context, mail string) (*domain.Customer, error) {
	return t.s.getCustomer(mail)
}

func (t *memTx) LockProducts(_ context.Context, codes []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(codes))
	for _, code := range codes {
		if p, ok := t.s.products[code]; ok {
			result[code] = p
		}
	}
	return result, nil
}

func (t *memTx) SetProductQuantity(_ context.Context, code string, qty int) error {
	if qty < 0 {
		return fmt.Errorf("%w: negative quantity for %s", store.ErrConflict, code)
	}
	p, ok := t.s.products[code]
	if !ok {
		return store.ErrNotFound
	}
	p.Quantity = qty
	t.s.products[code] = p
	return nil
}

func (t *memTx) LockPurchase(_ context.Context, code string) (*domain.Purchase, error) {
	p, ok := t.s.purchases[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clonePurchase(p), nil
}

func (t *memTx) InsertPurchase(_ context.Context, purchase domain.Purchase) error {
	if purchase.Code == "" || len(purchase.Items) == 0 {
		return store.ErrInvalidRequest
	}
	if _, exists := t.s.purchases[purchase.Code]; exists {
		return fmt.Errorf("%w: purchase %s already exists", store.ErrConflict, purchase.Code)
	}
	if _, ok := t.s.customers[purchase.CustomerMail]; !ok {
		return store.ErrNotFound
	}
	for _, item := range purchase.Items {
		if _, ok := t.s.products[item.ProductCode]; !ok {
			return store.ErrNotFound
		}
	}
	t.s.purchases[purchase.Code] = clonePurchase(&purchase)
	return nil
}

func (t *memTx) ReassignPurchase(_ context.Context, code string, mail string) error {
	p, ok := t.s.purchases[code]
	if !ok {
		return store.ErrNotFound
	}
	if _, ok := t.s.customers[mail]; !ok {
		return store.ErrNotFound
	}
	p.CustomerMail = mail
	p.Gifted = true
	return nil
}

func (t *memTx) DeletePurchase(_ context.Context, code string) error {
	if _, ok := t.s.purchases[code]; !ok {
		return store.ErrNotFound
	}
	delete(t.s.purchases, code)
	return nil
}

func validateProduct(p domain.Product) error {
	if p.Code == "" || p.Name == "" || p.Quantity < 0 {
		return store.ErrInvalidRequest
	}
	if p.Price.IsNegative() || p.Discount.IsNegative() || p.Discount.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return store.ErrInvalidRequest
	}
	return nil
}

func clonePurchase(src *domain.Purchase) *domain.Purchase {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Items = make([]domain.PurchaseItem, len(src.Items))
	copy(dup.Items, src.Items)
	return &dup
}
