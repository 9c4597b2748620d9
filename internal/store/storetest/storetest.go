// Package storetest holds the behaviour every store.Repository must share.
// Backend packages run it from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"obar/backend/internal/domain"
	"obar/backend/internal/store"
	"obar/backend/internal/xid"
)

// Suite is embedded or run directly with suite.Run. Open is called once per
// test; records use random codes so a shared database can be reused.
type Suite struct {
	suite.Suite
	Open func() store.Repository

	ctx  context.Context
	repo store.Repository
}

func (s *Suite) SetupTest() {
	s.ctx = context.Background()
	s.repo = s.Open()
}

func (s *Suite) customer() domain.Customer {
	s.T().Helper()
	c, err := s.repo.CreateCustomer(s.ctx, domain.Customer{
		MailAddress: xid.New("c") + "@obar.test",
		PINHash:     "hash",
		FirstName:   "Ada",
		LastName:    "Lovelace",
	})
	require.NoError(s.T(), err)
	return *c
}

func (s *Suite) product(qty int, price string) domain.Product {
	s.T().Helper()
	code := xid.New("p")
	p, err := s.repo.CreateProduct(s.ctx, domain.Product{
		Code:      code,
		Name:      "Product " + code,
		Available: true,
		Price:     decimal.RequireFromString(price),
		Discount:  decimal.Zero,
		Quantity:  qty,
		SiteID:    "bar",
	})
	require.NoError(s.T(), err)
	return *p
}

func (s *Suite) purchase(owner string, at time.Time, products ...domain.Product) domain.Purchase {
	s.T().Helper()
	p := domain.Purchase{
		Code:         xid.New(""),
		CustomerMail: owner,
		CreatedAt:    at,
	}
	for _, product := range products {
		p.Items = append(p.Items, domain.PurchaseItem{
			ID:           xid.New("item"),
			PurchaseCode: p.Code,
			ProductCode:  product.Code,
			Quantity:     1,
			Price:        product.Price,
		})
	}
	err := s.repo.WithinTx(s.ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertPurchase(ctx, p)
	})
	require.NoError(s.T(), err)
	return p
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func (s *Suite) TestCustomerLifecycle() {
	t := s.T()
	c := s.customer()

	got, err := s.repo.GetCustomer(s.ctx, c.MailAddress)
	require.NoError(t, err)
	require.Equal(t, c, *got)

	_, err = s.repo.CreateCustomer(s.ctx, c)
	require.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, s.repo.DeleteCustomer(s.ctx, c.MailAddress))
	_, err = s.repo.GetCustomer(s.ctx, c.MailAddress)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.repo.DeleteCustomer(s.ctx, c.MailAddress), store.ErrNotFound)
}

func (s *Suite) TestDeleteCustomerWithPurchasesConflicts() {
	t := s.T()
	c := s.customer()
	s.purchase(c.MailAddress, now(), s.product(5, "1.00"))

	err := s.repo.DeleteCustomer(s.ctx, c.MailAddress)
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = s.repo.GetCustomer(s.ctx, c.MailAddress)
	require.NoError(t, err)
}

func (s *Suite) TestProductValidationAndUniqueness() {
	t := s.T()
	p := s.product(3, "2.50")

	got, err := s.repo.GetProduct(s.ctx, p.Code)
	require.NoError(t, err)
	require.True(t, p.Price.Equal(got.Price))
	require.Equal(t, 3, got.Quantity)

	dup := p
	dup.Code = xid.New("p")
	_, err = s.repo.CreateProduct(s.ctx, dup)
	require.ErrorIs(t, err, store.ErrConflict, "names are unique")

	for name, bad := range map[string]func(*domain.Product){
		"empty name":        func(p *domain.Product) { p.Name = "" },
		"negative quantity": func(p *domain.Product) { p.Quantity = -1 },
		"negative price":    func(p *domain.Product) { p.Price = decimal.NewFromInt(-1) },
		"full discount":     func(p *domain.Product) { p.Discount = decimal.NewFromInt(1) },
	} {
		candidate := p
		candidate.Code = xid.New("p")
		candidate.Name = "fresh " + candidate.Code
		bad(&candidate)
		_, err := s.repo.CreateProduct(s.ctx, candidate)
		require.ErrorIs(t, err, store.ErrInvalidRequest, name)
	}

	p.Price = decimal.RequireFromString("3.00")
	p.Available = false
	_, err = s.repo.UpdateProduct(s.ctx, p)
	require.NoError(t, err)
	got, err = s.repo.GetProduct(s.ctx, p.Code)
	require.NoError(t, err)
	require.False(t, got.Available)
	require.True(t, decimal.RequireFromString("3").Equal(got.Price))

	missing := p
	missing.Code = xid.New("p")
	missing.Name = "missing " + missing.Code
	_, err = s.repo.UpdateProduct(s.ctx, missing)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func (s *Suite) TestPurchaseRoundTripKeepsItemOrder() {
	t := s.T()
	c := s.customer()
	a, b := s.product(5, "1.10"), s.product(5, "0.80")
	at := now()
	p := s.purchase(c.MailAddress, at, b, a)

	got, err := s.repo.GetPurchase(s.ctx, p.Code)
	require.NoError(t, err)
	require.Equal(t, c.MailAddress, got.CustomerMail)
	require.False(t, got.Gifted)
	require.WithinDuration(t, at, got.CreatedAt, time.Millisecond)
	require.Len(t, got.Items, 2)
	require.Equal(t, b.Code, got.Items[0].ProductCode)
	require.Equal(t, a.Code, got.Items[1].ProductCode)
	require.True(t, decimal.RequireFromString("0.80").Equal(got.Items[0].Price))

	_, err = s.repo.GetPurchase(s.ctx, xid.New(""))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func (s *Suite) TestPricesKeepFullPrecision() {
	t := s.T()
	c := s.customer()
	code := xid.New("p")
	created, err := s.repo.CreateProduct(s.ctx, domain.Product{
		Code:      code,
		Name:      "Product " + code,
		Available: true,
		Price:     decimal.RequireFromString("1.995"),
		Discount:  decimal.RequireFromString("0.1234"),
		Quantity:  5,
		SiteID:    "bar",
	})
	require.NoError(t, err)

	got, err := s.repo.GetProduct(s.ctx, code)
	require.NoError(t, err)
	require.Equal(t, "1.995", got.Price.String())
	require.Equal(t, "0.1234", got.Discount.String())

	linePrice := created.LinePrice(1)
	require.Equal(t, "1.748817", linePrice.String())

	p := domain.Purchase{Code: xid.New(""), CustomerMail: c.MailAddress, CreatedAt: now()}
	p.Items = []domain.PurchaseItem{{
		ID: xid.New("item"), PurchaseCode: p.Code, ProductCode: code, Quantity: 1, Price: linePrice,
	}}
	require.NoError(t, s.repo.WithinTx(s.ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertPurchase(ctx, p)
	}))

	stored, err := s.repo.GetPurchase(s.ctx, p.Code)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	require.True(t, linePrice.Equal(stored.Items[0].Price), "stored %s", stored.Items[0].Price)
}

func (s *Suite) TestInsertPurchaseForUnknownCustomer() {
	t := s.T()
	p := s.product(5, "1.00")
	err := s.repo.WithinTx(s.ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertPurchase(ctx, domain.Purchase{
			Code:         xid.New(""),
			CustomerMail: "ghost@obar.test",
			CreatedAt:    now(),
			Items: []domain.PurchaseItem{{
				ID: xid.New("item"), ProductCode: p.Code, Quantity: 1, Price: p.Price,
			}},
		})
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func (s *Suite) TestListPurchasesSince() {
	t := s.T()
	c := s.customer()
	p := s.product(10, "1.00")
	base := now()

	old := s.purchase(c.MailAddress, base.Add(-10*time.Minute), p)
	first := s.purchase(c.MailAddress, base.Add(-30*time.Second), p)
	second := s.purchase(c.MailAddress, base.Add(-10*time.Second), p)
	gifted := s.purchase(c.MailAddress, base.Add(-5*time.Second), p)
	require.NoError(t, s.repo.WithinTx(s.ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.ReassignPurchase(ctx, gifted.Code, c.MailAddress)
	}))

	list, err := s.repo.ListPurchasesSince(s.ctx, base.Add(-2*time.Minute))
	require.NoError(t, err)

	var codes []string
	for _, purchase := range list {
		switch purchase.Code {
		case old.Code, first.Code, second.Code, gifted.Code:
			codes = append(codes, purchase.Code)
			require.Len(t, purchase.Items, 1)
		}
	}
	require.Equal(t, []string{second.Code, first.Code}, codes)
}

func (s *Suite) TestLockedStockUpdate() {
	t := s.T()
	p := s.product(4, "1.00")

	err := s.repo.WithinTx(s.ctx, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockProducts(ctx, []string{p.Code, "missing-" + p.Code, p.Code})
		if err != nil {
			return err
		}
		if len(locked) != 1 {
			return fmt.Errorf("expected one locked product, got %d", len(locked))
		}
		return tx.SetProductQuantity(ctx, p.Code, locked[p.Code].Quantity-3)
	})
	require.NoError(t, err)

	got, err := s.repo.GetProduct(s.ctx, p.Code)
	require.NoError(t, err)
	require.Equal(t, 1, got.Quantity)

	err = s.repo.WithinTx(s.ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SetProductQuantity(ctx, p.Code, -1)
	})
	require.ErrorIs(t, err, store.ErrConflict)
}

func (s *Suite) TestReassignAndDeletePurchase() {
	t := s.T()
	owner, recipient := s.customer(), s.customer()
	p := s.purchase(owner.MailAddress, now(), s.product(3, "1.00"))

	err := s.repo.WithinTx(s.ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.ReassignPurchase(ctx, p.Code, "ghost@obar.test")
	})
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.repo.WithinTx(s.ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.ReassignPurchase(ctx, p.Code, recipient.MailAddress)
	}))
	got, err := s.repo.GetPurchase(s.ctx, p.Code)
	require.NoError(t, err)
	require.True(t, got.Gifted)
	require.Equal(t, recipient.MailAddress, got.CustomerMail)

	require.NoError(t, s.repo.WithinTx(s.ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DeletePurchase(ctx, p.Code)
	}))
	_, err = s.repo.GetPurchase(s.ctx, p.Code)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func (s *Suite) TestWithinTxRollsBackOnError() {
	t := s.T()
	c := s.customer()
	p := s.product(5, "1.00")
	boom := errors.New("boom")
	var code string

	err := s.repo.WithinTx(s.ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.SetProductQuantity(ctx, p.Code, 0); err != nil {
			return err
		}
		code = xid.New("")
		if err := tx.InsertPurchase(ctx, domain.Purchase{
			Code: code, CustomerMail: c.MailAddress, CreatedAt: now(),
			Items: []domain.PurchaseItem{{ID: xid.New("item"), ProductCode: p.Code, Quantity: 5, Price: p.Price}},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.repo.GetProduct(s.ctx, p.Code)
	require.NoError(t, err)
	require.Equal(t, 5, got.Quantity)
	_, err = s.repo.GetPurchase(s.ctx, code)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func (s *Suite) TestWithinTxRollsBackOnPanic() {
	t := s.T()
	p := s.product(5, "1.00")

	require.Panics(t, func() {
		_ = s.repo.WithinTx(s.ctx, func(ctx context.Context, tx store.Tx) error {
			if err := tx.SetProductQuantity(ctx, p.Code, 1); err != nil {
				return err
			}
			panic("mid-transaction")
		})
	})

	got, err := s.repo.GetProduct(s.ctx, p.Code)
	require.NoError(t, err)
	require.Equal(t, 5, got.Quantity)
}
