package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"obar/backend/internal/domain"
	"obar/backend/internal/store"
	"obar/backend/internal/xid"
)

const (
	DefaultGiftWindow = 2 * time.Minute
	DefaultUndoWindow = 5 * time.Minute
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service is the purchase transaction engine. It is the only writer of the
// purchase ledger.
type Service struct {
	repo       store.Repository
	now        func() time.Time
	logger     zerolog.Logger
	giftWindow time.Duration
	undoWindow time.Duration
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger.With().Str("component", "purchase-engine").Logger()
	}
}

// WithWindows overrides the gift and undo recency windows. Non-positive
// values keep the defaults.
func WithWindows(gift time.Duration, undo time.Duration) Option {
	return func(s *Service) {
		if gift > 0 {
			s.giftWindow = gift
		}
		if undo > 0 {
			s.undoWindow = undo
		}
	}
}

func New(repo store.Repository, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		now:        time.Now,
		logger:     zerolog.Nop(),
		giftWindow: DefaultGiftWindow,
		undoWindow: DefaultUndoWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitPurchase validates every line against locked stock, then writes the
// purchase, its items and the stock decrements in one unit of work. Item
// prices are computed here and never again.
func (s *Service) SubmitPurchase(ctx context.Context, customerMail string, lines []domain.PurchaseLine) (domain.PurchaseReceipt, error) {
	if _, err := s.repo.GetCustomer(ctx, customerMail); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.PurchaseReceipt{}, fmt.Errorf("%w: customer %s", store.ErrNotFound, customerMail)
		}
		return domain.PurchaseReceipt{}, internal(err)
	}
	if err := validateLines(lines); err != nil {
		return domain.PurchaseReceipt{}, err
	}

	codes := make([]string, 0, len(lines))
	for _, line := range lines {
		codes = append(codes, line.ProductCode)
	}

	var purchase domain.Purchase
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		products, err := tx.LockProducts(ctx, codes)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if err := checkStock(line, products); err != nil {
				return err
			}
		}

		purchase = domain.Purchase{
			Code:         xid.New(""),
			CustomerMail: customerMail,
			CreatedAt:    s.now().UTC(),
			Items:        make([]domain.PurchaseItem, 0, len(lines)),
		}
		for _, line := range lines {
			product := products[line.ProductCode]
			if err := tx.SetProductQuantity(ctx, product.Code, product.Quantity-line.Quantity); err != nil {
				return err
			}
			purchase.Items = append(purchase.Items, domain.PurchaseItem{
				ID:           xid.New("item"),
				PurchaseCode: purchase.Code,
				ProductCode:  product.Code,
				Quantity:     line.Quantity,
				Price:        product.LinePrice(line.Quantity),
			})
		}
		return tx.InsertPurchase(ctx, purchase)
	})
	if err != nil {
		return domain.PurchaseReceipt{}, internal(err)
	}

	s.logger.Info().
		Str("purchase", purchase.Code).
		Str("customer", customerMail).
		Int("items", len(purchase.Items)).
		Str("total", purchase.Total().String()).
		Msg("purchase submitted")
	return toReceipt(purchase), nil
}

// GiftPurchase hands a fresh purchase to another customer. Once gifted it
// can be neither gifted again nor undone. When ctx carries a non-admin actor,
// only that actor's own purchases are eligible.
func (s *Service) GiftPurchase(ctx context.Context, purchaseCode string, recipientMail string) error {
	if !xid.Valid("", purchaseCode) {
		return fmt.Errorf("%w: purchase %s", store.ErrNotFound, purchaseCode)
	}

	var previousOwner string
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		purchase, err := tx.LockPurchase(ctx, purchaseCode)
		if err != nil {
			return err
		}
		if purchase.Gifted || !s.withinWindow(purchase.CreatedAt, s.giftWindow) || !mayActFor(ctx, purchase.CustomerMail) {
			return fmt.Errorf("%w: purchase %s can no longer be gifted", store.ErrNotFound, purchaseCode)
		}
		if recipientMail == purchase.CustomerMail {
			return fmt.Errorf("%w: purchase %s already belongs to %s", store.ErrPreconditionFailed, purchaseCode, recipientMail)
		}
		if _, err := tx.GetCustomer(ctx, recipientMail); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: recipient %s", store.ErrNotFound, recipientMail)
			}
			return err
		}
		previousOwner = purchase.CustomerMail
		return tx.ReassignPurchase(ctx, purchaseCode, recipientMail)
	})
	if err != nil {
		return internal(err)
	}

	s.logger.Info().
		Str("purchase", purchaseCode).
		Str("from", previousOwner).
		Str("to", recipientMail).
		Msg("purchase gifted")
	return nil
}

// UndoPurchase puts every item back on the shelf and erases the purchase.
// Purchases outside the window, gifted ones and ones owned by someone else
// all report ErrNotFound.
func (s *Service) UndoPurchase(ctx context.Context, purchaseCode string, requesterMail string) error {
	if !xid.Valid("", purchaseCode) {
		return fmt.Errorf("%w: purchase %s", store.ErrNotFound, purchaseCode)
	}

	restored := 0
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		purchase, err := tx.LockPurchase(ctx, purchaseCode)
		if err != nil {
			return err
		}
		if purchase.Gifted || purchase.CustomerMail != requesterMail || !s.withinWindow(purchase.CreatedAt, s.undoWindow) {
			return fmt.Errorf("%w: purchase %s cannot be undone", store.ErrNotFound, purchaseCode)
		}

		returned := make(map[string]int, len(purchase.Items))
		codes := make([]string, 0, len(purchase.Items))
		for _, item := range purchase.Items {
			if _, seen := returned[item.ProductCode]; !seen {
				codes = append(codes, item.ProductCode)
			}
			returned[item.ProductCode] += item.Quantity
		}

		products, err := tx.LockProducts(ctx, codes)
		if err != nil {
			return err
		}
		for _, code := range codes {
			product, ok := products[code]
			if !ok {
				return fmt.Errorf("%w: product %s of purchase %s is gone", store.ErrInternal, code, purchaseCode)
			}
			if err := tx.SetProductQuantity(ctx, code, product.Quantity+returned[code]); err != nil {
				return err
			}
			restored += returned[code]
		}
		return tx.DeletePurchase(ctx, purchaseCode)
	})
	if err != nil {
		return internal(err)
	}

	s.logger.Info().
		Str("purchase", purchaseCode).
		Str("customer", requesterMail).
		Int("restored_units", restored).
		Msg("purchase undone")
	return nil
}

// RecentPurchases lists the non-gifted purchases still inside the gift
// window, newest first.
func (s *Service) RecentPurchases(ctx context.Context) ([]domain.RecentPurchase, error) {
	purchases, err := s.repo.ListPurchasesSince(ctx, s.now().UTC().Add(-s.giftWindow))
	if err != nil {
		return nil, internal(err)
	}

	customers := make(map[string]*domain.Customer)
	productNames := make(map[string]string)
	feed := make([]domain.RecentPurchase, 0, len(purchases))
	for _, purchase := range purchases {
		customer, ok := customers[purchase.CustomerMail]
		if !ok {
			customer, err = s.repo.GetCustomer(ctx, purchase.CustomerMail)
			if err != nil {
				return nil, fmt.Errorf("%w: owner of purchase %s: %w", store.ErrInternal, purchase.Code, err)
			}
			customers[purchase.CustomerMail] = customer
		}

		entry := domain.RecentPurchase{
			Code:      purchase.Code,
			FirstName: customer.FirstName,
			LastName:  customer.LastName,
			CreatedAt: purchase.CreatedAt.Format(time.RFC3339),
			Products:  make([]domain.RecentPurchaseItem, 0, len(purchase.Items)),
		}
		for _, item := range purchase.Items {
			name, ok := productNames[item.ProductCode]
			if !ok {
				product, err := s.repo.GetProduct(ctx, item.ProductCode)
				if err != nil {
					return nil, fmt.Errorf("%w: product %s: %w", store.ErrInternal, item.ProductCode, err)
				}
				name = product.Name
				productNames[item.ProductCode] = name
			}
			entry.Products = append(entry.Products, domain.RecentPurchaseItem{
				ProductName: name,
				Quantity:    item.Quantity,
				Price:       item.Price,
			})
		}
		feed = append(feed, entry)
	}
	return feed, nil
}

func mayActFor(ctx context.Context, owner string) bool {
	actor, ok := ActorFromContext(ctx)
	return !ok || actor.Admin || actor.MailAddress == owner
}

func (s *Service) withinWindow(createdAt time.Time, window time.Duration) bool {
	return createdAt.After(s.now().Add(-window))
}

func validateLines(lines []domain.PurchaseLine) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: purchase has no lines", store.ErrInvalidRequest)
	}
	distinct := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if line.ProductCode == "" {
			return fmt.Errorf("%w: line without product code", store.ErrInvalidRequest)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: quantity %d for %s", store.ErrInvalidRequest, line.Quantity, line.ProductCode)
		}
		distinct[line.ProductCode] = struct{}{}
	}
	if len(distinct) != len(lines) {
		return fmt.Errorf("%w: duplicate product lines", store.ErrInvalidRequest)
	}
	return nil
}

func checkStock(line domain.PurchaseLine, products map[string]domain.Product) error {
	product, ok := products[line.ProductCode]
	lineErr := &LineError{ProductCode: line.ProductCode, Requested: line.Quantity}
	switch {
	case !ok:
		lineErr.Reason = ReasonUnknownProduct
	case !product.Available:
		lineErr.Reason = ReasonUnavailable
	case product.Quantity == 0:
		lineErr.Reason = ReasonOutOfStock
	case line.Quantity > product.Quantity:
		lineErr.Reason = ReasonInsufficientStock
		lineErr.Available = product.Quantity
	default:
		return nil
	}
	return lineErr
}

func toReceipt(purchase domain.Purchase) domain.PurchaseReceipt {
	items := make([]domain.PurchaseReceiptItem, 0, len(purchase.Items))
	for _, item := range purchase.Items {
		items = append(items, domain.PurchaseReceiptItem{
			ProductCode: item.ProductCode,
			Quantity:    item.Quantity,
			Price:       item.Price,
		})
	}
	return domain.PurchaseReceipt{
		Code:         purchase.Code,
		CustomerMail: purchase.CustomerMail,
		CreatedAt:    purchase.CreatedAt.Format(time.RFC3339),
		Items:        items,
		Total:        purchase.Total(),
	}
}
