package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"obar/backend/internal/cache"
	"obar/backend/internal/domain"
	"obar/backend/internal/store"
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInvalidToken       = errors.New("invalid or expired token")
	errRevokedToken       = errors.New("token has been revoked")
)

const tokenIssuer = "obar"

type CustomerLookup interface {
	GetCustomer(ctx context.Context, mail string) (*domain.Customer, error)
}

// AuthManager issues HS256 access tokens for customers who log in with their
// PIN. Logged-out tokens stay on the blacklist until they expire.
type AuthManager struct {
	secret    []byte
	tokenTTL  time.Duration
	customers CustomerLookup
	blacklist cache.TokenBlacklist
	now       func() time.Time
}

type obarClaims struct {
	jwtlib.RegisteredClaims
	Admin bool `json:"admin"`
}

// session is the verified content of a bearer token.
type session struct {
	actor     domain.Actor
	tokenID   string
	expiresAt time.Time
}

func NewAuthManager(secret string, tokenTTL time.Duration, customers CustomerLookup, blacklist cache.TokenBlacklist) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if blacklist == nil {
		blacklist = cache.NewMemoryTokenBlacklist()
	}
	return &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		customers: customers,
		blacklist: blacklist,
		now:       time.Now,
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	mail := strings.ToLower(strings.TrimSpace(req.MailAddress))
	if mail == "" || strings.TrimSpace(req.PIN) == "" {
		return domain.LoginResponse{}, errInvalidCredentials
	}

	customer, err := a.customers.GetCustomer(ctx, mail)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.LoginResponse{}, errInvalidCredentials
		}
		return domain.LoginResponse{}, fmt.Errorf("%w: %w", store.ErrInternal, err)
	}
	if !verifyPIN(customer.PINHash, req.PIN) {
		return domain.LoginResponse{}, errInvalidCredentials
	}

	expiresAt := a.now().UTC().Add(a.tokenTTL)
	token, err := a.sign(customer.MailAddress, customer.Admin, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, fmt.Errorf("%w: %w", store.ErrInternal, err)
	}

	return domain.LoginResponse{
		AccessToken: token,
		Admin:       customer.Admin,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(ctx context.Context, tokenStr string) (session, error) {
	claims := &obarClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	},
		jwtlib.WithValidMethods([]string{"HS256"}),
		jwtlib.WithIssuer(tokenIssuer),
		jwtlib.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return session{}, errInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" || claims.ID == "" || claims.ExpiresAt == nil {
		return session{}, errInvalidToken
	}

	revoked, err := a.blacklist.IsRevoked(ctx, claims.ID)
	if err != nil {
		return session{}, fmt.Errorf("%w: %w", store.ErrInternal, err)
	}
	if revoked {
		return session{}, errRevokedToken
	}

	return session{
		actor:     domain.Actor{MailAddress: sub, Admin: claims.Admin},
		tokenID:   claims.ID,
		expiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Logout blacklists the session's token for the rest of its lifetime.
func (a *AuthManager) Logout(ctx context.Context, s session) error {
	ttl := s.expiresAt.Sub(a.now())
	if ttl <= 0 {
		return nil
	}
	return a.blacklist.Revoke(ctx, s.tokenID, ttl)
}

func (a *AuthManager) sign(mail string, admin bool, expiresAt time.Time) (string, error) {
	claims := obarClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   mail,
			IssuedAt:  jwtlib.NewNumericDate(a.now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Admin: admin,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func verifyPIN(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPINHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func isPINHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
