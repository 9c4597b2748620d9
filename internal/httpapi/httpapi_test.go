package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"obar/backend/internal/cache"
	"obar/backend/internal/domain"
	"obar/backend/internal/service"
	"obar/backend/internal/store"
	"obar/backend/internal/store/memory"
)

const testSecret = "test-secret-key-with-at-least-32-chars"

type testEnv struct {
	repo    *memory.Store
	handler http.Handler
}

// newTestEnv wires a real service, auth manager and in-memory store so
// handler tests exercise the complete request path.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := memory.New()
	seedCustomer(t, repo, "admin@obar.test", "1111", true)
	seedCustomer(t, repo, "c1@obar.test", "2222", false)
	seedCustomer(t, repo, "c2@obar.test", "3333", false)
	_, err := repo.CreateProduct(context.Background(), domain.Product{
		Code: "P1", Name: "Espresso", Available: true,
		Price: decimal.RequireFromString("1.10"), Quantity: 5, SiteID: "bar",
	})
	require.NoError(t, err)

	return &testEnv{repo: repo, handler: newHandler(repo, repo)}
}

func newHandler(repo store.Repository, customers CustomerLookup) http.Handler {
	svc := service.New(repo)
	auth := NewAuthManager(testSecret, time.Hour, customers, cache.NewMemoryTokenBlacklist())
	return New(svc, auth, "http://127.0.0.1:3000", zerolog.Nop()).Handler()
}

func seedCustomer(t *testing.T, repo store.Directory, mail string, pin string, admin bool) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = repo.CreateCustomer(context.Background(), domain.Customer{
		MailAddress: mail, PINHash: string(hash), FirstName: "First", LastName: "Last", Admin: admin,
	})
	require.NoError(t, err)
}

func (e *testEnv) do(t *testing.T, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, mail string, pin string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{MailAddress: mail, PIN: pin})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp domain.LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func (e *testEnv) submit(t *testing.T, token string, req domain.PurchaseRequest) domain.PurchaseReceipt {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/purchases", token, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var receipt domain.PurchaseReceipt
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&receipt))
	return receipt
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body["error"]
}

func lines(code string, qty int) []domain.PurchaseLine {
	return []domain.PurchaseLine{{ProductCode: code, Quantity: qty}}
}

func TestHandleHealthSetsSecurityHeaders(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Referrer-Policy"))
}

func TestLoginRejectsWrongPIN(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{MailAddress: "c1@obar.test", PIN: "9999"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{MailAddress: "ghost@obar.test", PIN: "2222"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, errInvalidCredentials.Error(), errorMessage(t, rec))
}

func TestLoginRateLimitReturns429(t *testing.T) {
	env := newTestEnv(t)
	body, err := json.Marshal(domain.LoginRequest{MailAddress: "c1@obar.test", PIN: "0000"})
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)

		if i < 5 {
			require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
		} else {
			require.Equal(t, http.StatusTooManyRequests, rec.Code)
		}
	}
}

func TestPurchaseRoutesRequireBearerToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/purchases", "", domain.PurchaseRequest{Lines: lines("P1", 1)})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/purchases/recent", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitPurchaseDefaultsToCaller(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "c1@obar.test", "2222")

	receipt := env.submit(t, token, domain.PurchaseRequest{Lines: lines("P1", 2)})

	assert.Equal(t, "c1@obar.test", receipt.CustomerMail)
	require.Len(t, receipt.Items, 1)
	assert.True(t, decimal.RequireFromString("2.20").Equal(receipt.Total))

	p1, err := env.repo.GetProduct(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, 3, p1.Quantity)
}

func TestSubmitPurchaseErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "c1@obar.test", "2222")

	cases := []struct {
		name   string
		body   domain.PurchaseRequest
		status int
	}{
		{"duplicate line", domain.PurchaseRequest{Lines: []domain.PurchaseLine{{ProductCode: "P1", Quantity: 1}, {ProductCode: "P1", Quantity: 1}}}, http.StatusUnprocessableEntity},
		{"zero quantity", domain.PurchaseRequest{Lines: lines("P1", 0)}, http.StatusUnprocessableEntity},
		{"too many", domain.PurchaseRequest{Lines: lines("P1", 6)}, http.StatusConflict},
		{"unknown product", domain.PurchaseRequest{Lines: lines("NOPE", 1)}, http.StatusNotFound},
		{"other customer", domain.PurchaseRequest{CustomerMail: "c2@obar.test", Lines: lines("P1", 1)}, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/purchases", token, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}

	rec := env.do(t, http.MethodPost, "/api/v1/purchases", token, map[string]any{"surprise": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminMaySubmitForAnotherCustomer(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "admin@obar.test", "1111")

	receipt := env.submit(t, token, domain.PurchaseRequest{CustomerMail: "C2@obar.test", Lines: lines("P1", 1)})
	assert.Equal(t, "c2@obar.test", receipt.CustomerMail)
}

func TestGiftAndUndoFlow(t *testing.T) {
	env := newTestEnv(t)
	c1 := env.login(t, "c1@obar.test", "2222")
	c2 := env.login(t, "c2@obar.test", "3333")

	kept := env.submit(t, c1, domain.PurchaseRequest{Lines: lines("P1", 1)})
	undone := env.submit(t, c1, domain.PurchaseRequest{Lines: lines("P1", 2)})

	rec := env.do(t, http.MethodDelete, "/api/v1/purchases/"+undone.Code, c2, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "only the owner may undo")

	rec = env.do(t, http.MethodDelete, "/api/v1/purchases/"+undone.Code, c1, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodDelete, "/api/v1/purchases/"+undone.Code, c1, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/purchases/"+kept.Code+"/gift", c1, domain.GiftRequest{RecipientMail: "c1@obar.test"})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/purchases/"+kept.Code+"/gift", c2, domain.GiftRequest{RecipientMail: "c2@obar.test"})
	assert.Equal(t, http.StatusNotFound, rec.Code, "strangers cannot gift someone else's purchase")

	rec = env.do(t, http.MethodPost, "/api/v1/purchases/"+kept.Code+"/gift", c1, domain.GiftRequest{RecipientMail: "c2@obar.test"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodDelete, "/api/v1/purchases/"+kept.Code, c2, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "gifted purchases cannot be undone")

	p1, err := env.repo.GetProduct(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, 4, p1.Quantity)
}

func TestRecentPurchases(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "c1@obar.test", "2222")
	receipt := env.submit(t, token, domain.PurchaseRequest{Lines: lines("P1", 1)})

	rec := env.do(t, http.MethodGet, "/api/v1/purchases/recent", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp domain.RecentPurchaseListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Purchases, 1)
	assert.Equal(t, receipt.Code, resp.Purchases[0].Code)
	assert.Equal(t, "Espresso", resp.Purchases[0].Products[0].ProductName)
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "c1@obar.test", "2222")

	rec := env.do(t, http.MethodPost, "/api/v1/auth/logout", token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/purchases/recent", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, errRevokedToken.Error(), errorMessage(t, rec))

	fresh := env.login(t, "c1@obar.test", "2222")
	rec = env.do(t, http.MethodGet, "/api/v1/purchases/recent", fresh, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type brokenLedger struct {
	*memory.Store
}

func (brokenLedger) ListPurchasesSince(context.Context, time.Time) ([]domain.Purchase, error) {
	return nil, errors.New("pq: relation \"purchases\" does not exist")
}

func TestStorageFailureReturnsGenericMessage(t *testing.T) {
	env := newTestEnv(t)
	env.handler = newHandler(brokenLedger{env.repo}, env.repo)
	token := env.login(t, "c1@obar.test", "2222")

	rec := env.do(t, http.MethodGet, "/api/v1/purchases/recent", token, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", errorMessage(t, rec))
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/purchases", nil)
	req.Header.Set("Origin", "http://127.0.0.1:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()

	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, "http://127.0.0.1:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/nope", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "route not found", errorMessage(t, rec))
}
