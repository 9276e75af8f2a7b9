package sales

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/vitacare-erp/vitacare/internal/inventory"
	"github.com/vitacare-erp/vitacare/internal/shared"
)

const testSecret = "test-webhook-secret"

type memIdempotency struct {
	keys map[string]struct{}
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{keys: make(map[string]struct{})}
}

func (m *memIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = struct{}{}
	return nil
}

func (m *memIdempotency) Delete(_ context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

func signedCallbackURL(orderID int64, responseCode string) string {
	params := url.Values{}
	params.Set(paramTxnRef, strconv.FormatInt(orderID, 10))
	params.Set(paramResponseCode, responseCode)
	params.Set("vnp_Amount", "3000000")

	mac := hmac.New(sha512.New, []byte(testSecret))
	mac.Write([]byte(signPayload(params)))
	params.Set(paramSecureHash, hex.EncodeToString(mac.Sum(nil)))
	return "/payments/callback?" + params.Encode()
}

func newPaymentRig(t *testing.T) (*memRepo, *memIdempotency, http.Handler) {
	t.Helper()
	repo := newMemRepo()
	svc, _ := newTestService(repo)
	idem := newMemIdempotency()
	handler := NewPaymentHandler(svc, idem, testSecret, slog.Default())

	r := chi.NewRouter()
	r.Route("/payments", handler.MountRoutes)
	return repo, idem, r
}

func placeOrder(t *testing.T, repo *memRepo) (int64, int64) {
	t.Helper()
	batchID := repo.addBatch(inventory.Batch{
		ProductID: 1, WarehouseID: 1, Quantity: 100, RemainingQty: 100,
		ExpiryDate: expireIn(120),
	})
	svc, _ := newTestService(repo)
	invoice, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		Lines: []CartLine{{ProductID: 1, Quantity: 30, Unit: "Viên", UnitPrice: 100}},
	})
	require.NoError(t, err)
	return invoice.ID, batchID
}

func TestPaymentCallbackFailureRestoresStock(t *testing.T) {
	repo, _, router := newPaymentRig(t)
	orderID, batchID := placeOrder(t, repo)
	require.Equal(t, int64(70), repo.batches[batchID].RemainingQty)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, signedCallbackURL(orderID, "24"), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(100), repo.batches[batchID].RemainingQty)
	require.Equal(t, InvoiceCancelled, repo.invoices[orderID].Status)
}

func TestPaymentCallbackSuccessMarksPaid(t *testing.T) {
	repo, _, router := newPaymentRig(t)
	orderID, batchID := placeOrder(t, repo)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, signedCallbackURL(orderID, "00"), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, InvoicePaid, repo.invoices[orderID].Status)
	// A successful payment must not touch stock.
	require.Equal(t, int64(70), repo.batches[batchID].RemainingQty)
}

func TestPaymentCallbackRetryDoesNotDoubleCredit(t *testing.T) {
	repo, _, router := newPaymentRig(t)
	orderID, batchID := placeOrder(t, repo)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, signedCallbackURL(orderID, "24"), nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.Equal(t, int64(100), repo.batches[batchID].RemainingQty)
}

func TestPaymentCallbackRejectsBadSignature(t *testing.T) {
	repo, _, router := newPaymentRig(t)
	orderID, batchID := placeOrder(t, repo)

	params := url.Values{}
	params.Set(paramTxnRef, strconv.FormatInt(orderID, 10))
	params.Set(paramResponseCode, "24")
	params.Set(paramSecureHash, "deadbeef")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payments/callback?"+params.Encode(), nil))

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, int64(70), repo.batches[batchID].RemainingQty)
}

func TestPaymentCallbackMissingSignature(t *testing.T) {
	_, _, router := newPaymentRig(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payments/callback?vnp_TxnRef=1&vnp_ResponseCode=24", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
}
