package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-ledger-must-flow/internal/dispatch"
	"github.com/Veraticus/the-ledger-must-flow/internal/gateway"
	"github.com/Veraticus/the-ledger-must-flow/internal/intake"
	"github.com/Veraticus/the-ledger-must-flow/internal/lifecycle"
	"github.com/Veraticus/the-ledger-must-flow/internal/matcher"
	"github.com/Veraticus/the-ledger-must-flow/internal/model"
	"github.com/Veraticus/the-ledger-must-flow/internal/receipts"
	"github.com/Veraticus/the-ledger-must-flow/internal/server"
	"github.com/Veraticus/the-ledger-must-flow/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*server.Server, *testutil.TestDB) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	receiptStore, err := receipts.NewFSStore(t.TempDir())
	require.NoError(t, err)

	controller := lifecycle.New(
		db.Storage,
		gateway.New(db.Storage),
		matcher.New(matcher.Config{AmountToleranceCents: 50, DateWindowDays: 3}),
		lifecycle.Config{},
	)
	dispatcher := dispatch.New(controller, dispatch.Config{InvocationsPerMinute: 600})
	t.Cleanup(dispatcher.Close)

	srv := server.New(
		server.Config{Addr: ":0"},
		db.Storage,
		receiptStore,
		intake.New(db.Storage),
		dispatcher,
		controller,
	)
	return srv, db
}

func doRequest(t *testing.T, srv *server.Server, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExpenseReportWebhook(t *testing.T) {
	srv, db := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/webhooks/expense-report", "application/json", `{
		"report_id": "rep-1",
		"expenses": [
			{"expense_id": "EXP-001", "date": "2024-06-15", "amount": 42.50, "merchant_name": "Office Depot", "category_name": "Office Supplies"},
			{"expense_id": "EXP-BAD", "date": "not a date", "amount": 10.00}
		]
	}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	payload := decodeJSON(t, rec)
	assert.Equal(t, "rep-1", payload["report_id"])
	entries, ok := payload["entries"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 2)

	first := entries[0].(map[string]any)
	assert.Equal(t, "created", first["disposition"])
	second := entries[1].(map[string]any)
	assert.Equal(t, "skipped", second["disposition"])
	assert.NotEmpty(t, second["error"])

	// Background dispatch settles the new expense; with no bank match it
	// lands in the review queue.
	require.Eventually(t, func() bool {
		expense, err := db.Storage.GetExpenseByExternalID(context.Background(), "EXP-001")
		if err != nil {
			return false
		}
		return expense.Status == model.StatusFlagged
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExpenseReportWebhookBadJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/webhooks/expense-report", "application/json", `{"report_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReviewQueueEndpoint(t *testing.T) {
	srv, db := newTestServer(t)
	ctx := context.Background()

	expense := db.SeedExpense(model.Expense{
		Merchant:    "Office Depot",
		Category:    "Office Supplies",
		AmountCents: 4250,
		Status:      model.StatusPending,
	})
	_, err := db.Storage.TransitionStatus(ctx, expense.ID, model.StatusPending, model.StatusProcessing)
	require.NoError(t, err)
	_, err = db.Storage.FinalizeFlagged(ctx, expense.ID, 60, "no bank transaction match (-40)")
	require.NoError(t, err)

	rec := doRequest(t, srv, http.MethodGet, "/review", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	payload := decodeJSON(t, rec)
	items, ok := payload["expenses"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)

	item := items[0].(map[string]any)
	assert.Equal(t, expense.ID, item["id"])
	assert.Equal(t, "no bank transaction match (-40)", item["flag_reason"])
	assert.Equal(t, float64(60), item["confidence"])
}

func TestResetEndpoint(t *testing.T) {
	srv, db := newTestServer(t)
	ctx := context.Background()

	expense := db.SeedExpense(model.Expense{
		Merchant:    "Office Depot",
		AmountCents: 4250,
		Status:      model.StatusPending,
	})

	// Not flagged yet: the reset must be refused.
	rec := doRequest(t, srv, http.MethodPost, "/expenses/"+expense.ID+"/reset", "", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	_, err := db.Storage.TransitionStatus(ctx, expense.ID, model.StatusPending, model.StatusProcessing)
	require.NoError(t, err)
	_, err = db.Storage.FinalizeFlagged(ctx, expense.ID, 60, "review")
	require.NoError(t, err)

	rec = doRequest(t, srv, http.MethodPost, "/expenses/"+expense.ID+"/reset", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Reprocessing happens in the background and will flag it again (still
	// no bank match), but it must first have passed through pending.
	require.Eventually(t, func() bool {
		got := db.MustGetExpense(expense.ID)
		return got.Status == model.StatusFlagged || got.Status == model.StatusPending
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResetEndpointUnknownExpense(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/expenses/nope/reset", "", "")
	// An unknown ID is indistinguishable from a non-flagged one at the
	// storage layer; both refuse the reset.
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReceiptUpload(t *testing.T) {
	srv, db := newTestServer(t)

	expense := db.SeedExpense(model.Expense{
		Merchant:    "Office Depot",
		AmountCents: 4250,
		Status:      model.StatusPending,
	})

	rec := doRequest(t, srv, http.MethodPost, "/expenses/"+expense.ID+"/receipt",
		"application/pdf; charset=binary", "%PDF-1.4 fake receipt")
	require.Equal(t, http.StatusOK, rec.Code)

	payload := decodeJSON(t, rec)
	path, _ := payload["receipt_path"].(string)
	assert.NotEmpty(t, path)

	stored := db.MustGetExpense(expense.ID)
	assert.Equal(t, path, stored.ReceiptPath)
	assert.Equal(t, "application/pdf", stored.ReceiptContentType)
}

func TestReceiptUploadValidation(t *testing.T) {
	srv, db := newTestServer(t)

	expense := db.SeedExpense(model.Expense{
		AmountCents: 4250,
		Status:      model.StatusPending,
	})

	rec := doRequest(t, srv, http.MethodPost, "/expenses/"+expense.ID+"/receipt", "application/pdf", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty body")

	rec = doRequest(t, srv, http.MethodPost, "/expenses/unknown/receipt", "application/pdf", "data")
	assert.Equal(t, http.StatusNotFound, rec.Code, "unknown expense")
}
