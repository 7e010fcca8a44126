package accounting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/cashsync/internal/adapters/driven/clock"
	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/ports/driven"
)

var testCred = &domain.Credential{TenantID: "t1", AccessToken: "token-abc"}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *clock.Fake) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := clock.NewFake(epoch)
	inv := NewInvoker(testInvokerConfig(), c)
	client, err := NewClient(srv.URL+"/api", nil, inv, c)
	require.NoError(t, err)
	return client, c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func invoicePage(page, pageCount int, ids ...string) map[string]any {
	items := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		items = append(items, map[string]any{
			"id":        id,
			"updatedAt": "2025-05-01T10:00:00Z",
			"type":      "ACCREC",
			"amountDue": json.Number("125.50"),
			"contact":   map[string]any{"id": "c-" + id, "name": "Acme"},
			"paid":      false,
			"dueDate":   "2025-06-15",
		})
	}
	return map[string]any{
		"pagination": map[string]any{"page": page, "pageCount": pageCount, "pageSize": 2},
		"items":      items,
	}
}

func TestClient_FetchPage(t *testing.T) {
	var gotAuth, gotTenant, gotModified string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/invoices", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotTenant = r.Header.Get(HeaderTenantID)
		gotModified = r.URL.Query().Get("modifiedSince")
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		writeJSON(w, invoicePage(page, 2, fmt.Sprintf("inv-%d", page)))
	}))

	since := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	page, err := client.FetchPage(context.Background(), testCred, "t1", domain.EntityInvoices,
		driven.PageQuery{ModifiedSince: since})
	require.NoError(t, err)

	assert.Equal(t, "Bearer token-abc", gotAuth)
	assert.Equal(t, "t1", gotTenant)
	assert.Equal(t, "2025-04-01T00:00:00Z", gotModified)

	assert.False(t, page.Done)
	assert.NotEmpty(t, page.NextCursor)
	assert.Equal(t, 1, page.PageNumber)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Records, 1)

	rec := page.Records[0]
	assert.Equal(t, "inv-1", rec.ExternalID)
	assert.Equal(t, time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC), rec.UpdatedAt)
	assert.Equal(t, "125.5", rec.Fields["amount_due"])
	assert.Equal(t, "c-inv-1", rec.Fields["contact_id"])
	assert.Equal(t, "ACCREC", rec.Fields["type"])
	assert.Equal(t, "false", rec.Fields["paid"])
	assert.Equal(t, "2025-06-15", rec.Fields["due_date"])

	next, err := client.FetchPage(context.Background(), testCred, "t1", domain.EntityInvoices,
		driven.PageQuery{Cursor: page.NextCursor})
	require.NoError(t, err)
	assert.True(t, next.Done)
	assert.Empty(t, next.NextCursor)
	assert.Equal(t, "inv-2", next.Records[0].ExternalID)
}

func TestClient_FetchPage_EmptyListing(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, invoicePage(1, 0))
	}))

	page, err := client.FetchPage(context.Background(), testCred, "t1", domain.EntityContacts, driven.PageQuery{})
	require.NoError(t, err)
	assert.True(t, page.Done)
	assert.Empty(t, page.Records)
}

func TestClient_FetchPage_DateWindow(t *testing.T) {
	var from, to string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		from = r.URL.Query().Get("from")
		to = r.URL.Query().Get("to")
		writeJSON(w, invoicePage(1, 1))
	}))

	_, err := client.FetchPage(context.Background(), testCred, "t1", domain.EntityPayments, driven.PageQuery{
		FromDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ToDate:   time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01", from)
	assert.Equal(t, "2025-03-31", to)
}

func TestClient_RetriesAfter429(t *testing.T) {
	var calls atomic.Int32
	client, c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set(HeaderRetryAfter, "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, invoicePage(1, 1, "inv-1"))
	}))

	page, err := client.FetchPage(context.Background(), testCred, "t1", domain.EntityInvoices, driven.PageQuery{})
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []time.Duration{5 * time.Second}, c.Sleeps())
}

func TestClient_RetriesOn503(t *testing.T) {
	var calls atomic.Int32
	client, c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, invoicePage(1, 1, "inv-1"))
	}))

	_, err := client.FetchPage(context.Background(), testCred, "t1", domain.EntityInvoices, driven.PageQuery{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, c.Sleeps())
}

func TestClient_BadRequestNotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad modifiedSince", http.StatusBadRequest)
	}))

	_, err := client.FetchPage(context.Background(), testCred, "t1", domain.EntityInvoices, driven.PageQuery{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "bad modifiedSince")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_UnauthorizedIsAuthError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.FetchPage(context.Background(), testCred, "t1", domain.EntityAccounts, driven.PageQuery{})
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domain.AuthReasonExpired, authErr.Reason)
	assert.True(t, IsUnauthorized(err))
}

func TestClient_OversizedResponseRejected(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		chunk := bytes.Repeat([]byte(" "), 1<<20)
		for range MaxResponseBytes>>20 + 1 {
			if _, err := w.Write(chunk); err != nil {
				return
			}
		}
	}))

	_, err := client.FetchPage(context.Background(), testCred, "t1", domain.EntityInvoices, driven.PageQuery{})
	require.ErrorIs(t, err, ErrMalformedResponse)
	assert.Contains(t, err.Error(), "too large")
	assert.Equal(t, int32(1), calls.Load(), "an oversized body is not retried")
}

func TestClient_MissingCredential(t *testing.T) {
	client, _ := newTestClient(t, http.NotFoundHandler())

	_, err := client.FetchPage(context.Background(), nil, "t1", domain.EntityAccounts, driven.PageQuery{})
	assert.ErrorIs(t, err, domain.ErrAuthNotConnected)
}

func TestClient_UnknownEntity(t *testing.T) {
	client, _ := newTestClient(t, http.NotFoundHandler())

	_, err := client.FetchPage(context.Background(), testCred, "t1", domain.EntityName("journals"), driven.PageQuery{})
	assert.ErrorIs(t, err, ErrUnknownEntity)
}

func TestClient_InvalidCursor(t *testing.T) {
	client, _ := newTestClient(t, http.NotFoundHandler())

	_, err := client.FetchPage(context.Background(), testCred, "t1", domain.EntityAccounts,
		driven.PageQuery{Cursor: NewCursor("contacts", 2).Encode()})
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestClient_RecordWithoutID(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"pagination": map[string]any{"page": 1, "pageCount": 1},
			"items":      []map[string]any{{"name": "orphan"}},
		})
	}))

	_, err := client.FetchPage(context.Background(), testCred, "t1", domain.EntityAccounts, driven.PageQuery{})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestClient_BankSummary(t *testing.T) {
	body, err := os.ReadFile("testdata/bank_summary.json")
	require.NoError(t, err)

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/reports/bank_summary", r.URL.Path)
		_, _ = w.Write(body)
	}))

	page, err := client.FetchPage(context.Background(), testCred, "t1", domain.EntityBankSummary, driven.PageQuery{})
	require.NoError(t, err)
	assert.True(t, page.Done)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "1000.00", page.Records[0].Fields["closing_balance"])
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient("not a url", nil, nil, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSnakeCase(t *testing.T) {
	assert.Equal(t, "amount_due", snakeCase("amountDue"))
	assert.Equal(t, "type", snakeCase("type"))
	assert.Equal(t, "bank_account_code", snakeCase("bankAccountCode"))
}
