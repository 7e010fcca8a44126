package accounting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"

	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/ports/driven"
	"github.com/custodia-labs/cashsync/internal/logger"
)

const (
	// HeaderTenantID selects the tenant organisation on every request.
	HeaderTenantID = "X-Tenant-Id"

	// HeaderRetryAfter is the retry-after header (seconds or HTTP date).
	HeaderRetryAfter = "Retry-After"

	// MaxResponseBytes bounds a single response body.
	MaxResponseBytes = 32 << 20

	// bankSummaryPath is the report endpoint backing EntityBankSummary.
	bankSummaryPath = "reports/bank_summary"
)

// Verify interface compliance.
var _ driven.AccountingSource = (*Client)(nil)

// listEntities are the entities served by paged list endpoints.
var listEntities = map[domain.EntityName]bool{
	domain.EntityAccounts:         true,
	domain.EntityContacts:         true,
	domain.EntityInvoices:         true,
	domain.EntityBankTransactions: true,
	domain.EntityPayments:         true,
}

// Client pulls entity pages from the accounting API.
type Client struct {
	baseURL   *url.URL
	transport http.RoundTripper
	invoker   *Invoker
	clock     driven.Clock
}

// NewClient creates a client for baseURL. A nil transport uses
// http.DefaultTransport.
func NewClient(baseURL string, transport http.RoundTripper, invoker *Invoker, clock driven.Clock) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, domain.ValidationErrorf("invalid upstream base URL %q", baseURL)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		baseURL:   u,
		transport: transport,
		invoker:   invoker,
		clock:     clock,
	}, nil
}

// listResponse is the envelope of every list endpoint.
type listResponse struct {
	Pagination struct {
		Page      int `json:"page"`
		PageSize  int `json:"pageSize"`
		PageCount int `json:"pageCount"`
		ItemCount int `json:"itemCount"`
	} `json:"pagination"`
	Items []map[string]any `json:"items"`
}

// FetchPage returns one page of entity for tenant.
func (c *Client) FetchPage(
	ctx context.Context,
	cred *domain.Credential,
	tenantID string,
	entity domain.EntityName,
	query driven.PageQuery,
) (*driven.Page, error) {
	if cred == nil || cred.AccessToken == "" {
		return nil, domain.NewAuthError(tenantID, domain.AuthReasonNotConnected, nil)
	}
	if entity == domain.EntityBankSummary {
		return c.fetchBankSummary(ctx, cred, tenantID, query)
	}
	if !listEntities[entity] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}

	cursor, err := DecodeCursor(string(entity), query.Cursor)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(cursor.Page))
	if !query.ModifiedSince.IsZero() {
		params.Set("modifiedSince", query.ModifiedSince.UTC().Format(time.RFC3339))
	}
	if !query.FromDate.IsZero() {
		params.Set("from", query.FromDate.Format(time.DateOnly))
	}
	if !query.ToDate.IsZero() {
		params.Set("to", query.ToDate.Format(time.DateOnly))
	}
	endpoint := c.endpoint(string(entity), params)

	var body []byte
	err = c.invoker.Do(ctx, tenantID, "list "+string(entity), func(ctx context.Context) error {
		var getErr error
		body, getErr = c.get(ctx, cred, tenantID, endpoint)
		return getErr
	})
	if err != nil {
		return nil, err
	}

	var resp listResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: %s page %d: %w", ErrMalformedResponse, entity, cursor.Page, err)
	}

	records := make([]domain.UpstreamRecord, 0, len(resp.Items))
	for _, item := range resp.Items {
		rec, err := normaliseRecord(item)
		if err != nil {
			return nil, fmt.Errorf("%s page %d: %w", entity, cursor.Page, err)
		}
		records = append(records, rec)
	}

	page := &driven.Page{
		Records:    records,
		PageNumber: cursor.Page,
		TotalPages: resp.Pagination.PageCount,
	}
	if len(resp.Items) == 0 || cursor.Page >= resp.Pagination.PageCount {
		page.Done = true
	} else {
		page.NextCursor = cursor.Next().Encode()
	}

	logger.Debug("accounting: %s page %d/%d for tenant %s: %d records",
		entity, cursor.Page, resp.Pagination.PageCount, tenantID, len(records))
	return page, nil
}

// fetchBankSummary serves EntityBankSummary from the bank summary report
// as a single page.
func (c *Client) fetchBankSummary(
	ctx context.Context,
	cred *domain.Credential,
	tenantID string,
	query driven.PageQuery,
) (*driven.Page, error) {
	params := url.Values{}
	if !query.FromDate.IsZero() {
		params.Set("fromDate", query.FromDate.Format(time.DateOnly))
	}
	if !query.ToDate.IsZero() {
		params.Set("toDate", query.ToDate.Format(time.DateOnly))
	}
	endpoint := c.endpoint(bankSummaryPath, params)

	var body []byte
	err := c.invoker.Do(ctx, tenantID, "report bank_summary", func(ctx context.Context) error {
		var getErr error
		body, getErr = c.get(ctx, cred, tenantID, endpoint)
		return getErr
	})
	if err != nil {
		return nil, err
	}

	report, err := ParseReport(body)
	if err != nil {
		return nil, fmt.Errorf("bank summary: %w", err)
	}
	records, err := BankSummaryRecords(report)
	if err != nil {
		return nil, fmt.Errorf("bank summary: %w", err)
	}
	return &driven.Page{Records: records, Done: true, PageNumber: 1, TotalPages: 1}, nil
}

func (c *Client) endpoint(path string, params url.Values) string {
	u := c.baseURL.ResolveReference(&url.URL{Path: path})
	u.RawQuery = params.Encode()
	return u.String()
}

// get performs one authenticated GET and returns the body of a 2xx response.
func (c *Client) get(ctx context.Context, cred *domain.Credential, tenantID, endpoint string) ([]byte, error) {
	tokenType := cred.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{
				AccessToken: cred.AccessToken,
				TokenType:   tokenType,
			}),
			Base: c.transport,
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderTenantID, tenantID)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := errorFromResponse(resp, body, c.clock.Now())
		if IsUnauthorized(apiErr) {
			return nil, domain.NewAuthError(tenantID, domain.AuthReasonExpired, apiErr)
		}
		return nil, apiErr
	}
	if len(body) > MaxResponseBytes {
		return nil, fmt.Errorf("%w: %s response too large (over %d bytes)", ErrMalformedResponse, endpoint, MaxResponseBytes)
	}
	return body, nil
}

// normaliseRecord flattens an upstream item into an UpstreamRecord.
// Keys become snake_case, nested objects carrying an id collapse to a
// "<key>_id" reference, other nested objects are prefixed and numbers are
// rendered in canonical decimal form.
func normaliseRecord(item map[string]any) (domain.UpstreamRecord, error) {
	id, _ := item["id"].(string)
	if id == "" {
		return domain.UpstreamRecord{}, fmt.Errorf("%w: record without id", ErrMalformedResponse)
	}

	rec := domain.UpstreamRecord{ExternalID: id, Fields: make(map[string]string)}
	if raw, ok := item["updatedAt"].(string); ok && raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.UpstreamRecord{}, fmt.Errorf("%w: record %s updatedAt %q", ErrMalformedResponse, id, raw)
		}
		rec.UpdatedAt = t.UTC()
	}

	keys := make([]string, 0, len(item))
	for k := range item {
		if k != "id" && k != "updatedAt" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		flattenField(rec.Fields, snakeCase(k), item[k])
	}
	return rec, nil
}

func flattenField(out map[string]string, key string, value any) {
	switch v := value.(type) {
	case nil:
		return
	case string:
		out[key] = v
	case bool:
		out[key] = fmt.Sprint(v)
	case json.Number:
		if d, err := decimal.NewFromString(v.String()); err == nil {
			out[key] = d.String()
		} else {
			out[key] = v.String()
		}
	case map[string]any:
		if ref, ok := v["id"].(string); ok {
			out[key+"_id"] = ref
			return
		}
		for k, nested := range v {
			flattenField(out, key+"_"+snakeCase(k), nested)
		}
	default:
		data, err := json.Marshal(v)
		if err == nil {
			out[key] = string(data)
		}
	}
}

// snakeCase converts camelCase to snake_case.
func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
