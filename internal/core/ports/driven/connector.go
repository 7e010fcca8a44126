package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/cashsync/internal/core/domain"
)

// PageQuery selects one page of an entity.
type PageQuery struct {
	// Cursor is the token returned by the previous page; empty starts over.
	Cursor string

	// ModifiedSince restricts the pull to records modified after it.
	ModifiedSince time.Time

	// FromDate and ToDate bound dated entities.
	FromDate time.Time
	ToDate   time.Time
}

// Page is the explicit result of one page fetch.
// Done distinguishes "no more pages" from a failure, which is the error.
type Page struct {
	Records    []domain.UpstreamRecord
	NextCursor string
	Done       bool

	// PageNumber and TotalPages are informational, zero when unknown.
	PageNumber int
	TotalPages int
}

// AccountingSource pulls records from the accounting system of record.
// Every call is expected to pass through a rate-limited invoker.
type AccountingSource interface {
	// FetchPage returns one page of entity for tenant.
	FetchPage(
		ctx context.Context,
		cred *domain.Credential,
		tenantID string,
		entity domain.EntityName,
		query PageQuery,
	) (*Page, error)
}
