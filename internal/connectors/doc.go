// Package connectors holds the adapters that pull data from upstream
// systems of record. Each subpackage implements driven.AccountingSource
// for one provider and owns its wire format, paging cursor and error
// classification.
package connectors
