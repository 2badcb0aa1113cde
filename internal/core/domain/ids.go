package domain

import (
	"github.com/oklog/ulid/v2"
)

// Identifier prefixes. ULIDs sort by creation time.
const (
	PrefixTransaction = "TXN-"
	PrefixEntry       = "LE-"
	PrefixApproval    = "APR-"
	PrefixAudit       = "AUD-"
)

func newID(prefix string) string {
	return prefix + ulid.Make().String()
}

func NewTransactionID() string { return newID(PrefixTransaction) }
func NewEntryID() string       { return newID(PrefixEntry) }
func NewApprovalID() string    { return newID(PrefixApproval) }
func NewAuditID() string       { return newID(PrefixAudit) }
