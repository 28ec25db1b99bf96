package utils

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrorRecordNotFound = errors.New("record not found")

// FieldErrors maps an input field name to a human-readable problem.
type FieldErrors map[string]string

// ValidationError reports malformed or missing input. Callers receiving it
// can assume no side effects happened.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func NewValidationError(field string, problem string) *ValidationError {
	return &ValidationError{Fields: FieldErrors{field: problem}}
}

// NotFoundError reports a missing referenced resource.
type NotFoundError struct {
	Resource string
	ID       int
}

func (e *NotFoundError) Error() string {
	if e.ID > 0 {
		return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
	}
	return e.Resource + " not found"
}

// Is lets errors.Is(err, ErrorRecordNotFound) keep working for callers that
// only care about the sentinel.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrorRecordNotFound
}

// ItemShortage names one sales-order line that cannot be covered by the
// current stock balance.
type ItemShortage struct {
	ItemId    int             `json:"item_id"`
	Name      string          `json:"name"`
	Requested decimal.Decimal `json:"requested"`
	Available decimal.Decimal `json:"available"`
}

// ConflictError reports a rejected write: insufficient stock, an exhausted
// sequence-code retry, or a stale optimistic-lock version.
type ConflictError struct {
	Reason    string
	Shortages []ItemShortage
}

func (e *ConflictError) Error() string {
	if len(e.Shortages) == 0 {
		return e.Reason
	}
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("item %d (%s): requested %s, available %s",
			s.ItemId, s.Name, s.Requested.String(), s.Available.String()))
	}
	return e.Reason + ": " + strings.Join(parts, "; ")
}

// PersistenceError reports a store failure inside a scoped transaction.
// The transaction's scope has been rolled back when this is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "persistence failure in " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// BestEffortError wraps a failure in a post-commit step (counters, ledger,
// price updates). It is logged and swallowed; the committed order stands.
type BestEffortError struct {
	Step string
	Err  error
}

func (e *BestEffortError) Error() string {
	return "best-effort step " + e.Step + " failed: " + e.Err.Error()
}

func (e *BestEffortError) Unwrap() error { return e.Err }
