// Package heat holds the case lookup workflow against the HEAT ticketing system:
// the shared login session, locator-driven field extraction and the retrying case fetcher.
package heat

import (
	"context"
	"errors"
	"strings"
	"time"

	"heatbot/internal/caseid"
)

// Field is a logical case attribute.
type Field string

const (
	FieldClient      Field = "client"
	FieldStatus      Field = "status"
	FieldDescription Field = "description"
	FieldAssignedTo  Field = "assigned_to"
	FieldPriority    Field = "priority"
	FieldDate        Field = "date"
)

// Unknown is stored for fields no locator could resolve.
const Unknown = "unknown"

// Fields is the fixed key set every record carries, in display order.
var Fields = []Field{FieldClient, FieldStatus, FieldDescription, FieldAssignedTo, FieldPriority, FieldDate}

var defaultLabels = map[Field]string{
	FieldClient:      "Client",
	FieldStatus:      "Status",
	FieldDescription: "Description",
	FieldAssignedTo:  "Assigned To",
	FieldPriority:    "Priority",
	FieldDate:        "Date",
}

// DefaultLabel returns the human label for f.
func DefaultLabel(f Field) string {
	if l, ok := defaultLabels[f]; ok {
		return l
	}
	return string(f)
}

// IsField reports whether name is one of the fixed field keys.
func IsField(name string) bool {
	_, ok := defaultLabels[Field(name)]
	return ok
}

// Record is one scraped case. Build it with NewRecord so every key is present.
type Record struct {
	CaseID      caseid.ID
	Values      map[Field]string
	Source      string
	Synthetic   bool
	ExtractedAt time.Time
}

// NewRecord returns a record with every field set to Unknown.
func NewRecord(id caseid.ID, source string) *Record {
	values := make(map[Field]string, len(Fields))
	for _, f := range Fields {
		values[f] = Unknown
	}
	return &Record{CaseID: id, Values: values, Source: source}
}

// Set stores a trimmed value; empty values and unknown keys are ignored.
func (r *Record) Set(f Field, value string) {
	if _, ok := defaultLabels[f]; !ok {
		return
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	r.Values[f] = value
}

// Get returns the value of f, Unknown when the record lacks it.
func (r *Record) Get(f Field) string {
	if r == nil || r.Values == nil {
		return Unknown
	}
	v, ok := r.Values[f]
	if !ok || v == "" {
		return Unknown
	}
	return v
}

// Resolved counts fields that hold extracted text.
func (r *Record) Resolved() int {
	n := 0
	for _, f := range Fields {
		if r.Get(f) != Unknown {
			n++
		}
	}
	return n
}

// Category buckets failures for the user-facing diagnostic.
type Category string

const (
	CategoryAuth     Category = "auth"
	CategoryNotFound Category = "not-found"
	CategoryTimeout  Category = "timeout"
	CategoryUnknown  Category = "unknown"
)

// Failure explains why no record could be produced.
type Failure struct {
	Category Category
	Reason   string
	Attempts int
}

// Outcome is the result of one case request: either Record or Failure is set, never both.
type Outcome struct {
	CaseID   caseid.ID
	Record   *Record
	Failure  *Failure
	Attempts int
}

// Success wraps a record.
func Success(rec *Record, attempts int) Outcome {
	return Outcome{CaseID: rec.CaseID, Record: rec, Attempts: attempts}
}

// Failed wraps a failure.
func Failed(id caseid.ID, f Failure) Outcome {
	return Outcome{CaseID: id, Failure: &f, Attempts: f.Attempts}
}

// OK reports whether the outcome carries a record.
func (o Outcome) OK() bool { return o.Record != nil && o.Failure == nil }

// Categorize maps a fetch-path error onto a failure category.
func Categorize(err error) Category {
	switch {
	case err == nil:
		return CategoryUnknown
	case errors.Is(err, ErrAuthentication):
		return CategoryAuth
	case errors.Is(err, ErrNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrTransientNavigation), errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	default:
		return CategoryUnknown
	}
}
