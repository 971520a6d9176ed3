// Package source defines the connector contract used by the pipeline to fetch
// record sets, and the error taxonomy connectors report failures with.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/phimask/phimask/pkg/records"
)

// Kind classifies a connector failure.
type Kind string

const (
	// KindAuth means the credentials were rejected
	KindAuth Kind = "auth"
	// KindQuery means the query itself failed (bad table, bad SOQL, decode error)
	KindQuery Kind = "query"
	// KindConnect means the backend could not be reached
	KindConnect Kind = "connect"
)

var (
	// ErrAuth matches every Error of KindAuth
	ErrAuth = errors.New("source authentication failed")
	// ErrQuery matches every Error of KindQuery
	ErrQuery = errors.New("source query failed")
	// ErrConnect matches every Error of KindConnect
	ErrConnect = errors.New("source connection failed")
)

// Error reports a failed fetch from a named source.
type Error struct {
	Source string
	Kind   Kind
	Err    error
}

// NewError creates a source error
func NewError(source string, kind Kind, err error) *Error {
	return &Error{Source: source, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("source %q: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind, so errors.Is(err, ErrAuth) works
// without unwrapping to the driver error.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindAuth:
		return target == ErrAuth
	case KindQuery:
		return target == ErrQuery
	case KindConnect:
		return target == ErrConnect
	}
	return false
}

// Filter restricts a fetch to rows whose Column value is one of Values.
type Filter struct {
	Column string
	Values []string
}

// Fetcher retrieves one record set. Implementations must return an error rather
// than an empty set when the backend fails; a successful empty result is valid.
type Fetcher interface {
	Fetch(ctx context.Context, filter *Filter) (*records.RecordSet, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, filter *Filter) (*records.RecordSet, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, filter *Filter) (*records.RecordSet, error) {
	return f(ctx, filter)
}
