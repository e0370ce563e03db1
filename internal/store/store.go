// Package store defines the document store the circle core runs on. Paths
// are slash-separated ("circles/abc/members/u1"); a document's collection
// is its path without the last segment.
package store

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned by Update and Increment on an absent document.
	ErrNotFound = errors.New("document not found")
	// ErrTxConflict is returned when a transaction keeps losing to
	// concurrent writers.
	ErrTxConflict = errors.New("transaction conflict")
)

// Fields is a document body. Values are strings, bools, int64/float64
// numbers or nil. Setting a field to nil clears it.
type Fields map[string]any

type Document struct {
	Path    string
	Data    Fields
	Version int64
}

// ID returns the last path segment.
func (d Document) ID() string {
	return Base(d.Path)
}

type Filter struct {
	Field string
	Value any
}

// Cursor resumes a query after the document with this order value and id.
type Cursor struct {
	Value any
	ID    string
}

type Query struct {
	Collection string
	Filters    []Filter
	// OrderBy names a numeric field; ties break on document id. Empty
	// orders by id only.
	OrderBy    string
	StartAfter *Cursor
	Limit      int
}

// Tx is the view of the store inside RunTransaction. Reads observe the
// transaction's own writes.
type Tx interface {
	Get(path string) (*Document, error)
	Set(path string, fields Fields) error
	Update(path string, fields Fields) error
	Delete(path string) error
	Increment(path, field string, delta int64) error
}

type Store interface {
	// Get returns nil, nil when the document is absent.
	Get(ctx context.Context, path string) (*Document, error)
	Set(ctx context.Context, path string, fields Fields) error
	Update(ctx context.Context, path string, fields Fields) error
	Delete(ctx context.Context, path string) error
	Query(ctx context.Context, q Query) ([]Document, error)
	Increment(ctx context.Context, path, field string, delta int64) error
	BatchDelete(ctx context.Context, paths []string) error
	// RunTransaction runs fn atomically. fn may be invoked more than once
	// and must not have side effects outside tx.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
}

func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

func Base(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

func Collection(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return ""
}
