package db

import (
	"context"
	"errors"
	"time"
)

// ErrConditionFailed is returned by PutIfAbsent when the key is taken.
var ErrConditionFailed = errors.New("conditional write failed")

// Index selects one of the two secondary indexes.
type Index int

const (
	GSI1 Index = iota + 1
	GSI2
)

// Item is a document in the store, addressed by (PK, SK). The GSI fields
// are optional; an item with an empty GSI partition is not indexed there.
type Item struct {
	PK        string
	SK        string
	GSI1PK    string
	GSI1SK    string
	GSI2PK    string
	GSI2SK    string
	Data      []byte
	Seq       int64 // insertion order, assigned by the store
	UpdatedAt time.Time
}

// Store is a key/value document store keyed by a composite partition/sort
// key and queryable by two secondary indexes.
//
// Query results are ordered by sort key and then by insertion order.
// Get returns an error wrapping domain.ErrNotFound when the item is absent.
type Store interface {
	Get(ctx context.Context, pk, sk string) (*Item, error)
	Put(ctx context.Context, item *Item) error
	PutIfAbsent(ctx context.Context, item *Item) error
	Query(ctx context.Context, pk, skPrefix string) ([]Item, error)
	QueryIndex(ctx context.Context, index Index, pk string) ([]Item, error)
	Delete(ctx context.Context, pk, sk string) error
	Ping(ctx context.Context) error
	Close() error
}
