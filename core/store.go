package core

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Collections
const (
	RolesCollection = "roles"
	UsersCollection = "users"
)

// Write operations
const (
	OpSet    WriteOp = iota // merge fields, create the document if missing
	OpUpdate                // merge fields, fail with ErrNotFound if missing
	OpDelete
)

type (
	// Document is a JSON-compatible record. Documents returned by a Store carry their id under "id".
	Document map[string]interface{}

	WriteOp int

	Write struct {
		Op         WriteOp
		Collection string
		ID         string
		Fields     Document
	}

	// Filter matches documents whose Field equals Value.
	Filter struct {
		Field string
		Value interface{}
	}

	Change struct {
		Collection string `json:"collection"`
		ID         string `json:"id"`
		Deleted    bool   `json:"deleted"`
	}

	// Unsubscribe stops the delivery of changes. It does not cancel writes in flight.
	Unsubscribe func()

	// Store is a document store with atomic batches and change feeds.
	Store interface {
		Read(ctx context.Context, collection, id string) (Document, error)
		Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
		// WriteBatch applies all writes or none of them.
		WriteBatch(ctx context.Context, writes ...Write) error
		// Subscribe calls onChange for every committed change in collection until unsubscribed.
		Subscribe(collection string, onChange func(Change)) (Unsubscribe, error)
		Close() error
	}
)

func (op WriteOp) String() string {
	switch op {
	case OpSet:
		return "set"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Batch collects writes so several repository calls can be committed as one Store.WriteBatch.
type Batch struct {
	writes []Write
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Add(writes ...Write) {
	b.writes = append(b.writes, writes...)
}

func (b *Batch) Writes() []Write {
	out := make([]Write, len(b.writes))
	copy(out, b.writes)
	return out
}

func (b *Batch) Len() int { return len(b.writes) }

// Commit sends all staged writes to store in one atomic batch.
// Any store failure, including a document vanishing under an OpUpdate, is reported as a *TransactionError.
func (b *Batch) Commit(ctx context.Context, store Store, op string) error {
	if len(b.writes) == 0 {
		return nil
	}
	if err := store.WriteBatch(ctx, b.writes...); err != nil {
		return NewTransactionError(op, err)
	}
	return nil
}

// EncodeDocument converts v into a Document using its JSON representation.
func EncodeDocument(v interface{}) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encoding document")
	}
	var doc Document
	if err = json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "encoding document")
	}
	return doc, nil
}

// DecodeDocument fills v from doc using their JSON representation.
func DecodeDocument(doc Document, v interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "decoding document")
	}
	return errors.Wrap(json.Unmarshal(data, v), "decoding document")
}

// NormalizeValue returns v the way it reads back from a JSON document,
// so filters compare equal to stored fields (eg. ints become float64).
func NormalizeValue(v interface{}) interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err = json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// CleanCollection lower-cases and trims a collection name.
func CleanCollection(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
