package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

// channel the documents trigger notifies on
const changesChannel = "document_changes"

const (
	readQuery  = `SELECT data FROM documents WHERE collection = $1 AND id = $2`
	queryQuery = `SELECT id, data FROM documents WHERE collection = $1 AND data @> $2::jsonb ORDER BY id`
	setQuery   = `INSERT INTO documents (collection, id, data, updated_at) VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (collection, id) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = NOW()`
	updateQuery = `UPDATE documents SET data = data || $3::jsonb, updated_at = NOW() WHERE collection = $1 AND id = $2`
	deleteQuery = `DELETE FROM documents WHERE collection = $1 AND id = $2`
)

type (
	// Listener is the part of *pq.Listener used by the Store.
	Listener interface {
		Listen(channel string) error
		NotificationChannel() <-chan *pq.Notification
		Close() error
	}

	// Store keeps every collection in the documents table and feeds changes from the table trigger.
	Store struct {
		db       *sqlx.DB
		listener Listener
		logger   core.Logger

		subsMu  sync.Mutex
		subs    map[string]map[int]func(core.Change)
		nextSub int

		done chan struct{}
		wg   sync.WaitGroup
	}

	row struct {
		ID   string `db:"id"`
		Data []byte `db:"data"`
	}
)

var _ core.Store = (*Store)(nil) // interface compliance check

// NewListener returns a pq.Listener on dsn that logs its connection events.
func NewListener(dsn string, logger core.Logger) *pq.Listener {
	return pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Error(fmt.Sprintf("change listener event %d: %v", ev, err), err)
		}
	})
}

// Open starts listening for document changes. The Store owns listener and closes it on Close.
func Open(db *sqlx.DB, listener Listener, logger core.Logger) (*Store, error) {
	if err := listener.Listen(changesChannel); err != nil {
		return nil, errors.Wrap(err, "listening for document changes")
	}
	s := &Store{
		db:       db,
		listener: listener,
		logger:   logger,
		subs:     make(map[string]map[int]func(core.Change)),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.dispatch()
	return s, nil
}

func decodeData(data []byte, id string) (core.Document, error) {
	var doc core.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decoding document")
	}
	doc["id"] = id
	return doc, nil
}

func (s *Store) Read(ctx context.Context, collection, id string) (core.Document, error) {
	var data []byte
	if err := s.db.GetContext(ctx, &data, readQuery, collection, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Wrapf(core.ErrNotFound, "%s/%s", collection, id)
		}
		return nil, errors.Wrap(err, "reading document")
	}
	return decodeData(data, id)
}

// containment builds the JSON object matched with @> from filters.
func containment(filters []core.Filter) ([]byte, error) {
	obj := make(map[string]interface{}, len(filters))
	for _, f := range filters {
		obj[f.Field] = f.Value
	}
	data, err := json.Marshal(obj)
	return data, errors.Wrap(err, "encoding filters")
}

func (s *Store) Query(ctx context.Context, collection string, filters ...core.Filter) ([]core.Document, error) {
	match, err := containment(filters)
	if err != nil {
		return nil, err
	}
	var rows []row
	if err = s.db.SelectContext(ctx, &rows, queryQuery, collection, string(match)); err != nil {
		return nil, errors.Wrap(err, "querying documents")
	}

	docs := make([]core.Document, 0, len(rows))
	for _, r := range rows {
		doc, err := decodeData(r.Data, r.ID)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Store) WriteBatch(ctx context.Context, writes ...core.Write) error {
	if len(writes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting batch")
	}
	for _, w := range writes {
		if err = execWrite(ctx, tx, w); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return errors.Wrap(tx.Commit(), "committing batch")
}

func execWrite(ctx context.Context, tx *sqlx.Tx, w core.Write) error {
	if w.Collection == "" || w.ID == "" {
		return errors.Errorf("invalid %s write: collection and id are required", w.Op)
	}
	if w.Op == core.OpDelete {
		_, err := tx.ExecContext(ctx, deleteQuery, w.Collection, w.ID)
		return errors.Wrapf(err, "deleting %s/%s", w.Collection, w.ID)
	}

	fields := make(core.Document, len(w.Fields))
	for k, v := range w.Fields {
		if k != "id" {
			fields[k] = v
		}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return errors.Wrap(err, "encoding document")
	}

	switch w.Op {
	case core.OpSet:
		_, err = tx.ExecContext(ctx, setQuery, w.Collection, w.ID, string(data))
		return errors.Wrapf(err, "setting %s/%s", w.Collection, w.ID)
	case core.OpUpdate:
		res, err := tx.ExecContext(ctx, updateQuery, w.Collection, w.ID, string(data))
		if err != nil {
			return errors.Wrapf(err, "updating %s/%s", w.Collection, w.ID)
		}
		if n, err := res.RowsAffected(); err != nil {
			return errors.Wrap(err, "counting updated rows")
		} else if n == 0 {
			return errors.Wrapf(core.ErrNotFound, "%s/%s", w.Collection, w.ID)
		}
		return nil
	}
	return errors.Errorf("unknown write op %d", w.Op)
}

func (s *Store) Subscribe(collection string, onChange func(core.Change)) (core.Unsubscribe, error) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	select {
	case <-s.done:
		return nil, errors.New("store closed")
	default:
	}

	if _, ok := s.subs[collection]; !ok {
		s.subs[collection] = make(map[int]func(core.Change))
	}
	s.nextSub++
	id := s.nextSub
	s.subs[collection][id] = onChange

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			delete(s.subs[collection], id)
		})
	}, nil
}

// dispatch forwards trigger notifications to the subscribers until the store is closed.
func (s *Store) dispatch() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case n, ok := <-s.listener.NotificationChannel():
			if !ok {
				return
			}
			if n == nil {
				// the connection was re-established; notifications sent in between are lost
				s.logger.Warn("change listener reconnected, some changes may have been missed", nil)
				continue
			}
			var ch core.Change
			if err := json.Unmarshal([]byte(n.Extra), &ch); err != nil {
				s.logger.Error(fmt.Sprintf("decoding change %q: %v", n.Extra, err), err)
				continue
			}
			s.notify(ch)
		}
	}
}

func (s *Store) notify(ch core.Change) {
	s.subsMu.Lock()
	ids := make([]int, 0, len(s.subs[ch.Collection]))
	for id := range s.subs[ch.Collection] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(core.Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[ch.Collection][id])
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}

// Close stops the change feed. The database handle stays open.
func (s *Store) Close() error {
	s.subsMu.Lock()
	select {
	case <-s.done:
		s.subsMu.Unlock()
		return nil
	default:
	}
	close(s.done)
	s.subs = make(map[string]map[int]func(core.Change))
	s.subsMu.Unlock()

	err := s.listener.Close()
	s.wg.Wait()
	return errors.Wrap(err, "closing change listener")
}
