package segment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/weldaudio/weld/internal/audio"
)

// BadgerStore spills segment buffers into an ephemeral BadgerDB so large
// sessions do not pin every decoded buffer on the Go heap. The database is
// wiped on Close; nothing survives a restart. Reference counts are kept in
// memory since they only describe live sessions.
type BadgerStore struct {
	db  *badger.DB
	dir string // removed on Close when non-empty

	mu      sync.Mutex
	refs    map[string]int
	onEvict []func(id string)
}

// BadgerOptions configures an ephemeral badger-backed store.
type BadgerOptions struct {
	// Dir is the directory for data files. Required unless InMemory.
	// The directory is deleted on Close.
	Dir string

	// InMemory runs badger without disk persistence, useful for tests.
	InMemory bool
}

// metaRecord is the JSON value stored beside each buffer.
type metaRecord struct {
	Format audio.Format `json:"format"`
	Digest uint64       `json:"digest"`
	Meta   Meta         `json:"meta"`
}

func dataKey(id string) []byte { return []byte("seg/" + id + "/data") }
func metaKey(id string) []byte { return []byte("seg/" + id + "/meta") }

// nopLogger silences badger's default chatter.
type nopLogger struct{}

func (nopLogger) Errorf(string, ...interface{})   {}
func (nopLogger) Warningf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})    {}
func (nopLogger) Debugf(string, ...interface{})   {}

// NewBadgerStore opens an ephemeral badger-backed store.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("segment: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(nopLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
		dbOpts.Dir, dbOpts.ValueDir = "", ""
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open segment store: %w", err)
	}
	dir := ""
	if !opts.InMemory {
		dir = opts.Dir
	}
	return &BadgerStore{db: db, dir: dir, refs: make(map[string]int)}, nil
}

func (s *BadgerStore) Put(_ context.Context, seg Segment) (string, error) {
	rec, err := json.Marshal(metaRecord{Format: seg.Clip.Format, Digest: seg.Digest, Meta: seg.Meta})
	if err != nil {
		return "", fmt.Errorf("encode segment meta: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if item, err := txn.Get(metaKey(seg.ID)); err == nil {
			var prev metaRecord
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &prev) }); err != nil {
				return err
			}
			if prev.Digest != seg.Digest {
				return fmt.Errorf("%w: %s", ErrDuplicateID, seg.ID)
			}
			return nil // idempotent retry
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(metaKey(seg.ID), rec); err != nil {
			return err
		}
		return txn.Set(dataKey(seg.ID), seg.Clip.Bytes())
	})
	if err != nil {
		return "", err
	}
	return seg.ID, nil
}

func (s *BadgerStore) Get(_ context.Context, id string) (Segment, error) {
	var rec metaRecord
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(id))
		if err != nil {
			return err
		}
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
			return err
		}
		item, err = txn.Get(dataKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Segment{}, fmt.Errorf("%w: %s", ErrSegmentNotFound, id)
	}
	if err != nil {
		return Segment{}, err
	}
	return Segment{
		ID:     id,
		Clip:   audio.ClipFromBytes(rec.Format, data),
		Meta:   rec.Meta,
		Digest: rec.Digest,
	}, nil
}

// Evict holds the store lock across the refcount check and the badger
// delete so a concurrent Retain cannot slip in between and record a
// reference to a segment that no longer exists.
func (s *BadgerStore) Evict(_ context.Context, id string) error {
	s.mu.Lock()
	if s.refs[id] > 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSegmentInUse, id)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(metaKey(id)); err != nil {
			return err
		}
		return txn.Delete(dataKey(id))
	})
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrSegmentNotFound, id)
		}
		return err
	}
	delete(s.refs, id)
	hooks := append([]func(string){}, s.onEvict...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(id)
	}
	return nil
}

// Retain checks existence and bumps the refcount under the same lock
// Evict takes, so the two serialize against each other.
func (s *BadgerStore) Retain(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(metaKey(id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrSegmentNotFound, id)
	}
	if err != nil {
		return err
	}
	s.refs[id]++
	return nil
}

func (s *BadgerStore) Release(id string) {
	s.mu.Lock()
	if s.refs[id] > 0 {
		s.refs[id]--
	}
	s.mu.Unlock()
}

func (s *BadgerStore) OnEvict(fn func(id string)) {
	s.mu.Lock()
	s.onEvict = append(s.onEvict, fn)
	s.mu.Unlock()
}

// Close shuts the database and removes its on-disk files.
func (s *BadgerStore) Close() error {
	err := s.db.Close()
	if s.dir != "" {
		if rmErr := os.RemoveAll(s.dir); err == nil {
			err = rmErr
		}
	}
	return err
}
