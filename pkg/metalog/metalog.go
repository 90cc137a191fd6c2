// Package metalog implements the master's durable write-ahead entity log. It
// is backed by go.etcd.io/bbolt, one bucket per entity type tag, following a
// bucket-per-entity-type JSON-marshal pattern.
package metalog

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/hyperrange/rangemaster/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketOperations  = []byte(types.EntityTypeOperation)
	bucketConnections = []byte(types.EntityTypeConnection)
	bucketCA          = []byte(types.EntityTypeCA)

	allBuckets = [][]byte{bucketOperations, bucketConnections, bucketCA}
)

// Writer is the metalog's durable append-only entity store. record_state
// appends a batch atomically; record_removal tombstones entities; Replay
// delivers surviving entities in insertion (sequence) order.
type Writer struct {
	mu  sync.Mutex
	db  *bolt.DB
	seq uint64
}

// Open opens (creating if necessary) the metalog database under dataDir.
func Open(dataDir string) (*Writer, error) {
	dbPath := filepath.Join(dataDir, "metalog.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open metalog: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	w := &Writer{db: db}
	if err := w.loadSequence(); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

// Close closes the underlying database.
func (w *Writer) Close() error {
	return w.db.Close()
}

func (w *Writer) loadSequence() error {
	var max uint64
	err := w.db.View(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			b := tx.Bucket(name)
			c := b.Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				var ent types.MetalogEntity
				if err := json.Unmarshal(v, &ent); err != nil {
					return err
				}
				if ent.Sequence > max {
					max = ent.Sequence
				}
			}
		}
		return nil
	})
	atomic.StoreUint64(&w.seq, max)
	return err
}

func bucketFor(typeTag string) []byte {
	switch typeTag {
	case types.EntityTypeOperation:
		return bucketOperations
	case types.EntityTypeConnection:
		return bucketConnections
	case types.EntityTypeCA:
		return bucketCA
	default:
		return nil
	}
}

// RecordState appends a batch of entities atomically. Any entity already
// marked Tombstone is stored as a tombstone in the same batch.
func (w *Writer) RecordState(entities ...types.MetalogEntity) error {
	if len(entities) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.db.Update(func(tx *bolt.Tx) error {
		for i := range entities {
			ent := &entities[i]
			bucket := bucketFor(ent.TypeTag)
			if bucket == nil {
				return fmt.Errorf("metalog: unknown entity type %q", ent.TypeTag)
			}
			ent.Sequence = atomic.AddUint64(&w.seq, 1)
			b := tx.Bucket(bucket)
			data, err := json.Marshal(ent)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(ent.EntityID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordRemoval writes a batch of tombstones for the given entities.
func (w *Writer) RecordRemoval(typeTag string, entityIDs ...string) error {
	entities := make([]types.MetalogEntity, len(entityIDs))
	for i, id := range entityIDs {
		entities[i] = types.MetalogEntity{TypeTag: typeTag, EntityID: id, Tombstone: true}
	}
	return w.RecordState(entities...)
}

// Replay delivers all surviving (non-tombstoned) entities of a type tag in
// insertion order. A tombstoned entity removes any earlier insert of the
// same id from the result: `[insert A; insert B; remove A]` replays as only
// `B`.
func (w *Writer) Replay(typeTag string) ([]types.MetalogEntity, error) {
	bucket := bucketFor(typeTag)
	if bucket == nil {
		return nil, fmt.Errorf("metalog: unknown entity type %q", typeTag)
	}
	var out []types.MetalogEntity
	err := w.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		entries := make([]types.MetalogEntity, 0, b.Stats().KeyN)
		err := b.ForEach(func(k, v []byte) error {
			var ent types.MetalogEntity
			if err := json.Unmarshal(v, &ent); err != nil {
				return err
			}
			if !ent.Tombstone {
				entries = append(entries, ent)
			}
			return nil
		})
		if err != nil {
			return err
		}
		// Sort by sequence to preserve write order; bbolt's ForEach iterates
		// in key (entity id) order, not insertion order.
		sortBySequence(entries)
		out = entries
		return nil
	})
	return out, err
}

func sortBySequence(entries []types.MetalogEntity) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Sequence < entries[j-1].Sequence; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}
