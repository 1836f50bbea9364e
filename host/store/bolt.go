package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketCatalog  = []byte("catalog")
	bucketTransmit = []byte("transmit")
	bucketReceive  = []byte("receive")
)

// openTimeout bounds the wait for another process's file lock
const openTimeout = time.Second

// Open loads the store persisted at path, creating the file when missing.
// Row IDs continue from where the previous run stopped.
func Open(path string, maxReceive int, logger zerolog.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	s := New(maxReceive)
	s.db = db
	s.log = logger.With().Str("component", "store").Logger()

	if err := s.load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: load %s: %w", path, err)
	}
	s.log.Info().
		Str("path", path).
		Int("catalog", len(s.catalog)).
		Int("transmit", len(s.transmit)).
		Int("receive", len(s.receive)).
		Msg("store opened")
	return s, nil
}

// Close releases the database file. It is a no-op for a memory-only store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// load creates the buckets and reads every table into memory
func (s *Store) load() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketCatalog, bucketTransmit, bucketReceive} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		if err := tx.Bucket(bucketCatalog).ForEach(func(k, v []byte) error {
			var e CatalogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("catalog %s: %w", k, err)
			}
			s.catalog[e.CANID] = e
			return nil
		}); err != nil {
			return err
		}

		tb := tx.Bucket(bucketTransmit)
		if err := tb.ForEach(func(k, v []byte) error {
			var row TransmitRow
			if err := json.Unmarshal(v, &row); err != nil {
				return fmt.Errorf("transmit %d: %w", btoi(k), err)
			}
			s.transmit = append(s.transmit, row)
			return nil
		}); err != nil {
			return err
		}
		s.nextTxID = int(tb.Sequence()) + 1

		rb := tx.Bucket(bucketReceive)
		if err := rb.ForEach(func(k, v []byte) error {
			var row ReceiveRow
			if err := json.Unmarshal(v, &row); err != nil {
				return fmt.Errorf("receive %d: %w", btoi(k), err)
			}
			s.receive = append(s.receive, row)
			return nil
		}); err != nil {
			return err
		}
		s.nextRxID = int(rb.Sequence()) + 1

		// A smaller limit than the last run trims the oldest rows
		if over := len(s.receive) - s.maxReceive; over > 0 {
			for _, row := range s.receive[:over] {
				if err := rb.Delete(itob(row.ID)); err != nil {
					return err
				}
			}
			s.receive = append([]ReceiveRow(nil), s.receive[over:]...)
		}
		return nil
	})
}

// update runs fn in a write transaction. Memory-only stores skip it.
// Caller holds s.mu.
func (s *Store) update(fn func(tx *bolt.Tx) error) error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Update(fn); err != nil {
		return fmt.Errorf("store: persist: %w", err)
	}
	return nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// itob encodes a row ID as a big-endian key so cursor order is ID order
func itob(id int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(id))
	return k
}

func btoi(k []byte) uint64 {
	if len(k) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(k)
}
