// Package store holds the collaborator tables the web interface works on:
// the CAN-ID catalog, the transmit table, the receive table and the rolling
// UART log.
//
// The tables live in memory and, for a store made with Open, are written
// through to a bbolt file so they survive a restart. The UART log is never
// persisted.
package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cangate/protocol"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

const (
	// DataMax is the longest data string a transmit row keeps
	DataMax = 256

	// UARTLogLines is how many formatted frame lines the log ring keeps
	UARTLogLines = 100

	// DefaultMaxReceiveRows bounds the receive table when no limit is configured
	DefaultMaxReceiveRows = 1000

	DirectionTx = "Tx"
	DirectionRx = "Rx"
)

var (
	ErrUnknownCANID = errors.New("store: can id not in catalog")
	ErrNotFound     = errors.New("store: row not found")
)

// CatalogEntry describes one known CAN ID
type CatalogEntry struct {
	CANID       string        `json:"can_id"`
	Mode        protocol.Mode `json:"mode"`
	Description string        `json:"description"`
}

// TransmitRow is a frame the operator can send to the gateway
type TransmitRow struct {
	ID          int           `json:"id"`
	Mode        protocol.Mode `json:"mode"`
	CANID       string        `json:"can_id"`
	Data        string        `json:"data"`
	Description string        `json:"description"`
	Direction   string        `json:"direction"`
	Cyclic      uint16        `json:"cyclic"`
}

// Frame builds the wire-level transmit frame for this row
func (r TransmitRow) Frame() protocol.TransmitFrame {
	return protocol.TransmitFrame{
		Mode:           r.Mode,
		CANID:          r.CANID,
		Payload:        r.Data,
		CyclicPeriodMs: r.Cyclic,
	}
}

// ReceiveRow is a frame received from the gateway
type ReceiveRow struct {
	ID          int           `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	Mode        protocol.Mode `json:"mode"`
	CANID       string        `json:"can_id"`
	Data        string        `json:"data"`
	Description string        `json:"description"`
	Direction   string        `json:"direction"`
}

// Store is a thread-safe set of collaborator tables
type Store struct {
	mu sync.RWMutex

	// db is nil for a memory-only store
	db  *bolt.DB
	log zerolog.Logger

	catalog map[string]CatalogEntry

	transmit   []TransmitRow
	nextTxID   int
	receive    []ReceiveRow // oldest first
	nextRxID   int
	maxReceive int

	uartLog *lineRing

	now func() time.Time
}

// New creates an empty memory-only store. maxReceive <= 0 uses
// DefaultMaxReceiveRows.
func New(maxReceive int) *Store {
	if maxReceive <= 0 {
		maxReceive = DefaultMaxReceiveRows
	}
	return &Store{
		catalog:    make(map[string]CatalogEntry),
		nextTxID:   1,
		nextRxID:   1,
		maxReceive: maxReceive,
		uartLog:    newLineRing(UARTLogLines),
		log:        zerolog.Nop(),
		now:        time.Now,
	}
}

// normalizeCANID uppercases and zero-pads id to the mode's hex width so
// catalog lookups match what the decoder renders
func normalizeCANID(mode protocol.Mode, id string) (string, error) {
	raw, err := protocol.ParseCANID(mode, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%X", raw), nil
}

// PutCatalog adds or replaces a catalog entry
func (s *Store) PutCatalog(e CatalogEntry) error {
	id, err := normalizeCANID(e.Mode, e.CANID)
	if err != nil {
		return err
	}
	e.CANID = id

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketCatalog), []byte(id), e)
	}); err != nil {
		return err
	}
	s.catalog[id] = e
	return nil
}

// Lookup returns the catalog entry for a rendered CAN ID
func (s *Store) Lookup(canID string) (CatalogEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.catalog[strings.ToUpper(canID)]
	return e, ok
}

// Catalog returns all entries sorted by CAN ID
func (s *Store) Catalog() []CatalogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CatalogEntry, 0, len(s.catalog))
	for _, e := range s.catalog {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CANID < out[j].CANID })
	return out
}

// lookupLocked accepts both padded and unpadded IDs. Caller holds s.mu.
func (s *Store) lookupLocked(canID string) (CatalogEntry, bool) {
	if e, ok := s.catalog[strings.ToUpper(canID)]; ok {
		return e, true
	}
	for _, mode := range []protocol.Mode{protocol.ModeStandard, protocol.ModeExtended} {
		id, err := normalizeCANID(mode, canID)
		if err != nil {
			continue
		}
		if e, ok := s.catalog[id]; ok && e.Mode == mode {
			return e, true
		}
	}
	return CatalogEntry{}, false
}

// AddTransmit creates a transmit row for a catalogued CAN ID.
// Mode and description come from the catalog; data is truncated to DataMax.
func (s *Store) AddTransmit(canID, data string, cyclic uint16) (TransmitRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookupLocked(canID)
	if !ok {
		return TransmitRow{}, fmt.Errorf("%w: %s", ErrUnknownCANID, canID)
	}

	row := TransmitRow{
		ID:          s.nextTxID,
		Mode:        e.Mode,
		CANID:       e.CANID,
		Data:        truncate(data, DataMax),
		Description: e.Description,
		Direction:   DirectionTx,
		Cyclic:      cyclic,
	}
	if err := s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransmit)
		if err := b.SetSequence(uint64(row.ID)); err != nil {
			return err
		}
		return putJSON(b, itob(row.ID), row)
	}); err != nil {
		return TransmitRow{}, err
	}
	s.nextTxID++
	s.transmit = append(s.transmit, row)
	return row, nil
}

// UpdateTransmit replaces the data and cyclic period of a row
func (s *Store) UpdateTransmit(id int, data string, cyclic uint16) (TransmitRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.transmit {
		if s.transmit[i].ID != id {
			continue
		}
		row := s.transmit[i]
		row.Data = truncate(data, DataMax)
		row.Cyclic = cyclic
		if err := s.update(func(tx *bolt.Tx) error {
			return putJSON(tx.Bucket(bucketTransmit), itob(id), row)
		}); err != nil {
			return TransmitRow{}, err
		}
		s.transmit[i] = row
		return row, nil
	}
	return TransmitRow{}, fmt.Errorf("%w: transmit %d", ErrNotFound, id)
}

// DeleteTransmit removes a transmit row
func (s *Store) DeleteTransmit(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.transmit {
		if s.transmit[i].ID != id {
			continue
		}
		if err := s.update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketTransmit).Delete(itob(id))
		}); err != nil {
			return err
		}
		s.transmit = append(s.transmit[:i], s.transmit[i+1:]...)
		return nil
	}
	return fmt.Errorf("%w: transmit %d", ErrNotFound, id)
}

// Transmit returns one transmit row
func (s *Store) Transmit(id int) (TransmitRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.transmit {
		if r.ID == id {
			return r, nil
		}
	}
	return TransmitRow{}, fmt.Errorf("%w: transmit %d", ErrNotFound, id)
}

// TransmitRows returns the transmit table in insertion order
func (s *Store) TransmitRows() []TransmitRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]TransmitRow(nil), s.transmit...)
}

// InsertReceive records a received frame, filling the description from the
// catalog. The oldest row is evicted once the table is full.
func (s *Store) InsertReceive(f protocol.ReceivedFrame, format protocol.PayloadFormat) (ReceiveRow, error) {
	canID := f.CANID()

	s.mu.Lock()
	defer s.mu.Unlock()

	row := ReceiveRow{
		ID:        s.nextRxID,
		Timestamp: s.now(),
		Mode:      f.Mode,
		CANID:     canID,
		Data:      f.PayloadString(format),
		Direction: DirectionRx,
	}
	if e, ok := s.catalog[canID]; ok {
		row.Description = e.Description
	}

	// Rows pushed out by this insert
	var evicted []ReceiveRow
	if over := len(s.receive) + 1 - s.maxReceive; over > 0 {
		evicted = s.receive[:over]
	}
	if err := s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReceive)
		if err := b.SetSequence(uint64(row.ID)); err != nil {
			return err
		}
		for _, old := range evicted {
			if err := b.Delete(itob(old.ID)); err != nil {
				return err
			}
		}
		return putJSON(b, itob(row.ID), row)
	}); err != nil {
		return ReceiveRow{}, err
	}
	s.nextRxID++

	s.receive = append(s.receive[len(evicted):], row)
	return row, nil
}

// ReceiveRows returns the receive table, newest first
func (s *Store) ReceiveRows() []ReceiveRow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ReceiveRow, len(s.receive))
	for i, r := range s.receive {
		out[len(s.receive)-1-i] = r
	}
	return out
}

// DeleteReceive removes a receive row
func (s *Store) DeleteReceive(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.receive {
		if s.receive[i].ID != id {
			continue
		}
		if err := s.update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketReceive).Delete(itob(id))
		}); err != nil {
			return err
		}
		s.receive = append(s.receive[:i], s.receive[i+1:]...)
		return nil
	}
	return fmt.Errorf("%w: receive %d", ErrNotFound, id)
}

// AppendLog adds a line to the UART log
func (s *Store) AppendLog(line string) {
	s.uartLog.push(line)
}

// Log returns the UART log, newest first
func (s *Store) Log() []string {
	return s.uartLog.lines()
}

// Sink returns a frame handler that writes every frame to the UART log and
// the receive table
func (s *Store) Sink(format protocol.PayloadFormat) func(protocol.ReceivedFrame) {
	return func(f protocol.ReceivedFrame) {
		s.AppendLog(FormatLogLine(f, format))
		if _, err := s.InsertReceive(f, format); err != nil {
			s.log.Error().Err(err).Str("can_id", f.CANID()).Msg("store received frame")
		}
	}
}

// FormatLogLine renders a frame the way the UART log shows it
func FormatLogLine(f protocol.ReceivedFrame, format protocol.PayloadFormat) string {
	line := fmt.Sprintf("[UART Frame] mode=%s, can_id=%s, data=%s", f.Mode, f.CANID(), f.PayloadString(format))
	if f.HasAttackFlag {
		line += ", attack_flag=" + f.AttackFlagHex()
	}
	return line
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
