package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cangate/protocol"

	"github.com/rs/zerolog"
)

func openTemp(t *testing.T, path string, maxReceive int) *Store {
	t.Helper()
	s, err := Open(path, maxReceive, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open(%s) failed: %v", path, err)
	}
	return s
}

func TestOpenSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cangate.db")

	s := openTemp(t, path, 0)
	if err := s.PutCatalog(CatalogEntry{CANID: "1234", Mode: protocol.ModeStandard, Description: "Engine RPM"}); err != nil {
		t.Fatal(err)
	}
	tx, err := s.AddTransmit("1234", "DATA", 1000)
	if err != nil {
		t.Fatalf("AddTransmit failed: %v", err)
	}
	stamp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return stamp }
	rx, err := s.InsertReceive(protocol.ReceivedFrame{
		Mode:    protocol.ModeStandard,
		ID:      []byte{0x12, 0x34},
		Payload: []byte("OK"),
	}, protocol.PayloadText)
	if err != nil {
		t.Fatalf("InsertReceive failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s = openTemp(t, path, 0)
	defer s.Close()

	if e, ok := s.Lookup("1234"); !ok || e.Description != "Engine RPM" || e.Mode != protocol.ModeStandard {
		t.Errorf("Catalog entry lost: %+v", e)
	}

	got, err := s.Transmit(tx.ID)
	if err != nil {
		t.Fatalf("Transmit row lost: %v", err)
	}
	if got != tx {
		t.Errorf("Transmit row = %+v, want %+v", got, tx)
	}

	rows := s.ReceiveRows()
	if len(rows) != 1 {
		t.Fatalf("Expected 1 receive row, got %d", len(rows))
	}
	if rows[0].ID != rx.ID || rows[0].Data != "OK" || rows[0].Description != "Engine RPM" || !rows[0].Timestamp.Equal(stamp) {
		t.Errorf("Receive row = %+v, want %+v", rows[0], rx)
	}

	next, err := s.AddTransmit("1234", "NEXT", 0)
	if err != nil {
		t.Fatal(err)
	}
	if next.ID != tx.ID+1 {
		t.Errorf("Row IDs restarted: got %d after %d", next.ID, tx.ID)
	}
}

func TestOpenPersistsDeletesAndEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cangate.db")

	s := openTemp(t, path, 0)
	if err := s.PutCatalog(CatalogEntry{CANID: "7FF", Mode: protocol.ModeStandard, Description: "Brake"}); err != nil {
		t.Fatal(err)
	}
	a, _ := s.AddTransmit("7FF", "one", 0)
	b, _ := s.AddTransmit("7FF", "two", 0)
	if _, err := s.UpdateTransmit(b.ID, "TWO", 250); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteTransmit(a.ID); err != nil {
		t.Fatal(err)
	}
	f := protocol.ReceivedFrame{Mode: protocol.ModeStandard, ID: []byte{0x07, 0xFF}}
	r1, _ := s.InsertReceive(f, protocol.PayloadText)
	if _, err := s.InsertReceive(f, protocol.PayloadText); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteReceive(r1.ID); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s = openTemp(t, path, 0)
	defer s.Close()

	rows := s.TransmitRows()
	if len(rows) != 1 || rows[0].ID != b.ID || rows[0].Data != "TWO" || rows[0].Cyclic != 250 {
		t.Errorf("Unexpected transmit rows %+v", rows)
	}
	if _, err := s.Transmit(a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Deleted row came back: %v", err)
	}
	if rx := s.ReceiveRows(); len(rx) != 1 || rx[0].ID == r1.ID {
		t.Errorf("Unexpected receive rows %+v", rx)
	}
}

func TestOpenTrimsReceiveTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cangate.db")
	f := protocol.ReceivedFrame{Mode: protocol.ModeStandard, ID: []byte{0, 1}}

	s := openTemp(t, path, 5)
	for i := 0; i < 7; i++ {
		if _, err := s.InsertReceive(f, protocol.PayloadText); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(s.ReceiveRows()); n != 5 {
		t.Fatalf("Expected 5 rows before restart, got %d", n)
	}
	s.Close()

	s = openTemp(t, path, 2)
	rows := s.ReceiveRows()
	if len(rows) != 2 || rows[0].ID != 7 || rows[1].ID != 6 {
		t.Errorf("Expected rows 7 and 6, got %+v", rows)
	}
	s.Close()

	// Trimmed rows stay gone
	s = openTemp(t, path, 10)
	defer s.Close()
	if n := len(s.ReceiveRows()); n != 2 {
		t.Errorf("Expected 2 rows after trim, got %d", n)
	}
}

func TestMemoryStoreClose(t *testing.T) {
	if err := New(0).Close(); err != nil {
		t.Errorf("Close on memory store: %v", err)
	}
}

func TestOpenBadPath(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing", "cangate.db"), 0, zerolog.Nop()); err == nil {
		t.Error("Expected error for a path in a missing directory")
	}
}
