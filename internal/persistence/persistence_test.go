package persistence

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"GridLadder/internal/report"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	state := &RunState{
		LadderID:             "lad-1",
		Symbol:               "TESTUSDT",
		State:                "Trading",
		CriticalIndex:        42,
		TheoreticalPosition:  150,
		AccumulatedDeviation: -3,
		Prices:               []int64{100, 101, 102},
		Qtys:                 []int64{5, 5, 5},
		PartialLedger:        map[string]int64{"t1_00000007B": 2},
		CreatedAt:            time.Now(),
	}
	if err := s.SaveRunState(ctx, state); err != nil {
		t.Fatalf("SaveRunState: %v", err)
	}

	got, err := s.LoadRunState(ctx, "lad-1")
	if err != nil {
		t.Fatalf("LoadRunState: %v", err)
	}
	if got == nil {
		t.Fatalf("loaded state is nil")
	}
	if got.CriticalIndex != 42 || got.TheoreticalPosition != 150 {
		t.Errorf("loaded state = %+v", got)
	}

	missing, err := s.LoadRunState(ctx, "unknown")
	if err != nil {
		t.Fatalf("LoadRunState missing: %v", err)
	}
	if missing != nil {
		t.Errorf("missing ladder returned %+v, want nil", missing)
	}

	if err := s.DeleteRunState(ctx, "lad-1"); err != nil {
		t.Fatalf("DeleteRunState: %v", err)
	}
	if got, _ := s.LoadRunState(ctx, "lad-1"); got != nil {
		t.Errorf("state survived delete: %+v", got)
	}
}

func TestWorkerFinalDrainKeepsNewestPerLadder(t *testing.T) {
	s := NewMemoryStore()
	in := make(chan RunState, 8)
	w := NewWorker(s, in, nil, zerolog.Nop())

	in <- RunState{LadderID: "lad-1", CriticalIndex: 10}
	in <- RunState{LadderID: "lad-1", CriticalIndex: 11}
	in <- RunState{LadderID: "lad-2", CriticalIndex: 5}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := s.LoadRunState(context.Background(), "lad-1")
	if got == nil || got.CriticalIndex != 11 {
		t.Errorf("lad-1 final state = %+v, want critical index 11", got)
	}
	got, _ = s.LoadRunState(context.Background(), "lad-2")
	if got == nil || got.CriticalIndex != 5 {
		t.Errorf("lad-2 final state = %+v, want critical index 5", got)
	}
}

func TestBuildFillInsertPlaceholders(t *testing.T) {
	batch := []report.Fill{
		{LadderID: "lad-1", OrderID: "t1_00000001B", Price: 100, Quantity: 5},
		{LadderID: "lad-1", OrderID: "t1_00000002S", Price: 101, Quantity: -5},
	}
	query, args := buildFillInsert(batch)

	if got, want := len(args), 20; got != want {
		t.Errorf("args = %d, want %d", got, want)
	}
	if got, want := strings.Count(query, "("), 3; got < want {
		t.Errorf("query has %d value groups: %s", got, query)
	}
	if !strings.Contains(query, "$20") {
		t.Errorf("query missing last placeholder: %s", query)
	}
	if strings.Contains(query, "$21") {
		t.Errorf("query has excess placeholder: %s", query)
	}
	if !strings.Contains(query, "ON CONFLICT (order_id, ts) DO NOTHING") {
		t.Errorf("query missing conflict clause: %s", query)
	}
}

func TestMigrationVersionParsing(t *testing.T) {
	if got, want := migrationVersion("000001_grid_schema.up.sql"), "000001"; got != want {
		t.Errorf("migrationVersion = %q, want %q", got, want)
	}
	if got, want := migrationVersion("noversion"), "noversion"; got != want {
		t.Errorf("migrationVersion = %q, want %q", got, want)
	}
}
