package replay

import (
	"path/filepath"
	"testing"

	"github.com/Freshair129/agentic-agent/internal/audit"
	"github.com/Freshair129/agentic-agent/internal/store"
)

// #region fixture-tests

// TestFixture_WrittenFixtureReplays exports a session to disk, loads it back
// and replays it. This is the regression path for archived sessions.
func TestFixture_WrittenFixtureReplays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	f := &Fixture{Description: "three turns", Config: DefaultConfig(), Records: session(t)}
	if err := WriteFixture(path, f); err != nil {
		t.Fatalf("WriteFixture: %v", err)
	}

	loaded, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	if loaded.Description != "three turns" || len(loaded.Records) != 3 {
		t.Fatalf("unexpected fixture %q with %d records", loaded.Description, len(loaded.Records))
	}
	results, err := Replay(loaded.Records, loaded.Config)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if s := Summarize(results); !s.OK() {
		t.Errorf("expected a clean replay after a round trip through disk, got %+v", s)
	}
}

func TestFixture_MissingFile(t *testing.T) {
	if _, err := LoadFixture(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing fixture")
	}
}

// #endregion fixture-tests

// #region audit-tests

func TestFromAudit_ReadsTurnRecords(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	log, err := audit.NewLog(db)
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}

	for _, rec := range session(t) {
		if _, err := log.Append(audit.NewEvent(audit.KindScore, rec.SessionID, rec.TurnID, rec.Turn.Score)); err != nil {
			t.Fatalf("append score: %v", err)
		}
		if _, err := log.Append(audit.NewEvent(audit.KindTurn, rec.SessionID, rec.TurnID, rec.Turn)); err != nil {
			t.Fatalf("append turn: %v", err)
		}
	}

	records, err := FromAudit(log, "", 0, 0)
	if err != nil {
		t.Fatalf("FromAudit: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 turn records, got %d", len(records))
	}
	if records[0].TurnID != "turn-a" || records[0].SessionID != "s1" {
		t.Errorf("unexpected first record %s/%s", records[0].SessionID, records[0].TurnID)
	}
	results, _ := Replay(records, DefaultConfig())
	if s := Summarize(results); !s.OK() {
		t.Errorf("expected audited turns to replay cleanly, got %+v", s)
	}

	one, err := FromAudit(log, "turn-b", 0, 0)
	if err != nil {
		t.Fatalf("FromAudit: %v", err)
	}
	if len(one) != 1 || one[0].TurnID != "turn-b" {
		t.Errorf("expected only turn-b, got %d records", len(one))
	}

	limited, _ := FromAudit(log, "", 0, 2)
	if len(limited) != 2 {
		t.Errorf("expected limit 2, got %d", len(limited))
	}
}

// #endregion audit-tests
