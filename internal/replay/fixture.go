package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Freshair129/agentic-agent/internal/audit"
)

// #region fixture-types
// Fixture is a self-contained replay set: the configuration the turns ran
// under and the audited turns themselves.
type Fixture struct {
	Description string   `json:"description"`
	Config      Config   `json:"config"`
	Records     []Record `json:"records"`
}

// #endregion fixture-types

// #region fixture-loader
// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// WriteFixture writes f as indented JSON.
func WriteFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fixture: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// #endregion fixture-loader

// #region audit-source
// Reader is the audit stream replay reads from.
type Reader interface {
	Read(f audit.Filter) ([]audit.Event, error)
}

// FromAudit collects turn records in sequence order, starting after seq
// afterSeq. A turnID narrows the read to one turn. limit 0 reads everything.
func FromAudit(r Reader, turnID string, afterSeq int64, limit int) ([]Record, error) {
	const page = 500
	var out []Record
	for {
		events, err := r.Read(audit.Filter{Kind: audit.KindTurn, TurnID: turnID, AfterSeq: afterSeq, Limit: page})
		if err != nil {
			return nil, fmt.Errorf("read audit: %w", err)
		}
		for _, ev := range events {
			var tr audit.TurnRecord
			if err := json.Unmarshal(ev.Payload, &tr); err != nil {
				return nil, fmt.Errorf("decode turn record %d: %w", ev.Seq, err)
			}
			out = append(out, Record{SessionID: ev.SessionID, TurnID: ev.TurnID, Seq: ev.Seq, Turn: tr})
			if limit > 0 && len(out) == limit {
				return out, nil
			}
			afterSeq = ev.Seq
		}
		if len(events) < page {
			return out, nil
		}
	}
}

// #endregion audit-source
