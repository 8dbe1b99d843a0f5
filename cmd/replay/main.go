// Command replay recomputes audited turns from their recorded pre-state and
// reports any turn whose state or score no longer reproduces.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Freshair129/agentic-agent/internal/audit"
	"github.com/Freshair129/agentic-agent/internal/config"
	"github.com/Freshair129/agentic-agent/internal/replay"
	"github.com/Freshair129/agentic-agent/internal/store"
)

// #region main
var (
	dbPath     string
	configPath string
	jsonOut    bool
	turnID     string
	afterSeq   int64
	limit      int
	tolerance  float64
)

var errMismatch = errors.New("replay found turns that do not reproduce")

var rootCmd = &cobra.Command{
	Use:           "replay",
	Short:         "Replay audited turns deterministically",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON instead of a table")

	auditCmd := &cobra.Command{Use: "audit", Short: "Replay turns straight from the audit log", RunE: runAudit}
	exportCmd := &cobra.Command{Use: "export <out.json>", Short: "Write audited turns to a fixture file", Args: cobra.ExactArgs(1), RunE: runExport}
	for _, c := range []*cobra.Command{auditCmd, exportCmd} {
		c.Flags().StringVar(&dbPath, "db", envOr("CORE_DB", "core.db"), "path to the core database")
		c.Flags().StringVarP(&configPath, "config", "c", envOr("CORE_CONFIG", ""), "YAML config the turns ran under")
		c.Flags().StringVar(&turnID, "turn", "", "only this turn")
		c.Flags().Int64Var(&afterSeq, "after", 0, "start after this audit sequence number")
		c.Flags().IntVar(&limit, "limit", 0, "replay at most N turns (0 for all)")
		c.Flags().Float64Var(&tolerance, "tolerance", 1e-9, "largest difference still counted as a match")
	}
	fixtureCmd := &cobra.Command{Use: "fixture <fixture.json>", Short: "Replay a fixture file", Args: cobra.ExactArgs(1), RunE: runFixture}

	rootCmd.AddCommand(auditCmd, exportCmd, fixtureCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errMismatch) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

// #endregion main

// #region modes
func runAudit(cmd *cobra.Command, args []string) error {
	records, cfg, err := fromAudit()
	if err != nil {
		return err
	}
	return run(records, cfg)
}

func runExport(cmd *cobra.Command, args []string) error {
	records, cfg, err := fromAudit()
	if err != nil {
		return err
	}
	f := &replay.Fixture{
		Description: fmt.Sprintf("%d audited turns from %s", len(records), dbPath),
		Config:      cfg,
		Records:     records,
	}
	if err := replay.WriteFixture(args[0], f); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %d turns to %s\n", len(records), args[0])
	return nil
}

func runFixture(cmd *cobra.Command, args []string) error {
	f, err := replay.LoadFixture(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "fixture: %s\n", f.Description)
	return run(f.Records, f.Config)
}

func fromAudit() ([]replay.Record, replay.Config, error) {
	core, err := config.Load(configPath)
	if err != nil {
		return nil, replay.Config{}, err
	}
	cfg := replay.Config{Physio: core.Physio, Resonance: core.Resonance, Tolerance: tolerance}

	if _, err := os.Stat(dbPath); err != nil {
		return nil, cfg, fmt.Errorf("open db: %w", err)
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, cfg, err
	}
	defer db.Close()
	log, err := audit.NewLog(db)
	if err != nil {
		return nil, cfg, err
	}
	records, err := replay.FromAudit(log, turnID, afterSeq, limit)
	return records, cfg, err
}

func run(records []replay.Record, cfg replay.Config) error {
	if len(records) == 0 {
		fmt.Fprintln(os.Stderr, "no turns to replay")
		return nil
	}
	results, err := replay.Replay(records, cfg)
	if err != nil {
		return err
	}
	summary := replay.Summarize(results)

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{"results": results, "summary": summary}); err != nil {
			return err
		}
	} else {
		printTable(results, summary)
	}
	if !summary.OK() {
		return errMismatch
	}
	return nil
}

// #endregion modes

// #region output
func printTable(results []replay.Result, s replay.Summary) {
	fmt.Printf("%-36s  %-15s  %10s  %10s  %s\n", "Turn", "Outcome", "State Diff", "RI Diff", "Reason")
	for _, r := range results {
		fmt.Printf("%-36s  %-15s  %10.2e  %10.2e  %s\n", r.TurnID, r.Outcome, r.StateDiff, r.RIDiff, r.Reason)
	}
	fmt.Println()
	fmt.Printf("Turns: %d | Match: %d | State mismatch: %d | Score mismatch: %d | Errors: %d\n",
		s.TotalTurns, s.Matches, s.StateMismatches, s.ScoreMismatches, s.Errors)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion output
