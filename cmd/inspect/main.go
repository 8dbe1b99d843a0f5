// Command inspect prints governed memory, conflicts, the audit stream and
// the concept graph from a core database.
package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Freshair129/agentic-agent/internal/audit"
	"github.com/Freshair129/agentic-agent/internal/graph"
	"github.com/Freshair129/agentic-agent/internal/memory"
	"github.com/Freshair129/agentic-agent/internal/store"
)

// #region main
var (
	dbPath  string
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Inspect a core database",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", envOr("CORE_DB", "core.db"), "path to the core database")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON instead of a table")
	rootCmd.AddCommand(memoryCmd(), entryCmd(), conflictsCmd(), auditCmd(), graphCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func openDB() (*sql.DB, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return store.Open(dbPath)
}

func openMemory() (*memory.Store, func(), error) {
	db, err := openDB()
	if err != nil {
		return nil, nil, err
	}
	s, err := memory.NewStore(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return s, func() { db.Close() }, nil
}

// #endregion main

// #region memory
func memoryCmd() *cobra.Command {
	var (
		domain, tier, state string
		minConfidence       float64
		limit               int
		superseded          bool
	)
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "List memory entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, done, err := openMemory()
			if err != nil {
				return err
			}
			defer done()

			f := memory.Filter{
				Domain:            memory.Domain(domain),
				MinConfidence:     minConfidence,
				Limit:             limit,
				IncludeSuperseded: superseded,
			}
			for _, t := range splitList(tier) {
				f.Tiers = append(f.Tiers, memory.Tier(t))
			}
			for _, st := range splitList(state) {
				f.States = append(f.States, memory.Epistemic(st))
			}
			entries, err := s.Entries(cmd.Context(), f)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(entries)
			}
			printEntries(entries)
			return nil
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "safety|identity|knowledge|contextual|meta")
	cmd.Flags().StringVar(&tier, "tier", "", "comma-separated tiers")
	cmd.Flags().StringVar(&state, "state", "", "comma-separated epistemic states")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "minimum confidence")
	cmd.Flags().IntVar(&limit, "limit", 50, "show at most N entries")
	cmd.Flags().BoolVar(&superseded, "all-versions", false, "include superseded versions")
	return cmd
}

func printEntries(entries []memory.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "no entries found")
		return
	}
	fmt.Printf("%-8s  %-7s  %-10s  %-11s  %5s  %4s  %3s  %s\n", "ID", "Tier", "Domain", "State", "Conf", "Hits", "Ver", "Content")
	fmt.Printf("%-8s+-%-7s+-%-10s+-%-11s+-%5s+-%4s+-%3s+-%s\n", "--------", "-------", "----------", "-----------", "-----", "----", "---", "--------------------")
	for _, e := range entries {
		fmt.Printf("%-8s  %-7s  %-10s  %-11s  %5.2f  %4d  %3d  %s\n",
			short(e.ID), e.Tier, e.Domain, e.State, e.Confidence, e.HitCount, e.Version, truncate(e.Content, 60))
	}
}

func entryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entry <id>",
		Short: "Show an entry's lineage and conflicts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, done, err := openMemory()
			if err != nil {
				return err
			}
			defer done()

			versions, err := s.Lineage(args[0])
			if err != nil {
				return err
			}
			conflicts, err := s.Conflicts(memory.ConflictFilter{EntryID: args[0]})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(map[string]any{"versions": versions, "conflicts": conflicts})
			}
			fmt.Println("Lineage:")
			printEntries(versions)
			fmt.Println()
			fmt.Println("Conflicts:")
			printConflicts(conflicts)
			return nil
		},
	}
}

func conflictsCmd() *cobra.Command {
	var entry, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List conflict records",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, done, err := openMemory()
			if err != nil {
				return err
			}
			defer done()
			conflicts, err := s.Conflicts(memory.ConflictFilter{EntryID: entry, Status: memory.ConflictStatus(status), Limit: limit})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(conflicts)
			}
			printConflicts(conflicts)
			return nil
		},
	}
	cmd.Flags().StringVar(&entry, "entry", "", "only conflicts involving this entry")
	cmd.Flags().StringVar(&status, "status", "", "open|resolved")
	cmd.Flags().IntVar(&limit, "limit", 50, "show at most N conflicts")
	return cmd
}

func printConflicts(conflicts []memory.ConflictRecord) {
	if len(conflicts) == 0 {
		fmt.Fprintln(os.Stderr, "no conflicts found")
		return
	}
	fmt.Printf("%-8s  %-8s  %-8s  %-10s  %8s  %-8s  %s\n", "ID", "Existing", "Incoming", "Domain", "Severity", "Status", "Rationale")
	for _, c := range conflicts {
		fmt.Printf("%-8s  %-8s  %-8s  %-10s  %8.3f  %-8s  %s\n",
			short(c.ID), short(c.ExistingID), short(c.IncomingID), c.Domain, c.Severity, c.Status, truncate(c.Rationale, 50))
	}
}

// #endregion memory

// #region audit
func auditCmd() *cobra.Command {
	var kind, turnID string
	var after int64
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the audit stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			log, err := audit.NewLog(db)
			if err != nil {
				return err
			}
			events, err := log.Read(audit.Filter{Kind: audit.Kind(kind), TurnID: turnID, AfterSeq: after, Limit: limit})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(events)
			}
			for _, ev := range events {
				fmt.Printf("%6d  %s  %-9s  %-8s  %-8s  %s\n",
					ev.Seq, ev.CreatedAt.Format("2006-01-02T15:04:05Z"), ev.Kind, short(ev.SessionID), short(ev.TurnID), truncate(string(ev.Payload), 80))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "stimulus|score|decision|turn|distill")
	cmd.Flags().StringVar(&turnID, "turn", "", "only events of this turn")
	cmd.Flags().Int64Var(&after, "after", 0, "start after this sequence number")
	cmd.Flags().IntVar(&limit, "limit", 100, "show at most N events")
	return cmd
}

// #endregion audit

// #region graph
func graphCmd() *cobra.Command {
	var minWeight float64
	cmd := &cobra.Command{
		Use:   "graph [concept]",
		Short: "List concepts, or one concept's neighbors",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			g, err := graph.New(db)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				concepts, err := g.Concepts()
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(concepts)
				}
				fmt.Println(strings.Join(concepts, "\n"))
				return nil
			}
			edges, err := g.Neighbors(strings.ToLower(args[0]), minWeight)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(edges)
			}
			for _, e := range edges {
				fmt.Printf("%-24s  %-10s  %.3f\n", e.Target, e.EdgeType, e.Weight)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&minWeight, "min-weight", 0, "hide edges below this weight")
	return cmd
}

// #endregion graph

// #region helpers
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
