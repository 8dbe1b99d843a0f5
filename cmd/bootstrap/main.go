// Command bootstrap seeds the immutable memory tiers and the concept graph
// from a YAML file.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Freshair129/agentic-agent/internal/config"
	"github.com/Freshair129/agentic-agent/internal/fault"
	"github.com/Freshair129/agentic-agent/internal/graph"
	"github.com/Freshair129/agentic-agent/internal/memory"
	"github.com/Freshair129/agentic-agent/internal/store"
)

var (
	configPath string
	dryRun     bool
)

var rootCmd = &cobra.Command{
	Use:          "bootstrap <seed.yaml>",
	Short:        "Seed Core and Sphere memory and concept edges",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", envOr("CORE_CONFIG", ""), "path to a YAML config file")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the seed file without writing")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	seed, err := LoadSeed(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Seed: %d entries, %d edges\n", len(seed.Entries), len(seed.Edges))
	if dryRun {
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)

	db, err := store.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()
	entries, err := memory.NewStore(db)
	if err != nil {
		return err
	}
	g, err := graph.New(db)
	if err != nil {
		return err
	}
	gov, err := memory.NewGovernor(entries, g, cfg.Memory, memory.WithLogger(logger))
	if err != nil {
		return err
	}
	defer gov.Close()

	stats, err := apply(cmd.Context(), gov, g, seed, logger)
	fmt.Printf("Entries: %d committed, %d rejected, %d conflicts | Edges: %d\n",
		stats.committed, stats.rejected, stats.conflicts, stats.edges)
	return err
}

type seedStats struct {
	committed, rejected, conflicts, edges int
}

// apply commits every entry, then adds the edges. A rejected entry is
// reported and skipped; any other failure stops the run.
func apply(ctx context.Context, gov *memory.Governor, g *graph.Graph, seed *SeedFile, logger *slog.Logger) (seedStats, error) {
	var st seedStats
	for i, se := range seed.Entries {
		tier, e := se.Entry()
		d, err := gov.Commit(ctx, tier, e)
		if err != nil {
			if k := fault.KindOf(err); k == fault.KindValidation || k == fault.KindTransactionAbort {
				st.rejected++
				logger.Warn("seed entry rejected", "index", i, "content", se.Content, "err", err)
				continue
			}
			return st, fmt.Errorf("entry %d: %w", i, err)
		}
		st.committed++
		st.conflicts += len(d.Conflicts)
		if (i+1)%50 == 0 {
			fmt.Printf("  %d/%d entries\n", i+1, len(seed.Entries))
		}
	}

	now := time.Now()
	for i, e := range seed.Edges {
		src, tgt := strings.ToLower(e.Source), strings.ToLower(e.Target)
		if err := g.AddEdge(src, tgt, graph.EdgeSeeded, e.Weight, now); err != nil {
			return st, fmt.Errorf("edge %d: %w", i, err)
		}
		st.edges++
	}
	return st, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
