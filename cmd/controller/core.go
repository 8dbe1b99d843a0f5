package main

import (
	"database/sql"
	"log/slog"
	"os"
	"time"

	"github.com/Freshair129/agentic-agent/internal/audit"
	"github.com/Freshair129/agentic-agent/internal/config"
	"github.com/Freshair129/agentic-agent/internal/graph"
	"github.com/Freshair129/agentic-agent/internal/memory"
	"github.com/Freshair129/agentic-agent/internal/physio"
	"github.com/Freshair129/agentic-agent/internal/retrieval"
	"github.com/Freshair129/agentic-agent/internal/rpc"
	"github.com/Freshair129/agentic-agent/internal/signals"
	"github.com/Freshair129/agentic-agent/internal/store"
	"github.com/Freshair129/agentic-agent/internal/turn"
)

// core holds every long-lived component. close releases them in reverse
// dependency order.
type core struct {
	cfg    config.Config
	logger *slog.Logger

	db       *sql.DB
	audit    *audit.Log
	sink     *audit.Sink
	graph    *graph.Graph
	gov      *memory.Governor
	engine   *physio.Engine
	embedder *rpc.EmbedClient
	sync     *turn.Synchronizer

	closers []func()
}

// loadCore reads configuration and opens the database and the Governor.
// Invalid configuration stops here, before anything starts.
func loadCore() (*core, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	c := &core{cfg: cfg, logger: logger}
	if c.db, err = store.Open(cfg.DB); err != nil {
		return nil, err
	}
	c.closers = append(c.closers, func() { c.db.Close() })

	if c.audit, err = audit.NewLog(c.db); err != nil {
		c.close()
		return nil, err
	}
	c.sink = audit.NewSink(c.audit, cfg.Audit.Buffer, logger)
	c.closers = append(c.closers, c.sink.Close)

	entries, err := memory.NewStore(c.db)
	if err != nil {
		c.close()
		return nil, err
	}
	if c.graph, err = graph.New(c.db); err != nil {
		c.close()
		return nil, err
	}
	c.gov, err = memory.NewGovernor(entries, c.graph, cfg.Memory, memory.WithLogger(logger), memory.WithAudit(c.sink))
	if err != nil {
		c.close()
		return nil, err
	}
	c.closers = append(c.closers, c.gov.Close)
	return c, nil
}

// startSession brings up the simulator and the Turn Synchronizer.
func (c *core) startSession(embedderAddr string) error {
	sim, err := physio.NewSimulator(c.cfg.Physio, time.Now())
	if err != nil {
		return err
	}
	c.engine = physio.NewEngine(sim, physio.SystemClock(), c.cfg.Physio.TickInterval, c.logger)
	c.engine.Start()
	c.closers = append(c.closers, c.engine.Close)

	var embedder signals.Embedder
	if embedderAddr != "" {
		if c.embedder, err = rpc.DialEmbedder(embedderAddr); err != nil {
			return err
		}
		c.closers = append(c.closers, func() { c.embedder.Close() })
		embedder = c.embedder
	}
	producer, err := signals.NewProducer(embedder, c.cfg.Signals)
	if err != nil {
		return err
	}

	streams, err := retrieval.DefaultStreams(c.graph, c.cfg.Retrieval, c.cfg.Memory.Walk)
	if err != nil {
		return err
	}
	retriever, err := retrieval.NewRetriever(c.gov.Store(), streams, c.cfg.Retrieval, c.logger)
	if err != nil {
		return err
	}

	c.sync, err = turn.New(turn.Deps{
		Perceiver: producer,
		Engine:    c.engine,
		Recaller:  retriever,
		Committer: c.gov,
		Scoring:   c.cfg.Resonance,
		Audit:     c.sink,
		Logger:    c.logger,
	}, c.cfg.Turn)
	return err
}

func (c *core) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
