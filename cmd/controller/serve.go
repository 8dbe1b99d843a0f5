package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Freshair129/agentic-agent/internal/memory"
	"github.com/Freshair129/agentic-agent/internal/rpc"
	"github.com/Freshair129/agentic-agent/internal/server"
)

const version = "0.1.0"

var embedderAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC session boundary, the HTTP API and the distiller",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&embedderAddr, "embedder", envOr("CORE_EMBEDDER_ADDR", ""), "gRPC address of an embedding service (optional)")
}

func runServe(cmd *cobra.Command, args []string) error {
	c, err := loadCore()
	if err != nil {
		return err
	}
	defer c.close()
	if err := c.startSession(embedderAddr); err != nil {
		return err
	}

	distiller := memory.NewDistiller(c.gov)
	distiller.Start()
	defer distiller.Close()

	lis, err := net.Listen("tcp", c.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", c.cfg.GRPCAddr, err)
	}
	gs := grpc.NewServer()
	rpc.Register(gs, c.sync, c.logger)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	httpServer := &http.Server{
		Addr: c.cfg.HTTPAddr,
		Handler: server.New(server.Deps{
			Governor: c.gov,
			State:    c.engine,
			Audit:    c.audit,
			Graph:    c.graph,
			Sessions: c.sync,
			Version:  version,
			Logger:   c.logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 2)
	go func() {
		if err := gs.Serve(lis); err != nil {
			errs <- fmt.Errorf("grpc: %w", err)
		}
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http: %w", err)
		}
	}()
	c.logger.Info("core serving", "config", c.cfg.String(), "version", version)

	select {
	case <-ctx.Done():
		c.logger.Info("shutting down")
	case err = <-errs:
		c.logger.Error("listener failed", "err", err)
	}

	hs.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
		c.logger.Warn("http shutdown", "err", serr)
	}
	gs.GracefulStop()
	return err
}
