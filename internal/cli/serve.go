package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/khanglvm/personalize/internal/httpapi"
	"github.com/khanglvm/personalize/internal/logging"
	"github.com/khanglvm/personalize/internal/mcp"
)

// shutdownTimeout bounds how long serve-http waits for in-flight requests.
const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the 'serve' command for running the MCP server.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server (stdio transport)",
		Long: `Start the personalize MCP server using stdio transport.

The server exposes tools for recording visitor signals, reading
recommendation feeds and running experiments:
  • track_category, track_item, track_search
  • recommend_for_you, recommend_continue, recommend_similar,
    recommend_complementary, recommend_searches
  • experiment_assign, experiment_convert, experiment_list, experiment_report
  • profile_get`,
		Example: `  # Run directly
  personalize serve

  # Register with an MCP client
  claude mcp add personalize -- personalize serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	return cmd
}

// runServe starts the MCP server with stdio transport and signal handling.
// Implements graceful shutdown on SIGINT/SIGTERM/SIGQUIT.
func runServe() error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	log := logging.Component("serve")
	log.Info().Str("config", e.Config().String()).Msg("starting MCP server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- mcp.NewServer(e).Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
		cancel()
		if err := e.Close(); err != nil {
			log.Error().Err(err).Msg("error during shutdown")
			return err
		}
		log.Info().Msg("shutdown complete")
		return nil

	case err := <-errChan:
		// stdin closed or the scanner failed; the engine still needs draining
		if closeErr := e.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("error during cleanup")
		}
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// NewServeHTTPCmd creates the 'serve-http' command for running the HTTP API.
func NewServeHTTPCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve-http",
		Short: "Run the HTTP API",
		Long: `Start the personalize HTTP API.

Visitor-scoped endpoints read the device id from the X-Device-ID header and
the optional identity from X-Identity-ID. Prometheus metrics are served on
/metrics and a liveness check on /healthz.`,
		Example: `  personalize serve-http
  personalize serve-http --addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServeHTTP(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides http.addr)")

	return cmd
}

// runServeHTTP serves the HTTP API until ctx is cancelled, then drains
// in-flight requests and closes the engine.
func runServeHTTP(ctx context.Context, addr string) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	if addr == "" {
		addr = e.Config().HTTP.Addr
	}
	log := logging.Component("serve-http")

	srv := httpapi.NewServer(addr, httpapi.NewHandler(e))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if closeErr := e.Close(); closeErr != nil {
		log.Error().Err(closeErr).Msg("error during cleanup")
		if err == nil {
			err = closeErr
		}
	}
	return err
}
