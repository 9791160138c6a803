package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/parcelpicker/internal/api"
	"github.com/sells-group/parcelpicker/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the lookup API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initLookup(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		h := api.NewHandler(env.Runner, env.Store, api.ProviderStatusResponse{
			ParcelProvider: env.Runner.ProviderName(),
			Assistant: api.AssistantStatus{
				Enabled:  env.Runner.AssistantAvailable(),
				Provider: "anthropic",
				Model:    cfg.Anthropic.Model,
			},
		}).WithCacheStats(env.Provider)

		srv := &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           api.NewRouter(h, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			zap.L().Info("starting server", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		// Graceful shutdown
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if every := time.Duration(cfg.Server.SweepIntervalMins) * time.Minute; every > 0 {
			g.Go(func() error {
				sweep(gctx, env.Store, cfg.Lookup.RetentionDays, every)
				return nil
			})
		}

		return g.Wait()
	},
}

// sweep purges expired runs, parcels and aliases every interval until ctx is
// done. Failures are logged and retried on the next tick.
func sweep(ctx context.Context, st store.Store, retentionDays int, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := st.CleanupExpired(ctx, retentionDays)
			if err != nil {
				if ctx.Err() == nil {
					zap.L().Warn("sweep: cleanup failed", zap.Error(err))
				}
				continue
			}
			zap.L().Info("sweep: cleanup complete",
				zap.Int64("runs", res.Runs),
				zap.Int64("memberships", res.Memberships),
				zap.Int64("parcels", res.Parcels),
				zap.Int64("aliases", res.Aliases),
			)
		}
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
