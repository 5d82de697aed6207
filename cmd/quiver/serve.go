package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve tokenization over HTTP and Arrow Flight",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := activeCfg
			p, err := loadPipeline(cfg, cfg.Server.Workers, cfg.Server.CacheSize)
			if err != nil {
				return err
			}

			var fwd Forwarder
			if cfg.Forward.Addr != "" {
				f, closeForwarder, err := newForwarder(cfg)
				if err != nil {
					return err
				}
				defer closeForwarder()
				fwd = f
			}

			srv := NewServer(p, fwd, cfg.Server.MaxConcurrent, cfg.Server.MaxBatch)
			httpServer := &http.Server{
				Addr:              cfg.Server.ListenAddr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				log.Info().Str("addr", cfg.Server.ListenAddr).Int("vocab_size", p.VocabSize()).Msg("Starting Quiver Server")
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})

			if cfg.Server.FlightAddr != "" {
				fs, err := NewFlightServer(cfg.Server.FlightAddr, srv)
				if err != nil {
					return err
				}
				g.Go(func() error {
					log.Info().Str("addr", fs.Addr().String()).Msg("Starting Quiver Flight Server")
					return fs.Serve()
				})
				g.Go(func() error {
					<-ctx.Done()
					fs.Shutdown()
					return nil
				})
			}

			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				log.Info().Msg("Shutting down")
				return httpServer.Shutdown(shutdownCtx)
			})

			return g.Wait()
		},
	}
}
