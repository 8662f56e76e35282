package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Doitordead/Intel-irris/internal/app"
	"github.com/Doitordead/Intel-irris/internal/logging"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the import, run history and search API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)
			d, err := wire(ctx, c.cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			svc := app.NewService(app.Deps{
				Importer: d.importer,
				Source:   d.source,
				Runs:     d.runs,
				Search:   d.search,
				Store:    d.store,
				Encoding: c.cfg.Encoding,
			})
			server := &http.Server{
				Addr:              c.cfg.Addr,
				Handler:           app.NewHTTPServer(svc, c.cfg.APIToken, d.metrics.Handler()).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      5 * time.Minute,
				IdleTimeout:       60 * time.Second,
				BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", c.cfg.Addr).Msg("iris API listening")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("shutdown error")
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "listen address (default :8787)")
	cmd.Flags().String("source", "", "input source: file, git or object")
	cmd.Flags().String("rules", "", "governance rules file")
	return cmd
}
