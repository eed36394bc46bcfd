package cli

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tOgg1/courier/internal/api"
	"github.com/tOgg1/courier/internal/logging"
	"github.com/tOgg1/courier/internal/metrics"
	"github.com/tOgg1/courier/internal/session"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			if err := a.cfg.ValidateServer(); err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			b, err := openBackend(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := b.Close(); err != nil {
					logging.Logger.Warn().Err(err).Msg("failed to close store")
				}
			}()

			issuer, err := session.NewTokenIssuer(a.cfg.Server.JWTSecret, a.cfg.Server.JWTIssuer, a.cfg.Server.TokenTTL)
			if err != nil {
				return err
			}
			m := metrics.New(prometheus.DefaultRegisterer)
			registry := api.NewRegistry(b.Store, b.Directory, a.cfg, m)
			server := api.NewServer(a.cfg.Server, registry, issuer, prometheus.DefaultGatherer)

			logging.Logger.Info().
				Str("addr", a.cfg.Server.Addr).
				Str("store", a.cfg.Store.Backend).
				Str("feed", a.cfg.Feed.Backend).
				Msg("courier listening")
			return server.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
