package main

import (
	"github.com/spf13/cobra"

	"github.com/Sternrassler/drf-client/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve cached API reads over HTTP",
		Long: `Start an HTTP server that proxies reads to the configured API through the
result cache:

  GET  /pages/<endpoint>       aggregated list of every page
  GET  /one/<endpoint>         single response
  POST /invalidate/<endpoint>  drop cached reads of an endpoint
  GET  /health, /ready         liveness and readiness
  GET  /metrics, /stats        Prometheus metrics and a JSON summary

Query parameters are forwarded upstream, except locale (selects the
Accept-Language) and refresh=1 (re-fetches a cached read).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := a.logger.With().Str("component", "drfetch-server").Logger()
			srv := server.New(a.client, server.Config{
				Port:            a.cfg.Server.Port,
				ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
				Logger:          &logger,
			})
			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().Int("port", 8080, "port to listen on (overrides server.port)")

	return cmd
}
