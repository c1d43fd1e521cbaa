package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve agent sessions over WebSocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if addr != "" {
				a.cfg.Server.Addr = addr
			}

			// Sessions share one manager so concurrent sockets reuse a
			// single store connection.
			var shared *memory.Manager
			if a.cfg.Memory.Enabled {
				m, err := a.openManager(ctx)
				if err != nil {
					a.logger.Error("memory disabled: could not open manager", "err", err)
					a.cfg.Memory.Enabled = false
				} else {
					shared = m
					defer shared.Close()
				}
			}

			srv, err := server.New(server.Config{
				Sessions: func(context.Context) (server.Session, error) {
					session, err := a.newSession(shared)
					if err != nil {
						return nil, err
					}
					return session, nil
				},
				AllowedOrigins: a.cfg.Server.AllowedOrigins,
				StepTimeout:    a.cfg.Server.StepTimeout,
				Logger:         a.logger.WithPrefix("server"),
			})
			if err != nil {
				return err
			}

			a.logger.Info("serving", "ws", "ws://"+a.cfg.Server.Addr+"/ws", "health", "http://"+a.cfg.Server.Addr+"/health")
			return srv.Run(ctx, a.cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
