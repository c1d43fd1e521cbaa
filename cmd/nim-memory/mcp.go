package main

import (
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/becomeliminal/nim-memory/tools"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the memory tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.openManager(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			t := tools.NewMemoryTools(tools.Static(m), tools.WithLogger(a.logger.WithPrefix("tools.memory")))
			return mcpserver.ServeStdio(tools.NewMCPServer(t, "nim-memory", version))
		},
	}
}

const version = "0.1.0"
