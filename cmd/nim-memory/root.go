package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "nim-memory",
		Short:         "Agent runtime with pluggable long-term memory",
		Long:          longRoot,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default nim-memory.yaml)")

	root.AddCommand(
		newChatCmd(a),
		newServeCmd(a),
		newMCPCmd(a),
		newMemoryCmd(a),
	)
	return root
}

var longRoot = `nim-memory runs a Claude agent that remembers earlier conversations.

Memories are embedded (OpenAI or a local ONNX model) and kept in a vector
store (embedded chromem-go or PostgreSQL with pgvector). Relevant memories
are retrieved before every step and each exchange is stored after it.

Configuration is read from nim-memory.yaml, then overridden by NIM_*
environment variables, OPENAI_API_KEY and ANTHROPIC_API_KEY.`
