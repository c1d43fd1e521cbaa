package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/tools"
)

func newMemoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Store, search and clear memories directly",
	}
	cmd.AddCommand(
		newStoreCmd(a),
		newRetrieveCmd(a),
		newReflectCmd(a),
		newClearCmd(a),
		newFactCmd(a),
	)
	return cmd
}

// withTools opens a manager, runs fn against the memory tools and prints
// the result.
func (a *app) withTools(ctx context.Context, fn func(t *tools.MemoryTools) string) error {
	m, err := a.openManager(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	t := tools.NewMemoryTools(tools.Static(m), tools.WithLogger(a.logger.WithPrefix("tools.memory")))
	fmt.Fprintln(a.out, strings.TrimRight(fn(t), "\n"))
	return nil
}

func newStoreCmd(a *app) *cobra.Command {
	var memoryType, metadata string
	cmd := &cobra.Command{
		Use:   "store <content>",
		Short: "Store a memory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args, " ")
			return a.withTools(cmd.Context(), func(t *tools.MemoryTools) string {
				return t.StoreMemory(cmd.Context(), content, memoryType, json.RawMessage(metadata))
			})
		},
	}
	cmd.Flags().StringVarP(&memoryType, "type", "t", "episodic", "memory type (episodic, semantic, working)")
	cmd.Flags().StringVarP(&metadata, "metadata", "m", "", "JSON object of metadata")
	return cmd
}

func newRetrieveCmd(a *app) *cobra.Command {
	var (
		limit              int
		memoryType, filter string
	)
	cmd := &cobra.Command{
		Use:   "retrieve <query>",
		Short: "Search memories by meaning",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return a.withTools(cmd.Context(), func(t *tools.MemoryTools) string {
				return t.RetrieveMemory(cmd.Context(), query, limit, memoryType, json.RawMessage(filter))
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", tools.DefaultRetrieveLimit, "maximum results")
	cmd.Flags().StringVarP(&memoryType, "type", "t", "", "filter by memory type")
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "JSON object of metadata equality filters")
	return cmd
}

func newReflectCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reflect <topic>",
		Short: "Gather memories about a topic",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := strings.Join(args, " ")
			return a.withTools(cmd.Context(), func(t *tools.MemoryTools) string {
				return t.Reflect(cmd.Context(), topic, limit)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", tools.DefaultReflectLimit, "maximum memories considered")
	return cmd
}

func newClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [episodic|semantic|working|all]",
		Short: "Delete memories",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "all"
			if len(args) == 1 {
				target = args[0]
			}
			return a.withTools(cmd.Context(), func(t *tools.MemoryTools) string {
				return t.ClearMemories(cmd.Context(), target)
			})
		},
	}
}

func newFactCmd(a *app) *cobra.Command {
	var confidence float64
	var source string
	cmd := &cobra.Command{
		Use:   "fact <subject> <predicate> <object>",
		Short: "Store a subject-predicate-object fact",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := a.openManager(ctx)
			if err != nil {
				return err
			}
			defer m.Close()

			fact := memory.Fact{Subject: args[0], Predicate: args[1], Object: args[2], Confidence: confidence, Source: source}
			id, err := m.StoreFact(ctx, fact, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Stored fact %q with ID: %s\n", fact.Content(), id)
			return nil
		},
	}
	cmd.Flags().Float64Var(&confidence, "confidence", 1.0, "confidence between 0 and 1")
	cmd.Flags().StringVar(&source, "source", "cli", "where the fact came from")
	return cmd
}
