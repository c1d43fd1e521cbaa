package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/nim-memory/engine"
)

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent on stdin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			session, err := a.newSession(nil)
			if err != nil {
				return err
			}
			defer session.Close()

			scanner := bufio.NewScanner(a.in)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			fmt.Fprint(a.out, "> ")
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					fmt.Fprint(a.out, "> ")
					continue
				case "exit", "quit":
					return nil
				}

				out, err := session.Step(ctx, &engine.Input{UserMessage: line})
				if err != nil {
					fmt.Fprintf(a.out, "error: %v\n> ", err)
					continue
				}
				fmt.Fprintf(a.out, "%s\n> ", out.Text)
			}
			return scanner.Err()
		},
	}
}
