// Command personactl talks to a running personagate from the terminal:
// one-shot questions, the persona directory, and an interactive chat.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sungwoonpark0502/PRL-User-LLM-Experiment/internal/chatclient"
)

var (
	serverURL string
	timeout   time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "personactl",
		Short:         "Command-line client for personagate",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "personagate base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "HTTP timeout per request")

	rootCmd.AddCommand(newAskCmd(), newPersonasCmd(), newChatCmd())
	return rootCmd
}

func newClient() *chatclient.Client {
	return chatclient.New(serverURL, chatclient.WithHTTPClient(&http.Client{Timeout: timeout}))
}

func newAskCmd() *cobra.Command {
	var nickname string

	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send one message to a persona and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := newClient().SendMessage(cmd.Context(), strings.Join(args, " "), nickname)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
	cmd.Flags().StringVarP(&nickname, "nickname", "n", "", "persona nickname, e.g. Sarah")
	cmd.MarkFlagRequired("nickname")
	return cmd
}

func newPersonasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List the personas the server offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listPersonas(cmd.Context(), newClient(), cmd.OutOrStdout())
		},
	}
}

func listPersonas(ctx context.Context, c *chatclient.Client, out io.Writer) error {
	personas, err := c.Personas(ctx)
	if err != nil {
		return err
	}
	if len(personas) == 0 {
		color.New(color.FgYellow).Fprintln(out, "No personas configured.")
		return nil
	}

	bold := color.New(color.Bold)
	for _, p := range personas {
		bold.Fprintf(out, "%-12s", p.Nickname)
		if p.Description != "" {
			fmt.Fprintf(out, " %s", p.Description)
		}
		fmt.Fprintln(out)
	}
	return nil
}
