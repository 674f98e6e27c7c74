package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sungwoonpark0502/PRL-User-LLM-Experiment/internal/chatclient"
)

// lineReader is the part of *readline.Instance the chat loop uses.
type lineReader interface {
	Readline() (string, error)
}

func newChatCmd() *cobra.Command {
	var nickname string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a persona interactively",
		Long: `Starts a multi-turn conversation. The whole history is sent on every turn.

Commands:
  /reset   forget the conversation so far
  /exit    quit (Ctrl-D works too)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rl, err := readline.NewEx(&readline.Config{
				Prompt:            color.CyanString("you> "),
				InterruptPrompt:   "^C",
				EOFPrompt:         "exit",
				HistorySearchFold: true,
			})
			if err != nil {
				return fmt.Errorf("starting line editor: %w", err)
			}
			defer rl.Close()

			color.New(color.Faint).Fprintf(rl.Stdout(), "Chatting with %s. /exit to quit.\n", nickname)
			return chatLoop(cmd.Context(), newClient(), nickname, rl, rl.Stdout())
		},
	}
	cmd.Flags().StringVarP(&nickname, "nickname", "n", "", "persona nickname, e.g. Sarah")
	cmd.MarkFlagRequired("nickname")
	return cmd
}

// chatLoop reads user turns until EOF or /exit and prints each reply. A
// failed turn is reported and dropped from the history so the next turn
// starts from the last good exchange.
func chatLoop(ctx context.Context, c *chatclient.Client, nickname string, in lineReader, out io.Writer) error {
	var history []chatclient.Message
	who := color.New(color.FgGreen, color.Bold)

	for {
		line, err := in.Readline()
		if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			history = nil
			color.New(color.Faint).Fprintln(out, "Conversation cleared.")
			continue
		}

		history = append(history, chatclient.Message{Role: "user", Content: line})
		reply, err := c.Send(ctx, nickname, history)
		if err != nil {
			history = history[:len(history)-1]
			color.New(color.FgRed).Fprintf(out, "error: %v\n", err)
			continue
		}
		history = append(history, chatclient.Message{Role: "assistant", Content: reply})

		who.Fprintf(out, "%s> ", nickname)
		fmt.Fprintln(out, reply)
	}
}
