package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/aixgo-dev/datapilot"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session",
	Long: `Reads questions line by line. Commands:
  /trace    toggle the router trace
  /new      start a new session
  /quit     exit`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSystem(cmd.Context(), func(sys *datapilot.System) error {
			line := liner.NewLiner()
			defer line.Close()
			line.SetCtrlCAborts(true)
			return chat(cmd, sys, line)
		})
	},
}

// prompter is the part of liner.State used by chat.
type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

func chat(cmd *cobra.Command, sys *datapilot.System, line prompter) error {
	out := cmd.OutOrStdout()
	var (
		sessionID string
		trace     bool
	)
	fmt.Fprintln(out, "datapilot chat. Type /quit to exit.")

	for {
		input, err := line.Prompt("> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		switch input {
		case "/quit", "/exit":
			return nil
		case "/trace":
			trace = !trace
			fmt.Fprintf(out, "trace %v\n", trace)
			continue
		case "/new":
			sessionID = ""
			fmt.Fprintln(out, "new session")
			continue
		}

		resp, err := ask(cmd.Context(), sys, sessionID, input)
		if resp != nil {
			sessionID = resp.SessionID
			printResponse(out, resp, trace)
		}
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
		}
		if cmd.Context().Err() != nil {
			return nil
		}
	}
}
