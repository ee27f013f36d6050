package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/datapilot"
	"github.com/aixgo-dev/datapilot/internal/router"
)

var (
	askSession string
	askTrace   bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a single question",
	Long: `Runs one turn and prints the markdown answer. Pass --session to
continue an earlier session; the session ID is printed on stderr.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		return withSystem(cmd.Context(), func(sys *datapilot.System) error {
			resp, err := ask(cmd.Context(), sys, askSession, question)
			if resp != nil {
				printResponse(cmd.OutOrStdout(), resp, askTrace)
				fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", resp.SessionID)
			}
			return err
		})
	},
}

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "Session ID to continue")
	askCmd.Flags().BoolVar(&askTrace, "trace", false, "Print the router states and invocations")
}

func ask(ctx context.Context, sys *datapilot.System, sessionID, question string) (*router.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return sys.Ask(ctx, sessionID, question)
}

func printResponse(w io.Writer, resp *router.Response, trace bool) {
	fmt.Fprintln(w, strings.TrimRight(resp.Markdown, "\n"))
	if !trace {
		return
	}
	fmt.Fprintf(w, "\n---\nintent: %s\nstates: ", resp.Intent)
	for i, s := range resp.States {
		if i > 0 {
			fmt.Fprint(w, " -> ")
		}
		fmt.Fprint(w, s)
	}
	fmt.Fprintln(w)
	for _, rec := range resp.Records {
		status := "ok"
		switch {
		case rec.Unavailable:
			status = "unavailable"
		case rec.Error != "":
			status = "failed: " + rec.Error
		}
		fmt.Fprintf(w, "%d. %s (%s) %s\n", rec.Step, rec.Capability, rec.Duration, status)
	}
}
