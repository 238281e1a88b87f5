package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hybridqa-core/server/internal/agent/model"
)

var (
	askTableID   string
	askSessionID string
	askMaxHops   int
	askVerbose   bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question and print the final answer as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askTableID, "table-id", "", "table to start from")
	askCmd.Flags().StringVar(&askSessionID, "session-id", "", "session id (generated when empty)")
	askCmd.Flags().IntVar(&askMaxHops, "max-hops", 0, "hop bound (0 uses ORCHESTRATOR_MAX_HOPS)")
	askCmd.Flags().BoolVarP(&askVerbose, "verbose", "v", false, "print the session result, not only the final answer")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, appCfg)
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := a.runner(ctx)
	if err != nil {
		return err
	}

	res, err := runner.Invoke(ctx, model.QueryInput{
		SessionID: askSessionID,
		Question:  model.Question{Text: strings.Join(args, " "), TableID: askTableID},
		MaxHops:   askMaxHops,
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	var out any = res.Answer
	if askVerbose {
		out = res
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	fmt.Fprintf(cmd.ErrOrStderr(), "session %s: %s after %d turns (%.6f USD)\n", res.SessionID, res.Status, res.Turns, res.CostUSD)
	return nil
}
