package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/hybridqa-core/server/internal/agent/graph"
	"github.com/hybridqa-core/server/internal/agent/model"
	errx "github.com/hybridqa-core/server/internal/core/error"
	logx "github.com/hybridqa-core/server/pkg/logger"
)

var (
	batchConcurrency int
	batchOut         string
	batchMarkdown    bool
)

var batchCmd = &cobra.Command{
	Use:   "batch <questions.yaml>",
	Short: "Answer a file of questions as concurrent independent sessions",
	Long: `Reads a YAML file of the form

  questions:
    - id: herat
      question: Who commissioned the mosque in Herat ...?
      table_id: List_of_mosques_in_Afghanistan_0   # optional
      max_hops: 6                                  # optional

and runs every question as its own session. A failed session does not stop
the others. Results are summarised as a table and optionally written as
JSON lines.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().IntVarP(&batchConcurrency, "concurrency", "c", 4, "sessions run in parallel")
	batchCmd.Flags().StringVarP(&batchOut, "out", "o", "", "write one JSON result per line to this file")
	batchCmd.Flags().BoolVar(&batchMarkdown, "markdown", false, "render the summary as a Markdown table")
}

// BatchItem is one question of a batch file.
type BatchItem struct {
	ID       string `yaml:"id"`
	Question string `yaml:"question"`
	TableID  string `yaml:"table_id,omitempty"`
	MaxHops  int    `yaml:"max_hops,omitempty"`
}

type batchFile struct {
	Questions []BatchItem `yaml:"questions"`
}

// BatchResult is the outcome of one batch session.
type BatchResult struct {
	ID     string        `json:"id"`
	Result *model.Result `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
	Code   string        `json:"code,omitempty"`
}

func parseBatch(data []byte) ([]BatchItem, error) {
	var f batchFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse batch: %w", err)
	}
	seen := map[string]bool{}
	for i := range f.Questions {
		q := &f.Questions[i]
		if q.ID == "" {
			q.ID = fmt.Sprintf("q%d", i+1)
		}
		if seen[q.ID] {
			return nil, fmt.Errorf("parse batch: duplicate id %q", q.ID)
		}
		seen[q.ID] = true
	}
	return f.Questions, nil
}

// runSessions answers every item through runner with at most concurrency
// sessions in flight. Results keep the input order.
func runSessions(ctx context.Context, runner graph.Runner, items []BatchItem, concurrency int) []BatchResult {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]BatchResult, len(items))

	var mu sync.Mutex
	done := 0

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, item := range items {
		g.Go(func() error {
			res, err := runner.Invoke(gCtx, model.QueryInput{
				SessionID: item.ID,
				Question:  model.Question{Text: item.Question, TableID: item.TableID},
				MaxHops:   item.MaxHops,
			})
			out := BatchResult{ID: item.ID, Result: res}
			if err != nil {
				out.Error = err.Error()
				out.Code = string(errx.CodeOf(err))
			}
			results[i] = out

			mu.Lock()
			done++
			logx.Info().Str("id", item.ID).Int("done", done).Int("total", len(items)).Bool("failed", err != nil).Msg("Batch session finished")
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func renderSummary(results []BatchResult, markdown bool) string {
	w := table.NewWriter()
	w.SetStyle(table.StyleLight)
	w.Style().Format.Header = text.FormatDefault
	w.Style().Format.Footer = text.FormatDefault
	w.AppendHeader(table.Row{"ID", "Status", "Turns", "Calls", "Cost (USD)", "Answer"})
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, WidthMax: 60},
	})

	counts := map[string]int{}
	var cost float64
	for _, r := range results {
		if r.Result == nil {
			status := "error"
			if r.Code != "" {
				status = "error (" + r.Code + ")"
			}
			counts["error"]++
			w.AppendRow(table.Row{r.ID, status, "-", "-", "-", r.Error})
			continue
		}
		res := r.Result
		counts[string(res.Status)]++
		cost += res.CostUSD
		w.AppendRow(table.Row{
			r.ID,
			string(res.Status),
			res.Turns,
			len(res.Answer.FunctionsCalled),
			fmt.Sprintf("%.6f", res.CostUSD),
			strings.ReplaceAll(res.Answer.Answer, "\n", " "),
		})
	}
	w.AppendFooter(table.Row{
		fmt.Sprintf("%d sessions", len(results)),
		fmt.Sprintf("%d answered, %d bounded, %d failed, %d errors",
			counts[string(model.StatusAnswered)], counts[string(model.StatusBounded)],
			counts[string(model.StatusFailed)], counts["error"]),
		"", "",
		fmt.Sprintf("%.6f", cost),
		"",
	})

	if markdown {
		return w.RenderMarkdown()
	}
	return w.Render()
}

func writeResults(w io.Writer, results []BatchResult) error {
	enc := json.NewEncoder(w)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	items, err := parseBatch(data)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("batch %s has no questions", args[0])
	}

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

	results := runSessions(ctx, runner, items, batchConcurrency)
	fmt.Fprintln(cmd.OutOrStdout(), renderSummary(results, batchMarkdown))

	if batchOut != "" {
		f, err := os.Create(batchOut)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := writeResults(f, results); err != nil {
			return fmt.Errorf("write results: %w", err)
		}
	}
	return nil
}
