package main

import (
	"github.com/spf13/cobra"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hybridqa-core/server/internal/agent/graph"
	"github.com/hybridqa-core/server/internal/mcp"
	logx "github.com/hybridqa-core/server/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server over stdio",
	Long: `Starts an MCP server over stdin/stdout exposing the retrieval and table
tools. The ask tool is added when GEMINI_API_KEY is set and get_transcript
when REDIS_URL is set.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, appCfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.warmIndex(ctx); err != nil {
		return err
	}

	opts := mcp.Options{Version: version, Registry: a.registry}
	if a.client != nil {
		var runner graph.Runner
		runner, err = a.runner(ctx)
		if err != nil {
			return err
		}
		opts.Runner = runner
	} else {
		logx.Warn().Msg("GEMINI_API_KEY not set - serving tools without ask")
	}
	if a.transcripts != nil {
		opts.Transcripts = a.transcripts
	}

	srv, err := mcp.NewServer(ctx, opts)
	if err != nil {
		return err
	}
	return srv.Run(ctx, &sdkmcp.StdioTransport{})
}
