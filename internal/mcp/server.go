// Package mcp exposes the question-answering tools over the Model Context
// Protocol, so an external agent can drive retrieval and extraction directly or
// hand a whole question to the orchestrator.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/hybridqa-core/server/internal/agent/graph"
	"github.com/hybridqa-core/server/internal/agent/graph/tools"
	"github.com/hybridqa-core/server/internal/agent/model"
	errx "github.com/hybridqa-core/server/internal/core/error"
	logx "github.com/hybridqa-core/server/pkg/logger"
)

const (
	ServerName = "hybridqa"

	ToolAsk        = "ask"
	ToolTranscript = "get_transcript"
)

// Options selects what the server exposes. Runner and Transcripts are
// optional; their tools are omitted when nil.
type Options struct {
	Version     string
	Registry    *tools.Registry
	Runner      graph.Runner
	Transcripts model.TranscriptRepository
}

// Server wraps the MCP SDK server.
type Server struct {
	MCPServer *sdkmcp.Server

	registry    *tools.Registry
	runner      graph.Runner
	transcripts model.TranscriptRepository
	log         zerolog.Logger
}

// NewServer registers every registry tool, plus ask and get_transcript when
// their collaborators are configured.
func NewServer(ctx context.Context, opts Options) (*Server, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("mcp: tool registry is nil")
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		MCPServer:   sdkmcp.NewServer(&sdkmcp.Implementation{Name: ServerName, Version: version}, nil),
		registry:    opts.Registry,
		runner:      opts.Runner,
		transcripts: opts.Transcripts,
		log:         logx.Component("mcp"),
	}
	if err := s.registerRegistryTools(ctx); err != nil {
		return nil, err
	}
	s.registerSessionTools()
	return s, nil
}

// Run serves on the given transport until ctx is done or the client leaves.
func (s *Server) Run(ctx context.Context, t sdkmcp.Transport) error {
	s.log.Info().Msg("MCP server started")
	return s.MCPServer.Run(ctx, t)
}

// --- Registry tools ---

func (s *Server) registerRegistryTools(ctx context.Context) error {
	infos, err := s.registry.ToolInfos(ctx)
	if err != nil {
		return fmt.Errorf("mcp: tool infos: %w", err)
	}
	for _, info := range infos {
		inputSchema, err := inputSchemaOf(info)
		if err != nil {
			return fmt.Errorf("mcp: %s schema: %w", info.Name, err)
		}
		s.MCPServer.AddTool(&sdkmcp.Tool{
			Name:        info.Name,
			Description: info.Desc,
			InputSchema: inputSchema,
		}, s.registryHandler(info.Name))
	}
	return nil
}

func inputSchemaOf(info *schema.ToolInfo) (json.RawMessage, error) {
	if info.ParamsOneOf == nil {
		return json.RawMessage(`{"type":"object"}`), nil
	}
	js, err := info.ParamsOneOf.ToJSONSchema()
	if err != nil {
		return nil, err
	}
	return json.Marshal(js)
}

// registryHandler forwards the raw arguments to the registry. Error-shaped
// payloads are returned as tool errors carrying the payload.
func (s *Server) registryHandler(name string) sdkmcp.ToolHandler {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
		args := "{}"
		if raw := req.Params.Arguments; len(raw) > 0 {
			args = string(raw)
		}
		payload, err := s.registry.Invoke(ctx, name, args)
		if err != nil {
			s.log.Warn().Err(err).Str("function", name).Msg("Tool failed")
			res := &sdkmcp.CallToolResult{}
			res.SetError(err)
			return res, nil
		}
		text, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s result: %w", name, err)
		}
		ok, _ := payload["ok"].(bool)
		s.log.Debug().Str("function", name).Bool("ok", ok).Msg("Tool call")
		return &sdkmcp.CallToolResult{
			Content:           []sdkmcp.Content{&sdkmcp.TextContent{Text: string(text)}},
			StructuredContent: payload,
			IsError:           !ok,
		}, nil
	}
}

// --- Session tools ---

type askInput struct {
	Question  string `json:"question" jsonschema:"natural-language question to answer"`
	TableID   string `json:"table_id,omitempty" jsonschema:"optional table to start from"`
	SessionID string `json:"session_id,omitempty" jsonschema:"optional session id, generated when empty"`
	MaxHops   int    `json:"max_hops,omitempty" jsonschema:"optional hop bound, clamped to the configured ceiling"`
}

type transcriptInput struct {
	SessionID string `json:"session_id" jsonschema:"session id returned by ask"`
}

type transcriptOutput struct {
	SessionID string                  `json:"session_id"`
	Entries   []model.TranscriptEntry `json:"entries"`
}

func (s *Server) registerSessionTools() {
	if s.runner != nil {
		sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
			Name:        ToolAsk,
			Description: "Answer a question over the table and passage corpus. Returns the final answer with reasoning, functions called, metrics and sources.",
		}, s.handleAsk)
	}
	if s.transcripts != nil {
		sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
			Name:        ToolTranscript,
			Description: "Load the recorded transcript of a session: oracle calls, tool calls and the final result.",
		}, s.handleTranscript)
	}
}

func (s *Server) handleAsk(ctx context.Context, _ *sdkmcp.CallToolRequest, in askInput) (*sdkmcp.CallToolResult, any, error) {
	if strings.TrimSpace(in.Question) == "" {
		return nil, nil, fmt.Errorf("question is required")
	}
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = "mcp-" + uuid.NewString()
	}
	s.log.Info().Str("session_id", sessionID).Msg("Ask received")

	res, err := s.runner.Invoke(ctx, model.QueryInput{
		SessionID: sessionID,
		Question:  model.Question{Text: in.Question, TableID: in.TableID},
		MaxHops:   in.MaxHops,
	})
	if err != nil {
		if code := errx.CodeOf(err); code != "" {
			return nil, nil, fmt.Errorf("session %s failed (%s): %w", sessionID, code, err)
		}
		return nil, nil, fmt.Errorf("session %s failed: %w", sessionID, err)
	}
	return nil, res, nil
}

// Entries carry raw JSON payloads, so the output has no declared schema.
func (s *Server) handleTranscript(ctx context.Context, _ *sdkmcp.CallToolRequest, in transcriptInput) (*sdkmcp.CallToolResult, any, error) {
	id := strings.TrimSpace(in.SessionID)
	if id == "" {
		return nil, nil, fmt.Errorf("session_id is required")
	}
	t, err := s.transcripts.Load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	entries := t.Entries
	if entries == nil {
		entries = []model.TranscriptEntry{}
	}
	return nil, transcriptOutput{SessionID: id, Entries: entries}, nil
}
