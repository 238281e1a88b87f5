package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"github.com/hybridqa-core/server/internal/agent/model"
	logx "github.com/hybridqa-core/server/pkg/logger"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	Planner  *model.PlannerModelConfig
	Analysis *model.AnalysisModelConfig
}

// ChatModels holds the planner and analysis chat models
type ChatModels struct {
	Planner           *gemini.ChatModel
	Analysis          *gemini.ChatModel
	PlannerModelName  string
	AnalysisModelName string
}

// NewGeminiClient creates the genai client shared by chat models and embeddings.
func NewGeminiClient(ctx context.Context, apiKey, baseURL string) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		clientCfg.HTTPOptions.BaseURL = baseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return client, nil
}

// NewChatModels creates the planner and analysis chat models on one client
func NewChatModels(ctx context.Context, client *genai.Client, config ChatModelConfig) (*ChatModels, error) {
	if config.Planner == nil || config.Analysis == nil {
		return nil, fmt.Errorf("planner and analysis model configs are required")
	}

	// Routing is a short classification: no thinking budget.
	chatModelPlanner, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.Planner.Model,
		Temperature: &config.Planner.Temperature,
		MaxTokens:   &config.Planner.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(int32(0)),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating planner model")
		return nil, fmt.Errorf("error creating planner model: %w", err)
	}

	chatModelAnalysis, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.Analysis.Model,
		Temperature: &config.Analysis.Temperature,
		MaxTokens:   &config.Analysis.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(int32(2000)),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating analysis model")
		return nil, fmt.Errorf("error creating analysis model: %w", err)
	}

	return &ChatModels{
		Planner:           chatModelPlanner,
		Analysis:          chatModelAnalysis,
		PlannerModelName:  config.Planner.Model,
		AnalysisModelName: config.Analysis.Model,
	}, nil
}
