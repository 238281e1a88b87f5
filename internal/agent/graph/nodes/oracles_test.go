package nodes

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/go-cmp/cmp"

	"github.com/hybridqa-core/server/internal/agent/model"
	errx "github.com/hybridqa-core/server/internal/core/error"
)

// fakeChat replies with a fixed message and keeps the prompts it was sent.
type fakeChat struct {
	reply  *schema.Message
	err    error
	inputs [][]*schema.Message
}

func (f *fakeChat) Generate(ctx context.Context, in []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

func (f *fakeChat) Stream(ctx context.Context, in []*schema.Message, _ ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming is not used")
}

func reply(content string, prompt, completion int) *schema.Message {
	msg := schema.AssistantMessage(content, nil)
	if prompt > 0 || completion > 0 {
		msg.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		}}
	}
	return msg
}

var oracleView = model.TurnView{
	SessionID: "s1",
	Question:  model.Question{Text: "Who built the mosque in Herat?"},
	Turn:      1,
	MaxHops:   4,
}

func TestChatPlanner(t *testing.T) {
	tests := []struct {
		name      string
		chat      *fakeChat
		wantRoute model.Route
		wantValid bool
		wantCost  float64
		wantCode  errx.Code
		wantErr   bool
	}{
		{
			name:      "plain reply with usage",
			chat:      &fakeChat{reply: reply(`{"next":"analyze","rationale":"no evidence yet"}`, 1000, 200)},
			wantRoute: model.RouteAnalyze,
			wantValid: true,
			// 1000 * 0.30/1M + 200 * 2.50/1M
			wantCost: 0.0008,
		},
		{
			name:      "fenced reply",
			chat:      &fakeChat{reply: reply("```json\n{\"next\": \"extract\", \"rationale\": \"one request pending\"}\n```", 0, 0)},
			wantRoute: model.RouteExtract,
			wantValid: true,
		},
		{
			name:      "unknown route reaches the orchestrator",
			chat:      &fakeChat{reply: reply(`{"next":"summarize","rationale":"?"}`, 0, 0)},
			wantRoute: model.Route("summarize"),
		},
		{
			name:     "prose without json",
			chat:     &fakeChat{reply: reply("I would analyze next.", 0, 0)},
			wantErr:  true,
			wantCode: errx.CodeSchemaViolation,
		},
		{
			name:    "generate error",
			chat:    &fakeChat{err: errors.New("503 overloaded")},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewChatPlanner(tt.chat, "gemini-2.5-flash")
			dec, err := p.Plan(context.Background(), oracleView)
			if len(tt.chat.inputs) != 1 {
				t.Fatalf("generate called %d times", len(tt.chat.inputs))
			}
			msgs := tt.chat.inputs[0]
			if len(msgs) != 2 || msgs[0].Role != schema.System || !strings.Contains(msgs[1].Content, oracleView.Question.Text) {
				t.Fatalf("unexpected prompt: %+v", msgs)
			}
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got %+v", dec)
				}
				if got := errx.CodeOf(err); got != tt.wantCode {
					t.Fatalf("code = %q, want %q", got, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if dec.Next != tt.wantRoute || dec.Next.Valid() != tt.wantValid {
				t.Fatalf("route = %q valid=%v", dec.Next, dec.Next.Valid())
			}
			if math.Abs(dec.CostUSD-tt.wantCost) > 1e-12 {
				t.Fatalf("cost = %v, want %v", dec.CostUSD, tt.wantCost)
			}
		})
	}
}

func TestChatAnalyst(t *testing.T) {
	content := "Here is my analysis:\n```json\n" + `{
		"sufficient": true,
		"rationale": "the table names the builder",
		"answer": "Ghiyath al-Din Muhammad",
		"sources": ["t_mosques"],
		"metrics": [{"name": "rows", "op": "count", "table_id": "t_mosques", "column": "Name"}]
	}` + "\n```"
	chat := &fakeChat{reply: reply(content, 2000, 0)}
	a := NewChatAnalyst(chat, "gemini-2.5-pro", 3)

	got, err := a.Analyze(context.Background(), oracleView)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(chat.inputs[0][0].Content, "at most 3 requests") {
		t.Fatal("analysis prompt should carry the request limit")
	}
	if !got.Sufficient || got.Answer != "Ghiyath al-Din Muhammad" {
		t.Fatalf("unexpected analysis: %+v", got)
	}
	if diff := cmp.Diff([]string{"t_mosques"}, got.Sources); diff != "" {
		t.Fatalf("sources mismatch (-want +got):\n%s", diff)
	}
	wantMetrics := []model.MetricRequest{{Name: "rows", Op: "count", TableID: "t_mosques", Column: "Name"}}
	if diff := cmp.Diff(wantMetrics, got.Metrics); diff != "" {
		t.Fatalf("metrics mismatch (-want +got):\n%s", diff)
	}
	// 2000 * 1.25/1M
	if math.Abs(got.CostUSD-0.0025) > 1e-12 {
		t.Fatalf("cost = %v", got.CostUSD)
	}

	bad := &fakeChat{reply: reply(`{"sufficient": "yes"}`, 0, 0)}
	if _, err := NewChatAnalyst(bad, "gemini-2.5-pro", 3).Analyze(context.Background(), oracleView); errx.CodeOf(err) != errx.CodeSchemaViolation {
		t.Fatalf("err = %v, want a schema violation", err)
	}

	empty := &fakeChat{}
	if _, err := NewChatAnalyst(empty, "gemini-2.5-pro", 3).Analyze(context.Background(), oracleView); err == nil || errx.IsFatal(err) {
		t.Fatalf("an empty reply should be a recoverable error, got %v", err)
	}
}
