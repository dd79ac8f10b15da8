package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptedLLM replies from a queue and records every request.
type scriptedLLM struct {
	mu       sync.Mutex
	replies  []Message
	requests []ChatRequest
	err      error
}

func (s *scriptedLLM) Name() string { return "scripted" }

func (s *scriptedLLM) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return ChatResponse{}, s.err
	}
	if len(s.replies) == 0 {
		return ChatResponse{}, errors.New("script exhausted")
	}
	m := s.replies[0]
	s.replies = s.replies[1:]
	return ChatResponse{Message: m, Usage: Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

type fakeTools struct {
	calls []ToolCall
	fail  bool
}

func (f *fakeTools) Specs() []ToolSpec {
	return []ToolSpec{{Name: "web_search", Description: "search", Parameters: json.RawMessage(`{"type":"object"}`)}}
}

func (f *fakeTools) Execute(_ context.Context, call ToolCall) (string, error) {
	f.calls = append(f.calls, call)
	if f.fail {
		return "", errors.New("quota exceeded")
	}
	return `[{"title":"result for ` + call.ID + `"}]`, nil
}

func searchCall(id string) Message {
	return Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: id, Name: "web_search", Arguments: json.RawMessage(`{"query":"x"}`)}}}
}

func testPipeline(llm LLMProvider, tools ToolExecutor, maxSteps int) *Pipeline {
	p := NewPipeline(log.New(io.Discard, "", 0), llm, tools, PipelineConfig{MaxSteps: maxSteps}, nil)
	p.now = func() time.Time { return time.Date(2025, time.March, 7, 12, 0, 0, 0, time.UTC) }
	return p
}

func TestPipelineHappyPath(t *testing.T) {
	llm := &scriptedLLM{replies: []Message{
		searchCall("c1"),
		{Content: "findings"},
		{Content: "analysis"},
		{Content: "# Title\n## Key Takeaways"},
	}}
	tools := &fakeTools{}
	st, err := testPipeline(llm, tools, 20).Run(context.Background(), "solid state batteries")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Report != "# Title\n## Key Takeaways" {
		t.Fatalf("unexpected report %q", st.Report)
	}
	want := []string{NodeResearcher, NodeTools, NodeResearcher, NodeAnalyst, NodeStrategist}
	if strings.Join(st.Trace, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected trace %v", st.Trace)
	}
	if st.Steps != 5 {
		t.Fatalf("expected 5 steps, got %d", st.Steps)
	}
	// topic, call, tool result, findings, analysis, report
	if len(st.Messages) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(st.Messages))
	}
	if st.Messages[2].Role != RoleTool || st.Messages[2].ToolCallID != "c1" {
		t.Fatalf("unexpected tool message %+v", st.Messages[2])
	}

	if len(llm.requests[0].Tools) != 1 {
		t.Fatalf("researcher must be bound to the search tool")
	}
	if len(llm.requests[2].Tools) != 0 || len(llm.requests[3].Tools) != 0 {
		t.Fatalf("analyst and strategist must not get tools")
	}
	sys := llm.requests[0].Messages[0]
	if sys.Role != RoleSystem || !strings.Contains(sys.Content, "Today is March 7, 2025") || !strings.Contains(sys.Content, "(2025)") {
		t.Fatalf("unexpected researcher prompt %q", sys.Content)
	}
	if !strings.Contains(llm.requests[2].Messages[0].Content, "Data Analyst") {
		t.Fatalf("analyst prompt missing")
	}
	if !strings.Contains(llm.requests[3].Messages[0].Content, "Content Strategist") {
		t.Fatalf("strategist prompt missing")
	}
	// system prompts never enter the shared history
	for _, m := range st.Messages {
		if m.Role == RoleSystem {
			t.Fatalf("system message leaked into history")
		}
	}
}

func TestPipelineRunsEveryToolCall(t *testing.T) {
	multi := Message{Role: RoleAssistant, ToolCalls: []ToolCall{
		{ID: "a", Name: "web_search", Arguments: json.RawMessage(`{}`)},
		{ID: "b", Name: "web_search", Arguments: json.RawMessage(`{}`)},
	}}
	llm := &scriptedLLM{replies: []Message{multi, {Content: "f"}, {Content: "a"}, {Content: "r"}}}
	tools := &fakeTools{}
	st, err := testPipeline(llm, tools, 20).Run(context.Background(), "t")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tools.calls) != 2 {
		t.Fatalf("expected 2 tool executions, got %d", len(tools.calls))
	}
	if st.Messages[2].ToolCallID != "a" || st.Messages[3].ToolCallID != "b" {
		t.Fatalf("tool messages out of order: %+v", st.Messages[2:4])
	}
}

func TestPipelineToolErrorBecomesMessage(t *testing.T) {
	llm := &scriptedLLM{replies: []Message{searchCall("c1"), {Content: "f"}, {Content: "a"}, {Content: "r"}}}
	st, err := testPipeline(llm, &fakeTools{fail: true}, 20).Run(context.Background(), "t")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(st.Messages[2].Content, "quota exceeded") {
		t.Fatalf("expected tool error in history, got %q", st.Messages[2].Content)
	}
}

func TestPipelineStepLimit(t *testing.T) {
	var replies []Message
	for i := 0; i < 10; i++ {
		replies = append(replies, searchCall("loop"))
	}
	llm := &scriptedLLM{replies: replies}
	st, err := testPipeline(llm, &fakeTools{}, 5).Run(context.Background(), "t")
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("expected ErrStepLimit, got %v", err)
	}
	if st.Steps != 5 {
		t.Fatalf("expected 5 steps, got %d", st.Steps)
	}
}

func TestPipelineExactStepBudget(t *testing.T) {
	llm := &scriptedLLM{replies: []Message{{Content: "f"}, {Content: "a"}, {Content: "r"}}}
	if _, err := testPipeline(llm, &fakeTools{}, 3).Generate(context.Background(), "t"); err != nil {
		t.Fatalf("three nodes fit in three steps: %v", err)
	}
}

func TestPipelineEmptyReport(t *testing.T) {
	llm := &scriptedLLM{replies: []Message{{Content: "f"}, {Content: "a"}, {Content: "  "}}}
	if _, err := testPipeline(llm, nil, 20).Generate(context.Background(), "t"); !errors.Is(err, ErrEmptyReport) {
		t.Fatalf("expected ErrEmptyReport, got %v", err)
	}
}

func TestPipelineLLMError(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("503 Service Unavailable")}
	_, err := testPipeline(llm, nil, 20).Generate(context.Background(), "t")
	if err == nil || !strings.Contains(err.Error(), "researcher: 503") {
		t.Fatalf("expected wrapped researcher error, got %v", err)
	}
}

func TestPipelineCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	llm := &scriptedLLM{replies: []Message{{Content: "f"}}}
	if _, err := testPipeline(llm, nil, 20).Generate(ctx, "t"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(llm.requests) != 0 {
		t.Fatalf("no model call expected after cancellation")
	}
}

func TestPipelineWithoutTools(t *testing.T) {
	llm := &scriptedLLM{replies: []Message{searchCall("c1"), {Content: "f"}, {Content: "a"}, {Content: "r"}}}
	st, err := testPipeline(llm, nil, 20).Run(context.Background(), "t")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(st.Messages[2].Content, "not available") {
		t.Fatalf("expected unavailable tool message, got %q", st.Messages[2].Content)
	}
}
