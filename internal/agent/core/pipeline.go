package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/autostrat/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrStepLimit   = errors.New("step limit reached")
	ErrEmptyReport = errors.New("no report generated")
)

// Node names of the report graph.
const (
	NodeResearcher = "researcher"
	NodeTools      = "tools"
	NodeAnalyst    = "analyst"
	NodeStrategist = "strategist"
	nodeEnd        = "__end__"
)

type PipelineConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
	// MaxSteps caps node executions for one run.
	MaxSteps int
}

// State is the data flowing through the graph. Messages only grows.
type State struct {
	Messages []Message
	Report   string
	Steps    int
	Trace    []string
}

// Pipeline runs researcher -> (tools -> researcher)* -> analyst -> strategist.
type Pipeline struct {
	logger  *log.Logger
	llm     LLMProvider
	tools   ToolExecutor
	cfg     PipelineConfig
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

func NewPipeline(logger *log.Logger, llm LLMProvider, tools ToolExecutor, cfg PipelineConfig, m *metrics.Metrics) *Pipeline {
	if logger == nil {
		logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 20
	}
	return &Pipeline{
		logger:  logger,
		llm:     llm,
		tools:   tools,
		cfg:     cfg,
		metrics: m,
		tracer:  otel.Tracer("autostrat/pipeline"),
		now:     time.Now,
	}
}

// Generate returns the strategist's report for topic.
func (p *Pipeline) Generate(ctx context.Context, topic string) (string, error) {
	st, err := p.Run(ctx, topic)
	if err != nil {
		return "", err
	}
	return st.Report, nil
}

// Run executes the graph and returns the final state, which is also
// returned on failure for inspection.
func (p *Pipeline) Run(ctx context.Context, topic string) (*State, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(attribute.Int("max_steps", p.cfg.MaxSteps)))
	defer span.End()

	state := &State{Messages: []Message{{Role: RoleUser, Content: topic}}}
	node := NodeResearcher
	for node != nodeEnd {
		if err := ctx.Err(); err != nil {
			return state, p.fail(span, err)
		}
		if state.Steps >= p.cfg.MaxSteps {
			return state, p.fail(span, fmt.Errorf("%w: %d steps without reaching the end of the graph", ErrStepLimit, p.cfg.MaxSteps))
		}
		state.Steps++
		state.Trace = append(state.Trace, node)
		p.metrics.PipelineStep(node)

		next, err := p.step(ctx, node, state)
		if err != nil {
			return state, p.fail(span, fmt.Errorf("%s: %w", node, err))
		}
		node = next
	}
	if strings.TrimSpace(state.Report) == "" {
		return state, p.fail(span, ErrEmptyReport)
	}
	span.SetAttributes(attribute.Int("steps", state.Steps))
	p.logger.Printf("report ready after %d steps (%s)", state.Steps, strings.Join(state.Trace, " -> "))
	return state, nil
}

func (p *Pipeline) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (p *Pipeline) step(ctx context.Context, node string, state *State) (string, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline."+node)
	defer span.End()

	var (
		next string
		err  error
	)
	switch node {
	case NodeResearcher:
		next, err = p.research(ctx, state)
	case NodeTools:
		next, err = p.runTools(ctx, state)
	case NodeAnalyst:
		_, err = p.chat(ctx, state, analystPrompt, nil)
		next = NodeStrategist
	case NodeStrategist:
		var reply Message
		reply, err = p.chat(ctx, state, strategistPrompt, nil)
		state.Report = reply.Content
		next = nodeEnd
	default:
		err = fmt.Errorf("unknown node %q", node)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return next, err
}

func (p *Pipeline) research(ctx context.Context, state *State) (string, error) {
	var specs []ToolSpec
	if p.tools != nil {
		specs = p.tools.Specs()
	}
	reply, err := p.chat(ctx, state, researcherPrompt(p.now()), specs)
	if err != nil {
		return "", err
	}
	if len(reply.ToolCalls) > 0 {
		return NodeTools, nil
	}
	return NodeAnalyst, nil
}

// runTools answers every call of the last assistant message with one tool message.
func (p *Pipeline) runTools(ctx context.Context, state *State) (string, error) {
	last := state.Messages[len(state.Messages)-1]
	for _, call := range last.ToolCalls {
		content := p.execTool(ctx, call)
		state.Messages = append(state.Messages, Message{Role: RoleTool, Content: content, ToolCallID: call.ID, Name: call.Name})
	}
	return NodeResearcher, nil
}

func (p *Pipeline) execTool(ctx context.Context, call ToolCall) string {
	ctx, span := p.tracer.Start(ctx, "tool."+call.Name, trace.WithAttributes(attribute.String("tool.call_id", call.ID)))
	defer span.End()

	if p.tools == nil {
		p.metrics.ToolCall(call.Name, "error")
		return fmt.Sprintf("Error: tool %s is not available. Please fix your mistakes.", call.Name)
	}
	out, err := p.tools.Execute(ctx, call)
	if err != nil {
		p.logger.Printf("tool %s failed: %v", call.Name, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.metrics.ToolCall(call.Name, "error")
		return fmt.Sprintf("Error: %v. Please fix your mistakes.", err)
	}
	p.metrics.ToolCall(call.Name, "ok")
	return out
}

// chat sends the system prompt plus the full history, appends the reply and returns it.
func (p *Pipeline) chat(ctx context.Context, state *State, system string, tools []ToolSpec) (Message, error) {
	msgs := make([]Message, 0, len(state.Messages)+1)
	msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	msgs = append(msgs, state.Messages...)

	resp, err := p.llm.Chat(ctx, ChatRequest{
		Model:       p.cfg.Model,
		Messages:    msgs,
		Tools:       tools,
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	})
	if err != nil {
		return Message{}, err
	}
	p.metrics.LLMTokens(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	reply := resp.Message
	reply.Role = RoleAssistant
	state.Messages = append(state.Messages, reply)
	return reply, nil
}
