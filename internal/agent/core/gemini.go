package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

var ErrNoCandidates = errors.New("no candidates")

// GeminiProvider implements LLMProvider on the Gemini API generateContent call.
type GeminiProvider struct {
	client  *genai.Client
	model   string
	retries int
	backoff time.Duration
}

// NewGeminiProvider builds a client for the Gemini API. baseURL overrides the
// public endpoint and is mostly useful in tests.
func NewGeminiProvider(ctx context.Context, apiKey, baseURL, model string, timeout time.Duration, retries int) (*GeminiProvider, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if baseURL != "" {
		cc.HTTPOptions.BaseURL = baseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model, retries: retries, backoff: 300 * time.Millisecond}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	contents, gcfg, err := toGeminiRequest(req)
	if err != nil {
		return ChatResponse{}, err
	}

	var resp *genai.GenerateContentResponse
	for attempt := 0; attempt <= p.retries; attempt++ {
		resp, err = p.client.Models.GenerateContent(ctx, model, contents, gcfg)
		if err == nil || !retryableGemini(err) || attempt == p.retries {
			break
		}
		select {
		case <-time.After(p.backoff * time.Duration(1<<attempt)):
		case <-ctx.Done():
			return ChatResponse{}, ctx.Err()
		}
	}
	if err != nil {
		return ChatResponse{}, fmt.Errorf("gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return ChatResponse{}, fmt.Errorf("gemini: %w (blocked: %s)", ErrNoCandidates, resp.PromptFeedback.BlockReason)
		}
		return ChatResponse{}, fmt.Errorf("gemini: %w", ErrNoCandidates)
	}

	msg := Message{Role: RoleAssistant}
	var texts []string
	for i, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part == nil:
		case part.FunctionCall != nil:
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
			}
			args := json.RawMessage(`{}`)
			if len(part.FunctionCall.Args) > 0 {
				if args, err = json.Marshal(part.FunctionCall.Args); err != nil {
					return ChatResponse{}, fmt.Errorf("gemini: call %s args: %w", part.FunctionCall.Name, err)
				}
			}
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:               id,
				Name:             part.FunctionCall.Name,
				Arguments:        args,
				ThoughtSignature: part.ThoughtSignature,
			})
		case part.Thought:
		case part.Text != "":
			texts = append(texts, part.Text)
		}
	}
	msg.Content = strings.Join(texts, " ")

	var usage Usage
	if u := resp.UsageMetadata; u != nil {
		usage = Usage{InputTokens: int64(u.PromptTokenCount), OutputTokens: int64(u.CandidatesTokenCount)}
	}
	return ChatResponse{Message: msg, Usage: usage}, nil
}

func retryableGemini(err error) bool {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	default:
		return false
	}
	return code == http.StatusTooManyRequests || code >= 500
}

// toGeminiRequest maps the shared history onto Gemini contents. System
// messages become the system instruction and consecutive tool results
// travel in one user turn.
func toGeminiRequest(req ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	gcfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		gcfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	var (
		contents []*genai.Content
		system   []string
	)
	callNames := map[string]string{}
	lastIsToolTurn := false

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
			continue
		case RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case RoleAssistant:
			c := &genai.Content{Role: string(genai.RoleModel)}
			if m.Content != "" {
				c.Parts = append(c.Parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				callNames[tc.ID] = tc.Name
				var args map[string]any
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &args); err != nil {
						return nil, nil, fmt.Errorf("gemini: call %s args: %w", tc.Name, err)
					}
				}
				c.Parts = append(c.Parts, &genai.Part{
					FunctionCall:     &genai.FunctionCall{Name: tc.Name, Args: args},
					ThoughtSignature: tc.ThoughtSignature,
				})
			}
			if len(c.Parts) == 0 {
				c.Parts = []*genai.Part{{Text: ""}}
			}
			contents = append(contents, c)
		case RoleTool:
			name := m.Name
			if name == "" {
				name = callNames[m.ToolCallID]
			}
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{Name: name, Response: map[string]any{"result": m.Content}}}
			if lastIsToolTurn {
				last := contents[len(contents)-1]
				last.Parts = append(last.Parts, part)
				continue
			}
			contents = append(contents, &genai.Content{Role: string(genai.RoleUser), Parts: []*genai.Part{part}})
			lastIsToolTurn = true
			continue
		default:
			return nil, nil, fmt.Errorf("gemini: unsupported role %q", m.Role)
		}
		lastIsToolTurn = false
	}
	if len(system) > 0 {
		gcfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			params, err := geminiSchema(t.Parameters)
			if err != nil {
				return nil, nil, fmt.Errorf("tool %s schema: %w", t.Name, err)
			}
			decls = append(decls, &genai.FunctionDeclaration{Name: t.Name, Description: t.Description, ParametersJsonSchema: params})
		}
		gcfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return contents, gcfg, nil
}

// geminiSchema drops JSON schema keywords the function declaration format rejects.
func geminiSchema(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return stripSchemaKeys(doc), nil
}

func stripSchemaKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			switch k {
			case "$schema", "$id", "additionalProperties":
				continue
			}
			out[k] = stripSchemaKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = stripSchemaKeys(val)
		}
		return out
	}
	return v
}
