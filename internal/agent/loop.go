// Package agent implements the tool-use loop driving one model against one
// chat's history: history resume/build/compaction, hook checkpoints, tool
// dispatch, and trace sanitization (spec.md §4.G).
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/0x7f/microclaw/internal/hooks"
	"github.com/0x7f/microclaw/internal/providers"
	"github.com/0x7f/microclaw/internal/store"
	"github.com/0x7f/microclaw/internal/tools"
)

const maxToolIterationsReachedText = "reached the maximum number of tool iterations"

// Config are the per-loop tunables read from agent defaults.
type Config struct {
	Model              string
	MaxTokens          int
	SystemPrompt       string
	MaxToolIterations  int
	MaxSessionMessages int
	CompactKeepRecent  int
	MaxHistoryMessages int
}

// RequestContext identifies the caller driving one run (§4.G inputs).
type RequestContext struct {
	CallerChannel string
	ChatID        store.ChatId
	ChatType      string
}

// Request is the full input to one Engine.Run call.
type Request struct {
	Context        RequestContext
	OverridePrompt string        // scheduler path; "" means none
	Image          *ImagePayload // optional inbound image
	ControlChatIDs []string
	Sink           Sink
}

// Engine drives the tool-use loop for one agent against the shared store,
// tool registry, and hook manager.
type Engine struct {
	Provider providers.Provider
	Tools    *tools.Registry
	Hooks    *hooks.Manager
	Store    store.Facade
	Config   Config
}

// Run executes §4.G steps 1 through 4 and returns the final assistant text.
func (e *Engine) Run(ctx context.Context, req Request) (string, error) {
	trace, err := buildOrResumeHistory(ctx, e.Store, req.Context.ChatID, req.Context.ChatType, e.Config.MaxHistoryMessages)
	if err != nil {
		return "", err
	}

	if req.OverridePrompt != "" {
		trace = augmentWithOverridePrompt(trace, req.OverridePrompt)
	}
	if req.Image != nil {
		trace = appendImageToLastUserMessage(trace, *req.Image)
	}

	trace, err = compactIfOverThreshold(ctx, e.Provider, e.Config.Model, trace, e.Config.MaxSessionMessages, e.Config.CompactKeepRecent)
	if err != nil {
		return "", err
	}

	auth := tools.AuthContext{
		CallerChannel:  req.Context.CallerChannel,
		CallerChatID:   strconv.FormatInt(int64(req.Context.ChatID), 10),
		ControlChatIDs: req.ControlChatIDs,
	}

	maxIter := e.Config.MaxToolIterations
	if maxIter <= 0 {
		maxIter = 20
	}

	for iteration := 0; iteration < maxIter; iteration++ {
		trace = SanitizeTrace(trace)

		outcome, err := e.Hooks.Run(ctx, hooks.BeforeLLMCall, map[string]interface{}{
			"chat_id":        req.Context.ChatID,
			"caller_channel": req.Context.CallerChannel,
			"iteration":      iteration,
			"system_prompt":  e.Config.SystemPrompt,
			"messages_len":   len(trace),
			"tools_len":      len(e.Tools.ProviderDefs()),
		})
		if err != nil {
			return "", fmt.Errorf("agent: BeforeLLMCall hooks: %w", err)
		}
		if outcome.Action == hooks.ActionBlock {
			emit(req.Sink, Event{Kind: EventDone, Final: outcome.Reason})
			return outcome.Reason, nil
		}

		emit(req.Sink, Event{Kind: EventStatus, Text: "calling model"})

		resp, err := e.Provider.SendMessageStream(ctx, providers.ChatRequest{
			System:    e.Config.SystemPrompt,
			Messages:  trace,
			Tools:     e.Tools.ProviderDefs(),
			Model:     e.Config.Model,
			MaxTokens: e.Config.MaxTokens,
		}, func(delta string) {
			emit(req.Sink, Event{Kind: EventTextDelta, Text: delta})
		})
		if err != nil {
			emit(req.Sink, Event{Kind: EventError, Err: err.Error()})
			return "", fmt.Errorf("agent: provider call: %w", err)
		}

		switch resp.StopReason {
		case providers.StopToolUse:
			trace, err = e.runToolTurn(ctx, trace, resp, auth, req.Sink)
			if err != nil {
				return "", err
			}
			continue
		default:
			text := resp.TextOnly()
			trace = append(trace, providers.AssistantText(text))
			if err := e.persist(ctx, req.Context.ChatID, trace); err != nil {
				return "", err
			}
			emit(req.Sink, Event{Kind: EventDone, Final: text})
			return text, nil
		}
	}

	trace = append(trace, providers.AssistantText(maxToolIterationsReachedText))
	if err := e.persist(ctx, req.Context.ChatID, trace); err != nil {
		return "", err
	}
	emit(req.Sink, Event{Kind: EventDone, Final: maxToolIterationsReachedText})
	return maxToolIterationsReachedText, nil
}

// runToolTurn executes §4.G step 4's tool_use branch: push the assistant's
// tool-call message, run each tool with hook checkpoints, and assemble the
// follow-up user message carrying the tool results.
func (e *Engine) runToolTurn(ctx context.Context, trace []providers.Message, resp *providers.ChatResponse, auth tools.AuthContext, sink Sink) ([]providers.Message, error) {
	var assistantBlocks []providers.ContentBlock
	for _, b := range resp.Content {
		switch b.Type {
		case providers.BlockText:
			assistantBlocks = append(assistantBlocks, providers.TextBlock(b.Text))
		case providers.BlockToolUse:
			assistantBlocks = append(assistantBlocks, providers.ToolUseBlock(b.ToolUseID, b.ToolName, b.ToolInput))
		}
	}
	trace = append(trace, providers.AssistantBlocks(assistantBlocks...))

	var resultBlocks []providers.ContentBlock
	for _, b := range resp.ToolUses() {
		emit(sink, Event{Kind: EventToolStart, ToolName: b.ToolName, ToolUseID: b.ToolUseID})

		outcome, err := e.Hooks.Run(ctx, hooks.BeforeToolCall, map[string]interface{}{
			"tool_name":   b.ToolName,
			"tool_use_id": b.ToolUseID,
			"input":       json.RawMessage(b.ToolInput),
		})
		if err != nil {
			return nil, fmt.Errorf("agent: BeforeToolCall hooks: %w", err)
		}
		if outcome.Action == hooks.ActionBlock {
			resultBlocks = append(resultBlocks, providers.ToolResultBlock(b.ToolUseID, outcome.Reason, true))
			emit(sink, Event{Kind: EventToolResult, ToolName: b.ToolName, ToolUseID: b.ToolUseID, ToolResult: outcome.Reason, IsError: true})
			continue
		}

		result := e.Tools.Execute(ctx, b.ToolName, b.ToolInput, auth)
		resultBlocks = append(resultBlocks, providers.ToolResultBlock(b.ToolUseID, result.Content, result.IsError))
		emit(sink, Event{Kind: EventToolResult, ToolName: b.ToolName, ToolUseID: b.ToolUseID, ToolResult: result.Content, IsError: result.IsError})

		if _, err := e.Hooks.Run(ctx, hooks.AfterToolCall, map[string]interface{}{
			"tool_name":   b.ToolName,
			"tool_use_id": b.ToolUseID,
			"is_error":    result.IsError,
			"content":     result.Content,
		}); err != nil {
			return nil, fmt.Errorf("agent: AfterToolCall hooks: %w", err)
		}
	}

	trace = append(trace, providers.UserBlocks(resultBlocks...))
	return trace, nil
}

func (e *Engine) persist(ctx context.Context, chatID store.ChatId, trace []providers.Message) error {
	sanitized := SanitizeTrace(trace)
	sanitized = stripImagesForPersistence(sanitized)
	return e.Store.SaveSession(ctx, store.Session{ChatID: chatID, Trace: sanitized, UpdatedAt: time.Now()})
}
