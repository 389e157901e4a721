package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/0x7f/microclaw/internal/providers"
	"github.com/0x7f/microclaw/internal/store"
)

const compactionRenderBudget = 20 * 1024

// buildOrResumeHistory implements §4.G step 1: resume a persisted session trace
// and append messages landed since it was last saved, or else build a fresh
// trace from the messages table.
func buildOrResumeHistory(ctx context.Context, facade store.Facade, chatID store.ChatId, chatType string, maxHistoryMessages int) ([]providers.Message, error) {
	sess, ok, err := facade.LoadSession(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("agent: load session: %w", err)
	}
	if ok {
		trace := append([]providers.Message(nil), sess.Trace...)
		newMsgs, err := facade.GetNewUserMessagesSince(ctx, chatID, sess.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("agent: get new messages: %w", err)
		}
		return appendNewUserMessages(trace, newMsgs), nil
	}

	all, err := facade.GetAllMessages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("agent: get all messages: %w", err)
	}
	selected := selectHistoryWindow(all, chatType, maxHistoryMessages)
	return buildAlternatingTrace(selected), nil
}

// appendNewUserMessages formats each message as "[sender]: text" and merges
// consecutive additions into one user message (§4.G step 1, resume path).
func appendNewUserMessages(trace []providers.Message, msgs []store.StoredMessage) []providers.Message {
	for _, msg := range msgs {
		line := fmt.Sprintf("[%s]: %s", msg.SenderName, msg.Content)
		if n := len(trace); n > 0 && trace[n-1].Role == "user" && !trace[n-1].HasBlocks() {
			trace[n-1].Text = trace[n-1].Text + "\n" + line
			continue
		}
		trace = append(trace, providers.UserText(line))
	}
	return trace
}

// selectHistoryWindow picks the messages table rows that seed a fresh trace
// (§4.G step 1, cold-start path): for group chats, everything since the last
// bot response capped at maxHistoryMessages; for private chats, simply the
// last maxHistoryMessages rows.
func selectHistoryWindow(all []store.StoredMessage, chatType string, maxHistoryMessages int) []store.StoredMessage {
	if strings.Contains(chatType, "group") {
		lastBot := -1
		for i := len(all) - 1; i >= 0; i-- {
			if all[i].IsFromBot {
				lastBot = i
				break
			}
		}
		if lastBot >= 0 {
			all = all[lastBot+1:]
		}
	}
	if maxHistoryMessages > 0 && len(all) > maxHistoryMessages {
		all = all[len(all)-maxHistoryMessages:]
	}
	return all
}

// buildAlternatingTrace groups consecutive same-sender-kind rows (all-user vs
// bot) into single user/assistant messages, producing the initial trace.
func buildAlternatingTrace(msgs []store.StoredMessage) []providers.Message {
	var trace []providers.Message
	var buf []string
	var bufIsBot bool

	flush := func() {
		if len(buf) == 0 {
			return
		}
		text := strings.Join(buf, "\n")
		if bufIsBot {
			trace = append(trace, providers.AssistantText(text))
		} else {
			trace = append(trace, providers.UserText(text))
		}
		buf = nil
	}

	for _, m := range msgs {
		if len(buf) > 0 && m.IsFromBot != bufIsBot {
			flush()
		}
		bufIsBot = m.IsFromBot
		if m.IsFromBot {
			buf = append(buf, m.Content)
		} else {
			buf = append(buf, fmt.Sprintf("[%s]: %s", m.SenderName, m.Content))
		}
	}
	flush()
	return trace
}

// augmentWithOverridePrompt implements §4.G step 2's scheduler path.
func augmentWithOverridePrompt(trace []providers.Message, prompt string) []providers.Message {
	return append(trace, providers.UserText("[scheduler]: "+prompt))
}

// compactIfOverThreshold implements §4.G step 3: once the trace exceeds
// maxSessionMessages, summarize everything but the most recent keepRecent
// messages into one synthetic exchange.
func compactIfOverThreshold(ctx context.Context, provider providers.Provider, model string, trace []providers.Message, maxSessionMessages, keepRecent int) ([]providers.Message, error) {
	if maxSessionMessages <= 0 || len(trace) <= maxSessionMessages {
		return trace, nil
	}
	splitAt := len(trace) - keepRecent
	if splitAt < 0 {
		splitAt = 0
	}
	prefix := trace[:splitAt]
	recent := trace[splitAt:]

	rendered := renderForSummary(prefix)
	resp, err := provider.SendMessage(ctx, providers.ChatRequest{
		System:    "Summarize the following conversation history concisely, preserving facts, decisions, and open tasks.",
		Messages:  []providers.Message{providers.UserText(rendered)},
		Model:     model,
		MaxTokens: 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: compaction summary: %w", err)
	}

	newTrace := []providers.Message{
		providers.UserText(resp.TextOnly()),
		providers.AssistantText("acknowledged"),
	}
	newTrace = append(newTrace, recent...)
	return fixRoleAlternation(newTrace), nil
}

// renderForSummary flattens messages as "[role]: text" lines, truncated to
// roughly compactionRenderBudget bytes (§4.G step 3).
func renderForSummary(messages []providers.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString("[")
		b.WriteString(m.Role)
		b.WriteString("]: ")
		b.WriteString(flattenText(m))
		b.WriteString("\n")
		if b.Len() > compactionRenderBudget {
			break
		}
	}
	out := b.String()
	if len(out) > compactionRenderBudget {
		out = out[:compactionRenderBudget]
	}
	return out
}

func flattenText(m providers.Message) string {
	if !m.HasBlocks() {
		return m.Text
	}
	var parts []string
	for _, b := range m.Blocks {
		switch b.Type {
		case providers.BlockText:
			parts = append(parts, b.Text)
		case providers.BlockImage:
			parts = append(parts, "[image]")
		case providers.BlockToolUse:
			parts = append(parts, fmt.Sprintf("[tool_use %s]", b.ToolName))
		case providers.BlockToolResult:
			parts = append(parts, fmt.Sprintf("[tool_result %s]", b.ToolUseID))
		}
	}
	return strings.Join(parts, " ")
}

// fixRoleAlternation merges consecutive same-role messages (flat text only)
// and ensures the trace ends on role=user, per §4.G step 3.
func fixRoleAlternation(trace []providers.Message) []providers.Message {
	var out []providers.Message
	for _, m := range trace {
		if n := len(out); n > 0 && out[n-1].Role == m.Role && !out[n-1].HasBlocks() && !m.HasBlocks() {
			out[n-1].Text = out[n-1].Text + "\n" + m.Text
			continue
		}
		out = append(out, m)
	}
	if len(out) > 0 && out[len(out)-1].Role != "user" {
		out = append(out, providers.UserText("continue"))
	}
	return out
}

// sortMessagesByTimestamp is used where store implementations do not already
// guarantee chronological order.
func sortMessagesByTimestamp(msgs []store.StoredMessage) {
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
}
