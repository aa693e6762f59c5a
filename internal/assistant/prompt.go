// ABOUTME: System prompt construction and conversation title derivation
// ABOUTME: Optional chat context (user, incident, alert count) extends the base prompt

package assistant

import (
	"encoding/json"
	"fmt"
	"strings"
)

const systemPrompt = `You are the Beacon assistant, built into an alert management platform.
You help operators understand alerts and incidents, suggest remediation steps,
and explain how to configure providers, deduplication rules, and workflows.
Be concise and practical. When you are unsure, say so instead of guessing.`

const titleLimit = 50

// deriveTitle builds a conversation title from the first user message.
func deriveTitle(message string) string {
	runes := []rune(strings.TrimSpace(message))
	if len(runes) > titleLimit {
		return string(runes[:titleLimit]) + "..."
	}
	return string(runes)
}

// chatContext is the optional context document attached to a conversation.
type chatContext struct {
	User       string `json:"user"`
	AlertCount int    `json:"alert_count"`
	Incident   struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Summary string `json:"summary"`
	} `json:"incident"`
}

// buildSystemPrompt extends the base prompt with whatever the context
// document provides. An unparseable document falls back to the base prompt.
func buildSystemPrompt(contextJSON string) string {
	if contextJSON == "" {
		return systemPrompt
	}

	var cc chatContext
	if err := json.Unmarshal([]byte(contextJSON), &cc); err != nil {
		return systemPrompt
	}

	var b strings.Builder
	b.WriteString(systemPrompt)
	if cc.User != "" {
		fmt.Fprintf(&b, "\n\nYou are assisting %s.", cc.User)
	}
	if cc.Incident.Name != "" || cc.Incident.ID != "" {
		fmt.Fprintf(&b, "\nCurrent incident: %s (id: %s).", cc.Incident.Name, cc.Incident.ID)
		if cc.Incident.Summary != "" {
			fmt.Fprintf(&b, "\nIncident summary: %s", cc.Incident.Summary)
		}
	}
	if cc.AlertCount > 0 {
		fmt.Fprintf(&b, "\nThere are %d related alerts.", cc.AlertCount)
	}
	return b.String()
}
