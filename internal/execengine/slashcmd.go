package execengine

import (
	"fmt"
	"strings"
)

// slashResult is the outcome of parsing a submitted content string for
// gateway slash commands. Handled commands never spawn a child; they are
// answered inline with an assistant message pair.
type slashResult struct {
	Handled bool

	// Reply is the assistant text answering the command.
	Reply string

	// SetModel carries the new session model for "/model <name>".
	SetModel string
}

// parseSlashCommand recognizes "/models" and "/model <name>". Any other
// content, including other slash-prefixed text, passes through to the
// child untouched.
func parseSlashCommand(content, currentModel string, choices []string) slashResult {
	trimmed := strings.TrimSpace(content)

	switch {
	case trimmed == "/models":
		var b strings.Builder
		b.WriteString("Available models:\n")
		for _, m := range choices {
			if m == currentModel {
				fmt.Fprintf(&b, "- %s (current)\n", m)
			} else {
				fmt.Fprintf(&b, "- %s\n", m)
			}
		}
		b.WriteString("\nSwitch with /model <name>.")
		return slashResult{Handled: true, Reply: b.String()}

	case trimmed == "/model":
		return slashResult{
			Handled: true,
			Reply:   fmt.Sprintf("Current model: %s\n\nUsage: /model <name>", currentModel),
		}

	case strings.HasPrefix(trimmed, "/model "):
		name := strings.TrimSpace(strings.TrimPrefix(trimmed, "/model "))
		if name == "" {
			return slashResult{
				Handled: true,
				Reply:   fmt.Sprintf("Current model: %s\n\nUsage: /model <name>", currentModel),
			}
		}
		return slashResult{
			Handled:  true,
			Reply:    fmt.Sprintf("Model set to %s.", name),
			SetModel: name,
		}
	}

	return slashResult{}
}
