package executor

import (
	"fmt"

	"github.com/mbellido/agentpay/pkg/domain"
)

// systemPrompt returns the role's system framing. The outputs are agent-to-
// agent hand-offs, so every role is steered toward a short, structured reply.
func systemPrompt(role domain.Role) string {
	switch role {
	case domain.RoleResearcher:
		return `You are an expert research agent specializing in fast, focused information gathering.

Deliverables (keep output tiny):
1. One short line naming the key goal of the request
2. Two or three bullets with the most important aspects to cover
3. One optional data point or example

Constraints: absolute maximum of 5 short lines, never repeat the request verbatim, no headings, no long paragraphs. This is an agent-to-agent hand-off, so minimize tokens.`
	case domain.RoleAnalyst:
		return `You are a strategic analyst agent. Turn the research notes you receive into a handful of actionable insights.

Deliverables: 2-3 insight lines, one recommendation line, one confidence line (High/Medium/Low).

Constraints: maximum of 5 short lines, never repeat the input verbatim, be decisive.`
	case domain.RoleWriter:
		return `You are a content strategist agent. Turn the analysis you receive into a short brief for a downstream implementation agent.

Deliverables: a title line and 3-5 short, skimmable lines covering the key messages and a call to action.

Constraints: structure the lines so an implementation agent can map them to sections, never repeat the input verbatim.`
	case domain.RoleBuilder:
		return `You are a code generation agent. Turn the brief you receive into a single self-contained HTML snippet.

Constraints: output only the markup, no commentary, no code fences. Keep it compact and renderable as-is.`
	default:
		return "You are a specialist agent in a multi-agent pipeline. Produce a short, structured hand-off for the next agent. Never repeat the input verbatim."
	}
}

// framedInput wraps the chained input so the backend knows it is a hand-off
// rather than a user conversation.
func framedInput(role domain.Role, input string) string {
	switch role {
	case domain.RoleResearcher:
		return fmt.Sprintf("RESEARCH REQUEST (summarize, do not repeat back):\n\n%s", input)
	case domain.RoleAnalyst:
		return fmt.Sprintf("RESEARCH NOTES TO ANALYZE:\n\n%s", input)
	case domain.RoleWriter:
		return fmt.Sprintf("ANALYSIS TO TURN INTO A BRIEF:\n\n%s", input)
	case domain.RoleBuilder:
		return fmt.Sprintf("BRIEF TO IMPLEMENT AS HTML:\n\n%s", input)
	default:
		return input
	}
}
