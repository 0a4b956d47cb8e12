package executor

import (
	"strings"

	"github.com/mbellido/agentpay/pkg/domain"
)

// DefaultFallbacks returns the built-in canned output per role. Deployments
// can inject their own table through Config.Fallbacks.
func DefaultFallbacks() map[domain.Role]string {
	return map[domain.Role]string{
		domain.RoleResearcher: strings.Join([]string{
			"Goal: design a high-converting product landing page",
			"Focus: clearly explain the multi-agent workflow and budget-based payments",
			"Sections: hero, use-cases, pricing, live demos, trust and security",
			"Example: modern SaaS layout with 3-4 feature cards and a primary CTA",
		}, "\n"),
		domain.RoleAnalyst: strings.Join([]string{
			"Insight: users must immediately understand what agents do and why escrow matters",
			"Insight: strongest levers are social proof, transparent pricing, and live demos",
			"Recommendation: keep copy short, benefit-focused, and tie each section to an action",
			"Confidence: High",
		}, "\n"),
		domain.RoleWriter: strings.Join([]string{
			"AI Agents That Ship Real Work",
			"- Orchestrate research, analysis, content, and code in one pipeline",
			"- Pay per task with escrowed budgets and visible agent fees",
			"- Watch live demos before committing real budget",
			"CTA: Run your first agent-powered task",
			"Sections for the builder: hero, 3 feature cards, pricing preview, demo strip",
		}, "\n"),
		domain.RoleBuilder: `<section class="min-h-screen bg-slate-950 text-slate-100 flex flex-col items-center px-6 py-12">` +
			`<div class="max-w-4xl w-full space-y-10">` +
			`<header class="text-center space-y-3">` +
			`<h1 class="text-3xl font-semibold">Launch tasks with a swarm of AI agents</h1>` +
			`<p class="text-sm text-slate-400">Budget-based payments, transparent pricing, and live agent demos backed by escrow.</p>` +
			`</header>` +
			`<div class="grid gap-6 md:grid-cols-3">` +
			`<div class="rounded-2xl border border-slate-800 p-5"><h2 class="text-sm font-semibold">Use-cases</h2><p class="text-xs text-slate-400">Research, analysis, content, and UI code in a single pipeline.</p></div>` +
			`<div class="rounded-2xl border border-slate-800 p-5"><h2 class="text-sm font-semibold">Pricing</h2><p class="text-xs text-slate-400">Pay per task with capped budgets and visible agent fees.</p></div>` +
			`<div class="rounded-2xl border border-slate-800 p-5"><h2 class="text-sm font-semibold">Live demos</h2><p class="text-xs text-slate-400">Preview each agent's output before committing real funds.</p></div>` +
			`</div>` +
			`<button class="px-4 py-2 rounded-full bg-sky-500 text-slate-950 text-sm font-medium">Run a demo task</button>` +
			`</div>` +
			`</section>`,
	}
}

// genericFallback covers roles without an entry in the fallback table.
func genericFallback(input string) string {
	short := strings.TrimSpace(input)
	if runes := []rune(short); len(runes) > 80 {
		short = string(runes[:80])
	}
	if short == "" {
		return "Processed input."
	}
	return "Processed: " + short + "\nResult: structured hand-off for the next step."
}
