// Package config provides configuration management for the agentpay
// orchestrator.
//
// Configuration is loaded from environment variables using the env package.
// The defaults select the in-memory ledger; the default anthropic step
// backend needs LLM_API_KEY, or set LLM_PROVIDER=static for a fully
// offline deployment.
package config
