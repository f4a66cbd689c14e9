// Package models defines the data structures shared across gatechat.
package models

import "fmt"

// Provider identifies the upstream model vendor a conversation targets.
// The gateway brokers the actual provider access; the client only ever
// names one of a small closed set.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// Providers lists every provider this client knows about.
var Providers = []Provider{ProviderOpenAI, ProviderGemini}

// ParseProvider validates a provider string.
func ParseProvider(s string) (Provider, error) {
	for _, p := range Providers {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q (expected one of %v)", s, Providers)
}

// DefaultModel returns the model preselected when a conversation switches
// to this provider.
func (p Provider) DefaultModel() string {
	switch p {
	case ProviderOpenAI:
		return "gpt-5"
	default:
		return "gemini-2.5-flash"
	}
}
