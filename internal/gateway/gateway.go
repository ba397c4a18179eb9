// Package gateway connects chat platforms to an agent.Brain.
package gateway

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Messenger defines the interface for communication gateways (Telegram, Discord, etc.)
type Messenger interface {
	// Start begins the message listening loop
	Start() error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
	// Handles reports whether chatID belongs to this gateway
	Handles(chatID string) bool
}

// Router delivers outgoing messages through whichever gateway owns the
// chat. Chat IDs carry a platform prefix ("discord:123"); bare numeric
// IDs belong to Telegram.
type Router struct {
	Gateways []Messenger
}

func (r *Router) Send(chatID string, text string) error {
	for _, g := range r.Gateways {
		if g.Handles(chatID) {
			return g.Send(chatID, text)
		}
	}
	return fmt.Errorf("no gateway for chat %q", chatID)
}

// Stop stops every gateway and returns the first error.
func (r *Router) Stop() error {
	var first error
	for _, g := range r.Gateways {
		if err := g.Stop(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// splitMessage breaks text into chunks of at most limit bytes, preferring
// line boundaries and never splitting a rune.
func splitMessage(text string, limit int) []string {
	var out []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				_, cut = utf8.DecodeRuneInString(text)
			}
		}
		out = append(out, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" || len(out) == 0 {
		out = append(out, text)
	}
	return out
}
