// Package provider wraps the model capabilities vidrag needs: frame description,
// text embedding, intent classification and short chat replies.
package provider

import (
	"context"
	"strings"
)

// Intent is the routing decision for an operator message.
type Intent string

const (
	IntentSearch Intent = "SEARCH"
	IntentChat   Intent = "CHAT"
)

// Provider is a vision, embedding and chat model backend.
type Provider interface {
	// Describe returns a natural-language description of a base64 JPEG frame.
	Describe(ctx context.Context, imageBase64 string) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Intent classifies text as a footage search or general chat.
	Intent(ctx context.Context, text string) (Intent, error)
	Chat(ctx context.Context, text string) (string, error)
	Dimensions() int
	Close() error
}

// ParseIntent maps a model reply onto an Intent. Anything that is not clearly chat is a search.
func ParseIntent(reply string) Intent {
	r := strings.ToUpper(strings.TrimSpace(reply))
	if strings.Contains(r, string(IntentChat)) && !strings.Contains(r, string(IntentSearch)) {
		return IntentChat
	}
	return IntentSearch
}

const (
	describePrompt = "Describe this security camera frame in detail: people, vehicles, objects, actions and notable colors."
	intentPrompt   = "You classify messages sent to a video security search system. " +
		"Reply SEARCH if the user wants to find, see or look for an object, event or person in footage. " +
		"Reply CHAT for greetings, questions about you, or general questions. " +
		"Reply with exactly one word: SEARCH or CHAT."
	chatPrompt = "You are the assistant of a video security search system and help operators search footage. " +
		"Keep answers brief. If a question is unrelated to the footage, politely steer back to video search."
)
