package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/LumenStay/concierge-mvp/pkg/openai"
)

const defaultSystemPrompt = `You are a helpful and friendly AI Concierge for a luxury hotel. ` +
	`Your goal is to assist guests in planning their stay by recommending relevant hotel activities and local experiences. ` +
	`Use only the information provided in the 'Context' section below to answer questions about activities and experiences. ` +
	`Do not make up activities, prices, durations, or other details not present in the context. ` +
	`If the context doesn't contain relevant information to answer the user's query about activities/experiences, politely state that you don't have that specific information available. ` +
	`Keep your responses concise and helpful.`

// emptyReplyFallback replaces an empty-but-successful completion.
const emptyReplyFallback = "I received an empty response, could you please rephrase?"

// ChatClient abstracts the generation backend.
type ChatClient interface {
	ChatCompletion(ctx context.Context, msgs []openai.Message, temperature float32, maxTokens int) (string, error)
}

// CompleterOptions configures prompt assembly and sampling.
type CompleterOptions struct {
	SystemPrompt string
	Temperature  float32
	MaxTokens    int
}

// DefaultCompleterOptions returns the reference behaviour: moderate sampling
// temperature, replies capped short to keep the concierge concise.
func DefaultCompleterOptions() CompleterOptions {
	return CompleterOptions{
		SystemPrompt: defaultSystemPrompt,
		Temperature:  0.7,
		MaxTokens:    150,
	}
}

// Completer turns (message, history, context) into a grounded reply.
type Completer struct {
	chat ChatClient
	opts CompleterOptions
}

// NewCompleter creates a Completer.
func NewCompleter(chat ChatClient, opts CompleterOptions) *Completer {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}
	return &Completer{chat: chat, opts: opts}
}

// Complete builds the bounded message sequence (persona, prior turns, then
// one user turn carrying the context and the question) and asks the backend
// for a reply. Backend failures come back as typed errors from pkg/openai;
// no raw fault escapes beyond an error return.
func (c *Completer) Complete(ctx context.Context, message string, history []openai.Message, contextText string) (string, error) {
	msgs := make([]openai.Message, 0, len(history)+2)
	msgs = append(msgs, openai.Message{Role: openai.RoleSystem, Content: c.opts.SystemPrompt})
	msgs = append(msgs, history...)
	msgs = append(msgs, openai.Message{
		Role:    openai.RoleUser,
		Content: fmt.Sprintf("Context:\n%s\n\nUser Question: %s", contextText, message),
	})

	reply, err := c.chat.ChatCompletion(ctx, msgs, c.opts.Temperature, c.opts.MaxTokens)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return emptyReplyFallback, nil
	}
	return reply, nil
}
