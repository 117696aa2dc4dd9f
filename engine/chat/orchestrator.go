package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/LumenStay/concierge-mvp/engine/catalog"
	"github.com/LumenStay/concierge-mvp/engine/rag"
	"github.com/LumenStay/concierge-mvp/pkg/openai"
)

// User-facing failure strings. AI backend failures are embedded in the reply
// body (the HTTP layer still returns success) so the client UI stays simple.
const (
	msgConnectivity  = "Error: Could not connect to the AI service."
	msgRateLimited   = "Error: The AI service is currently busy. Please try again later."
	msgAuth          = "Error: AI service authentication failed."
	msgUnexpected    = "Error: An unexpected error occurred while contacting the AI service."
	msgGenericFault  = "I'm sorry, an unexpected error occurred while processing your message. Please try again."
	audioErrorPrefix = "Audio Processing Error: "
)

// Retriever produces grounded context for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (rag.Retrieval, error)
}

// Completer produces a reply from message, history, and context.
type Completer interface {
	Complete(ctx context.Context, message string, history []openai.Message, contextText string) (string, error)
}

// Transcriber converts audio bytes to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Response is the orchestrator's well-formed outcome. It is always populated,
// even when every backend failed.
type Response struct {
	Reply           string
	TranscribedText string
	Suggestions     []catalog.Card
}

// Service orchestrates one inbound message end to end.
type Service struct {
	history     Store
	retriever   Retriever
	completer   Completer
	transcriber Transcriber
	logger      *slog.Logger
}

// New creates the chat Service.
func New(history Store, retriever Retriever, completer Completer, transcriber Transcriber, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		history:     history,
		retriever:   retriever,
		completer:   completer,
		transcriber: transcriber,
		logger:      logger,
	}
}

// HandleMessage processes a text message: retrieve, complete, update history,
// attach suggestion cards. History is written only when the completion
// succeeded, so failed turns never pollute future prompts. Any panic below
// this frame is converted into a generic reply with no suggestions.
func (s *Service) HandleMessage(ctx context.Context, sessionID, message string) (resp Response) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("chat: panic recovered", "session_id", sessionID, "panic", fmt.Sprint(p))
			resp = Response{Reply: msgGenericFault}
		}
	}()

	history := s.history.History(sessionID)

	retrieval, err := s.retriever.Retrieve(ctx, message)
	if err != nil {
		// The knowledge base is unreachable; answer anyway, grounded in
		// the unavailable-context sentinel, with no suggestions.
		s.logger.Error("chat: retrieval failed", "session_id", sessionID, "err", err)
		retrieval = rag.Retrieval{Context: rag.ContextUnavailable}
	}

	reply, err := s.completer.Complete(ctx, message, toMessages(history), retrieval.Context)
	if err != nil {
		s.logger.Error("chat: completion failed", "session_id", sessionID, "err", err)
		return Response{Reply: userMessage(err)}
	}

	s.history.Append(sessionID,
		Turn{Role: RoleUser, Content: message},
		Turn{Role: RoleAssistant, Content: reply},
	)

	return Response{Reply: reply, Suggestions: s.cards(retrieval.Records)}
}

// HandleAudio transcribes the audio and, on success, runs the text path. A
// transcription failure short-circuits: no retrieval, no completion, no
// history write, and the transcribed text stays empty.
func (s *Service) HandleAudio(ctx context.Context, sessionID string, audio []byte, filename string) (resp Response) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("chat: panic recovered", "session_id", sessionID, "panic", fmt.Sprint(p))
			resp = Response{Reply: msgGenericFault}
		}
	}()

	text, err := s.transcriber.Transcribe(ctx, audio, filename)
	if err != nil {
		s.logger.Error("chat: transcription failed", "session_id", sessionID, "err", err)
		return Response{Reply: audioErrorPrefix + userMessage(err)}
	}

	out := s.HandleMessage(ctx, sessionID, text)
	out.TranscribedText = text
	return out
}

// cards maps matched records into suggestion cards. A record that fails
// mapping is logged and dropped; it never fails the response.
func (s *Service) cards(records []catalog.Record) []catalog.Card {
	var out []catalog.Card
	for _, rec := range records {
		card, err := catalog.CardFromRecord(rec)
		if err != nil {
			s.logger.Warn("chat: dropping unmappable record", "record_id", rec.ID, "err", err)
			continue
		}
		out = append(out, card)
	}
	return out
}

// userMessage renders a typed backend error as the user-facing reply string.
func userMessage(err error) string {
	var se *openai.StatusError
	switch {
	case errors.Is(err, openai.ErrConnectivity):
		return msgConnectivity
	case errors.Is(err, openai.ErrRateLimited):
		return msgRateLimited
	case errors.Is(err, openai.ErrAuthentication):
		return msgAuth
	case errors.As(err, &se):
		return fmt.Sprintf("Error: The AI service returned an error (Status: %d).", se.Code)
	default:
		return msgUnexpected
	}
}

func toMessages(turns []Turn) []openai.Message {
	msgs := make([]openai.Message, len(turns))
	for i, t := range turns {
		msgs[i] = openai.Message{Role: t.Role, Content: t.Content}
	}
	return msgs
}
