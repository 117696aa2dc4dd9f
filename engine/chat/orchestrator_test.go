package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/LumenStay/concierge-mvp/engine/catalog"
	"github.com/LumenStay/concierge-mvp/engine/rag"
	"github.com/LumenStay/concierge-mvp/pkg/openai"
)

// --- mocks ---

type mockRetriever struct {
	retrieval rag.Retrieval
	err       error
	calls     int
}

func (m *mockRetriever) Retrieve(_ context.Context, _ string) (rag.Retrieval, error) {
	m.calls++
	return m.retrieval, m.err
}

type mockCompleter struct {
	reply       string
	err         error
	calls       int
	lastHistory []openai.Message
	lastContext string
	panics      bool
}

func (m *mockCompleter) Complete(_ context.Context, _ string, history []openai.Message, contextText string) (string, error) {
	m.calls++
	m.lastHistory = history
	m.lastContext = contextText
	if m.panics {
		panic("completer exploded")
	}
	return m.reply, m.err
}

type mockTranscriber struct {
	text  string
	err   error
	calls int
}

func (m *mockTranscriber) Transcribe(_ context.Context, _ []byte, _ string) (string, error) {
	m.calls++
	return m.text, m.err
}

func yogaRetrieval() rag.Retrieval {
	return rag.Retrieval{
		Context: "Context from knowledge base:\n[Result 1 (ID: rec1): Name: Rooftop Yoga, Description: Morning yoga with city views, Price: €25, Type: Wellness]",
		Records: []catalog.Record{{ID: "rec1", Fields: map[string]any{
			catalog.FieldName:        "Rooftop Yoga",
			catalog.FieldDescription: "Morning yoga with city views",
			catalog.FieldPrice:       "€25",
			catalog.FieldType:        "Wellness",
		}}},
	}
}

// --- tests ---

func TestHandleMessage_EndToEnd(t *testing.T) {
	store := NewMemoryStore()
	completer := &mockCompleter{reply: "Our Rooftop Yoga (Wellness) is €25 and very relaxing."}
	svc := New(store, &mockRetriever{retrieval: yogaRetrieval()}, completer, &mockTranscriber{}, nil)

	resp := svc.HandleMessage(context.Background(), "t1", "What relaxing activities do you have?")

	if !strings.Contains(resp.Reply, "Rooftop Yoga") {
		t.Errorf("reply not grounded: %q", resp.Reply)
	}
	if len(resp.Suggestions) != 1 {
		t.Fatalf("expected 1 suggestion, got %d", len(resp.Suggestions))
	}
	card := resp.Suggestions[0]
	if card.ID != "rec1" || card.Name != "Rooftop Yoga" {
		t.Errorf("card = %+v", card)
	}
	if !strings.Contains(completer.lastContext, "€25") {
		t.Errorf("completion context not grounded: %q", completer.lastContext)
	}

	turns := store.History("t1")
	if len(turns) != 2 || turns[0].Role != RoleUser || turns[1].Role != RoleAssistant {
		t.Errorf("history = %+v", turns)
	}
}

func TestHandleMessage_HistoryOrdering(t *testing.T) {
	store := NewMemoryStore()
	completer := &mockCompleter{reply: "R1"}
	svc := New(store, &mockRetriever{retrieval: rag.Retrieval{Context: rag.NoContextFound}}, completer, &mockTranscriber{}, nil)

	svc.HandleMessage(context.Background(), "s1", "hello")
	completer.reply = "R2"
	svc.HandleMessage(context.Background(), "s1", "world")

	turns := store.History("s1")
	want := []Turn{
		{RoleUser, "hello"}, {RoleAssistant, "R1"},
		{RoleUser, "world"}, {RoleAssistant, "R2"},
	}
	if len(turns) != 4 {
		t.Fatalf("history length = %d, want 4", len(turns))
	}
	for i := range want {
		if turns[i] != want[i] {
			t.Errorf("turn[%d] = %+v, want %+v", i, turns[i], want[i])
		}
	}

	// The second call must have seen the first exchange as prior turns.
	if len(completer.lastHistory) != 2 {
		t.Errorf("completer saw %d history messages, want 2", len(completer.lastHistory))
	}
}

func TestHandleMessage_NoHistoryOnCompletionFailure(t *testing.T) {
	store := NewMemoryStore()
	store.Append("s1", Turn{RoleUser, "earlier"}, Turn{RoleAssistant, "ok"})
	svc := New(store,
		&mockRetriever{retrieval: rag.Retrieval{Context: rag.NoContextFound}},
		&mockCompleter{err: openai.ErrConnectivity},
		&mockTranscriber{}, nil)

	resp := svc.HandleMessage(context.Background(), "s1", "hi")

	if resp.Reply != "Error: Could not connect to the AI service." {
		t.Errorf("reply = %q", resp.Reply)
	}
	if len(resp.Suggestions) != 0 {
		t.Errorf("suggestions should be empty on failure")
	}
	if got := len(store.History("s1")); got != 2 {
		t.Errorf("history length changed to %d on failed turn", got)
	}
}

func TestHandleMessage_ErrorRendering(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{openai.ErrConnectivity, "Error: Could not connect to the AI service."},
		{openai.ErrRateLimited, "Error: The AI service is currently busy. Please try again later."},
		{openai.ErrAuthentication, "Error: AI service authentication failed."},
		{&openai.StatusError{Code: 500}, "Error: The AI service returned an error (Status: 500)."},
		{context.DeadlineExceeded, "Error: An unexpected error occurred while contacting the AI service."},
	}
	for _, tc := range cases {
		svc := New(NewMemoryStore(),
			&mockRetriever{retrieval: rag.Retrieval{Context: rag.NoContextFound}},
			&mockCompleter{err: tc.err},
			&mockTranscriber{}, nil)
		resp := svc.HandleMessage(context.Background(), "s", "q")
		if resp.Reply != tc.want {
			t.Errorf("err %v: reply = %q, want %q", tc.err, resp.Reply, tc.want)
		}
	}
}

func TestHandleMessage_RetrievalFailureStillAnswers(t *testing.T) {
	store := NewMemoryStore()
	completer := &mockCompleter{reply: "I don't have that information right now."}
	svc := New(store, &mockRetriever{err: openai.ErrConnectivity}, completer, &mockTranscriber{}, nil)

	resp := svc.HandleMessage(context.Background(), "s1", "q")

	if completer.calls != 1 {
		t.Fatal("completion should still run after retrieval failure")
	}
	if completer.lastContext != rag.ContextUnavailable {
		t.Errorf("context = %q", completer.lastContext)
	}
	if len(resp.Suggestions) != 0 {
		t.Errorf("no suggestions expected, got %+v", resp.Suggestions)
	}
	if len(store.History("s1")) != 2 {
		t.Errorf("successful completion should still be recorded")
	}
}

func TestHandleMessage_DropsUnmappableRecords(t *testing.T) {
	retrieval := yogaRetrieval()
	retrieval.Records = append(retrieval.Records, catalog.Record{ID: "bad", Fields: map[string]any{}})
	svc := New(NewMemoryStore(), &mockRetriever{retrieval: retrieval}, &mockCompleter{reply: "ok"}, &mockTranscriber{}, nil)

	resp := svc.HandleMessage(context.Background(), "s1", "q")
	if len(resp.Suggestions) != 1 || resp.Suggestions[0].ID != "rec1" {
		t.Errorf("suggestions = %+v", resp.Suggestions)
	}
}

func TestHandleMessage_PanicRecovered(t *testing.T) {
	store := NewMemoryStore()
	svc := New(store,
		&mockRetriever{retrieval: rag.Retrieval{Context: rag.NoContextFound}},
		&mockCompleter{panics: true},
		&mockTranscriber{}, nil)

	resp := svc.HandleMessage(context.Background(), "s1", "q")

	if resp.Reply != msgGenericFault {
		t.Errorf("reply = %q", resp.Reply)
	}
	if len(resp.Suggestions) != 0 {
		t.Errorf("suggestions must be empty after a fault")
	}
	if len(store.History("s1")) != 0 {
		t.Errorf("history must be untouched after a fault")
	}
}

func TestHandleAudio_Success(t *testing.T) {
	store := NewMemoryStore()
	svc := New(store,
		&mockRetriever{retrieval: yogaRetrieval()},
		&mockCompleter{reply: "Try Rooftop Yoga."},
		&mockTranscriber{text: "what relaxing activities do you have"}, nil)

	resp := svc.HandleAudio(context.Background(), "a1", []byte("audio"), "clip.webm")

	if resp.TranscribedText != "what relaxing activities do you have" {
		t.Errorf("transcribed_text = %q", resp.TranscribedText)
	}
	if resp.Reply != "Try Rooftop Yoga." {
		t.Errorf("reply = %q", resp.Reply)
	}
	if len(store.History("a1")) != 2 {
		t.Errorf("history not written")
	}
}

func TestHandleAudio_FailureShortCircuits(t *testing.T) {
	store := NewMemoryStore()
	retriever := &mockRetriever{retrieval: yogaRetrieval()}
	completer := &mockCompleter{reply: "unused"}
	svc := New(store, retriever, completer,
		&mockTranscriber{err: openai.ErrConnectivity}, nil)

	resp := svc.HandleAudio(context.Background(), "a1", []byte("audio"), "clip.webm")

	if resp.TranscribedText != "" {
		t.Errorf("transcribed_text = %q, want empty", resp.TranscribedText)
	}
	if !strings.HasPrefix(resp.Reply, "Audio Processing Error:") {
		t.Errorf("reply = %q", resp.Reply)
	}
	if retriever.calls != 0 || completer.calls != 0 {
		t.Errorf("retrieval/completion must be skipped: retriever=%d completer=%d", retriever.calls, completer.calls)
	}
	if len(store.History("a1")) != 0 {
		t.Errorf("history must be untouched")
	}
}
