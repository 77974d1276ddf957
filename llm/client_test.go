package llm

import (
	"context"
	"errors"
	"testing"
)

// fakeProvider records the last call so tests can assert on message shape.
type fakeProvider struct {
	lastMessages []ChatMessage
	lastFormat   *ResponseFormat
	response     LLMResponse
	err          error
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-model" }

func (f *fakeProvider) Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error) {
	f.lastMessages = messages
	f.lastFormat = nil
	return f.response, f.err
}

func (f *fakeProvider) ChatWithFormat(ctx context.Context, messages []ChatMessage, format *ResponseFormat) (LLMResponse, error) {
	f.lastMessages = messages
	f.lastFormat = format
	return f.response, f.err
}

func TestClientGenerate(t *testing.T) {
	fake := &fakeProvider{
		response: LLMResponse{
			Content: "answer",
			Usage:   &TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		},
	}
	client := NewClient(fake)

	content, usage, err := client.Generate(context.Background(), "be brief", "question")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if content != "answer" {
		t.Errorf("content = %q, want %q", content, "answer")
	}
	if usage == nil || usage.TotalTokens != 15 {
		t.Errorf("usage = %+v, want total 15", usage)
	}
	if len(fake.lastMessages) != 2 {
		t.Fatalf("sent %d messages, want 2", len(fake.lastMessages))
	}
	if fake.lastMessages[0].Role != "system" || fake.lastMessages[0].Content != "be brief" {
		t.Errorf("first message = %+v, want system prompt", fake.lastMessages[0])
	}
	if fake.lastMessages[1].Role != "user" || fake.lastMessages[1].Content != "question" {
		t.Errorf("second message = %+v, want user prompt", fake.lastMessages[1])
	}
}

func TestClientGenerateEmptySystem(t *testing.T) {
	fake := &fakeProvider{response: LLMResponse{Content: "ok"}}
	client := NewClient(fake)

	if _, _, err := client.Generate(context.Background(), "", "question"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(fake.lastMessages) != 1 {
		t.Fatalf("sent %d messages, want 1", len(fake.lastMessages))
	}
	if fake.lastMessages[0].Role != "user" {
		t.Errorf("message role = %q, want user", fake.lastMessages[0].Role)
	}
}

func TestClientGenerateJSON(t *testing.T) {
	fake := &fakeProvider{response: LLMResponse{Content: `{"ok":true}`}}
	client := NewClient(fake)

	content, _, err := client.GenerateJSON(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if content != `{"ok":true}` {
		t.Errorf("content = %q", content)
	}
	if fake.lastFormat == nil || fake.lastFormat.Type != ResponseFormatJSONObject {
		t.Errorf("format = %+v, want json_object", fake.lastFormat)
	}
}

func TestClientGenerateError(t *testing.T) {
	wantErr := errors.New("upstream down")
	fake := &fakeProvider{err: wantErr}
	client := NewClient(fake)

	_, _, err := client.Generate(context.Background(), "sys", "user")
	if !errors.Is(err, wantErr) {
		t.Errorf("got %v, want %v", err, wantErr)
	}
}

func TestTokenUsageAdd(t *testing.T) {
	var total TokenUsage
	total.Add(&TokenUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5})
	total.Add(nil)
	total.Add(&TokenUsage{PromptTokens: 7, CompletionTokens: 1, TotalTokens: 8})

	if total.PromptTokens != 10 || total.CompletionTokens != 3 || total.TotalTokens != 13 {
		t.Errorf("total = %+v, want 10/3/13", total)
	}
}
