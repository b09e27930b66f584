package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/livewhisper/internal/observe"
	"github.com/MrWong99/livewhisper/pkg/provider/tts"
)

const (
	defaultSystemPrompt = "You are a friendly voice assistant. Answer in one or two short spoken sentences without markdown."
	defaultMaxHistory   = 10
	defaultTimeout      = 30 * time.Second
)

// NewBackend creates the any-llm-go provider for name. Supported names:
// openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp,
// llamafile. Without an API key option the provider falls back to its usual
// environment variable (e.g., OPENAI_API_KEY).
func NewBackend(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("host: unsupported llm provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", name)
	}
}

// AssistantOption configures an [Assistant].
type AssistantOption func(*Assistant)

// WithSystemPrompt replaces the default system prompt.
func WithSystemPrompt(prompt string) AssistantOption {
	return func(a *Assistant) {
		if prompt != "" {
			a.systemPrompt = prompt
		}
	}
}

// WithMaxHistory sets how many previous exchanges are sent as context.
// Zero disables history. Default: 10.
func WithMaxHistory(n int) AssistantOption {
	return func(a *Assistant) {
		if n >= 0 {
			a.maxHistory = n
		}
	}
}

// WithTimeout bounds a single completion request. Default: 30s.
func WithTimeout(d time.Duration) AssistantOption {
	return func(a *Assistant) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithIgnore skips transcripts for which ignore returns true. The listening
// pipeline uses it to leave text handled by a dispatch rule unanswered.
func WithIgnore(ignore func(text string) bool) AssistantOption {
	return func(a *Assistant) {
		a.ignore = ignore
	}
}

// WithReplyHook is called with every reply before it is spoken.
func WithReplyHook(fn func(reply string)) AssistantOption {
	return func(a *Assistant) {
		a.onReply = fn
	}
}

var _ Host = (*Assistant)(nil)

// Assistant is a [Host] that answers transcripts with an LLM and speaks the
// reply.
type Assistant struct {
	backend      anyllmlib.Provider
	model        string
	speaker      tts.Speaker
	systemPrompt string
	maxHistory   int
	timeout      time.Duration
	ignore       func(string) bool
	onReply      func(string)

	talking atomic.Bool
	stopped atomic.Bool

	mu      sync.Mutex
	history []anyllmlib.Message
}

// NewAssistant creates an Assistant that queries model on backend and speaks
// through speaker.
func NewAssistant(backend anyllmlib.Provider, model string, speaker tts.Speaker, opts ...AssistantOption) (*Assistant, error) {
	if backend == nil {
		return nil, errors.New("host: backend must not be nil")
	}
	if model == "" {
		return nil, errors.New("host: model must not be empty")
	}
	if speaker == nil {
		speaker = tts.Log{}
	}
	a := &Assistant{
		backend:      backend,
		model:        model,
		speaker:      speaker,
		systemPrompt: defaultSystemPrompt,
		maxHistory:   defaultMaxHistory,
		timeout:      defaultTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Running implements [Host]. It is true until [Assistant.Stop] is called.
func (a *Assistant) Running() bool { return !a.stopped.Load() }

// Stop makes Running report false.
func (a *Assistant) Stop() { a.stopped.Store(true) }

// Talking implements [Host].
func (a *Assistant) Talking() bool { return a.talking.Load() }

// Analyze implements [Host]. Failures are logged.
func (a *Assistant) Analyze(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" || (a.ignore != nil && a.ignore(text)) {
		return
	}
	log := observe.Logger(ctx)

	reply, err := a.Reply(ctx, text)
	if err != nil {
		log.Error("host: assistant reply failed", "err", err)
		return
	}
	if reply == "" {
		return
	}
	if a.onReply != nil {
		a.onReply(reply)
	}

	a.talking.Store(true)
	defer a.talking.Store(false)
	if err := a.speaker.Speak(ctx, reply); err != nil {
		log.Error("host: speak reply", "err", err)
	}
}

// Reply asks the model for an answer to text and records the exchange in
// the conversation history.
func (a *Assistant) Reply(ctx context.Context, text string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "host.reply")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	user := anyllmlib.Message{Role: "user", Content: text}

	a.mu.Lock()
	messages := make([]anyllmlib.Message, 0, len(a.history)+2)
	messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: a.systemPrompt})
	messages = append(messages, a.history...)
	messages = append(messages, user)
	a.mu.Unlock()

	start := time.Now()
	resp, err := a.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model:    a.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("host: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("host: empty choices in response")
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.ContentString())
	slog.DebugContext(ctx, "host: completion", "model", a.model, "duration", time.Since(start))

	a.remember(user, anyllmlib.Message{Role: "assistant", Content: reply})
	return reply, nil
}

// remember appends one exchange and trims the history to maxHistory
// exchanges.
func (a *Assistant) remember(user, reply anyllmlib.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.maxHistory == 0 {
		return
	}
	a.history = append(a.history, user, reply)
	if excess := len(a.history) - 2*a.maxHistory; excess > 0 {
		a.history = append(a.history[:0:0], a.history[excess:]...)
	}
}
