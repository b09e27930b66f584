// Package openai provides an STT transcriber backed by the OpenAI audio API
// (or any server that implements /v1/audio/transcriptions and
// /v1/audio/translations, such as a local faster-whisper gateway).
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/livewhisper/pkg/audio"
	"github.com/MrWong99/livewhisper/pkg/provider/stt"
)

// uploadRate is the rate audio is resampled to before upload. Whisper models
// work at 16 kHz internally, so anything higher only inflates the request.
const uploadRate = 16000

var _ stt.Transcriber = (*Transcriber)(nil)

// Transcriber implements stt.Transcriber using the OpenAI audio endpoints.
type Transcriber struct {
	client oai.Client
	model  oai.AudioModel
}

// config holds optional configuration for the transcriber.
type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel sets the audio model. Defaults to "whisper-1".
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a Transcriber.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{model: string(oai.AudioModelWhisper1)}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Transcriber{client: oai.NewClient(reqOpts...), model: oai.AudioModel(cfg.model)}, nil
}

// Transcribe implements stt.Transcriber. The transcribe task uses
// /audio/transcriptions with the language hint; the translate task uses
// /audio/translations, which always yields English.
func (t *Transcriber) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if err := req.Validate(); err != nil {
		return stt.Result{}, err
	}
	task := req.TaskOrDefault()
	wav := audio.EncodeWAVFloat(audio.Resample(req.Samples, req.SampleRate, uploadRate), uploadRate)
	file := oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav")

	var text string
	switch task {
	case stt.TaskTranslate:
		resp, err := t.client.Audio.Translations.New(ctx, oai.AudioTranslationNewParams{
			File:  file,
			Model: t.model,
		})
		if err != nil {
			return stt.Result{}, fmt.Errorf("openai: translate: %w", err)
		}
		text = resp.Text
	default:
		params := oai.AudioTranscriptionNewParams{
			File:  file,
			Model: t.model,
		}
		if req.Language != "" {
			params.Language = oai.String(req.Language)
		}
		resp, err := t.client.Audio.Transcriptions.New(ctx, params)
		if err != nil {
			return stt.Result{}, fmt.Errorf("openai: transcribe: %w", err)
		}
		text = resp.Text
	}

	return stt.Result{
		Text:     strings.TrimSpace(text),
		Language: req.Language,
		Task:     task,
	}, nil
}
