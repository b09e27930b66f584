package coqui_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/livewhisper/pkg/audio"
	"github.com/MrWong99/livewhisper/pkg/provider/tts/coqui"
)

// testWAV is a 4-sample mono WAV at 22050 Hz.
var testWAV = audio.EncodeWAVFloat([]float32{0, 0.5, -0.5, 0.25}, 22050)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		opts    []coqui.Option
		wantErr bool
	}{
		{"valid", "http://localhost:5002", nil, false},
		{"empty url", "", nil, true},
		{"xtts", "http://localhost:8002", []coqui.Option{coqui.WithAPIMode(coqui.APIModeXTTS)}, false},
		{"unknown mode", "http://x", []coqui.Option{coqui.WithAPIMode("bark")}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := coqui.New(tc.url, tc.opts...)
			if (err != nil) != tc.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestSynthesize_StandardAPI(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/tts" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		q := r.URL.Query()
		gotQuery = map[string]string{
			"text":        q.Get("text"),
			"speaker_id":  q.Get("speaker_id"),
			"language_id": q.Get("language_id"),
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(testWAV)
	}))
	defer srv.Close()

	s, err := coqui.New(srv.URL, coqui.WithVoice("p225"), coqui.WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	samples, rate, err := s.Synthesize(context.Background(), "  Hi there!  ")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if rate != 22050 || len(samples) != 4 {
		t.Errorf("got %d samples at %d Hz, want 4 at 22050", len(samples), rate)
	}
	want := map[string]string{"text": "Hi there!", "speaker_id": "p225", "language_id": "en"}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Errorf("query %s = %q, want %q", k, gotQuery[k], v)
		}
	}
}

func TestSynthesize_XTTS(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tts_to_audio/" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write(testWAV)
	}))
	defer srv.Close()

	s, _ := coqui.New(srv.URL, coqui.WithAPIMode(coqui.APIModeXTTS), coqui.WithVoice("narrator.wav"), coqui.WithLanguage("de"))
	if _, _, err := s.Synthesize(context.Background(), "Hallo"); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if body["text"] != "Hallo" || body["speaker_wav"] != "narrator.wav" || body["language"] != "de" {
		t.Errorf("body = %v", body)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"not a wav", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>oops</html>"))
		}},
		{"slow", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			s, _ := coqui.New(srv.URL, coqui.WithTimeout(100*time.Millisecond))
			if _, _, err := s.Synthesize(context.Background(), "hello"); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	s, _ := coqui.New("http://127.0.0.1:1")
	if _, _, err := s.Synthesize(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty text, got nil")
	}
}
