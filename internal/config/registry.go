package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/livewhisper/internal/host"
	"github.com/MrWong99/livewhisper/pkg/provider/stt"
	"github.com/MrWong99/livewhisper/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// HostDeps carries the collaborators a host factory may need.
type HostDeps struct {
	// Speaker voices the host's replies.
	Speaker tts.Speaker

	// Ignore reports transcripts the host must not answer, typically those
	// already handled by a dispatch rule. May be nil.
	Ignore func(text string) bool

	// OnReply observes every reply before it is spoken. May be nil.
	OnReply func(reply string)
}

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	stt  map[string]func(ProviderEntry) (stt.Transcriber, error)
	tts  map[string]func(ProviderEntry) (tts.Speaker, error)
	host map[string]func(ProviderEntry, HostDeps) (host.Host, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:  make(map[string]func(ProviderEntry) (stt.Transcriber, error)),
		tts:  make(map[string]func(ProviderEntry) (tts.Speaker, error)),
		host: make(map[string]func(ProviderEntry, HostDeps) (host.Host, error)),
	}
}

// RegisterSTT registers a transcriber factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a speaker factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Speaker, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterHost registers a host factory under name.
func (r *Registry) RegisterHost(name string, factory func(ProviderEntry, HostDeps) (host.Host, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.host[name] = factory
}

// CreateSTT instantiates a transcriber using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a speaker using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Speaker, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateHost instantiates a host using the factory registered under entry.Name.
func (r *Registry) CreateHost(entry ProviderEntry, deps HostDeps) (host.Host, error) {
	r.mu.RLock()
	factory, ok := r.host[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: host/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry, deps)
}
