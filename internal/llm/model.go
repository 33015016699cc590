package llm

import (
	"fmt"
	"log"
	"strings"
	"sync"
)

// Backend identifies a generation service.
type Backend int

const (
	BackendDefault Backend = iota
	BackendOllama
	BackendOpenAI
	BackendGroq
)

func (b Backend) String() string {
	switch b {
	case BackendOllama:
		return "ollama"
	case BackendOpenAI:
		return "openai"
	case BackendGroq:
		return "groq"
	default:
		return "default"
	}
}

// ParseBackend maps a provider name from config to a Backend.
func ParseBackend(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return BackendDefault, nil
	case "ollama":
		return BackendOllama, nil
	case "openai":
		return BackendOpenAI, nil
	case "groq":
		return BackendGroq, nil
	}
	return BackendDefault, fmt.Errorf("unknown LLM provider %q (valid: ollama, openai, groq)", name)
}

// Model selects a backend and the model name to use on it.
// A zero Model means "whatever the router is configured with".
type Model struct {
	Backend Backend
	Name    string
}

func (m Model) String() string {
	if m.Backend == BackendDefault {
		return m.Name
	}
	if m.Name == "" {
		return m.Backend.String()
	}
	return m.Backend.String() + "-" + m.Name
}

// ParseModel turns a request-level model string such as "groq-llama3-8b-8192"
// into a Model. Strings without a known backend prefix select the default
// backend with that model name.
func ParseModel(s string) Model {
	s = strings.TrimSpace(s)
	for _, b := range []Backend{BackendGroq, BackendOllama, BackendOpenAI} {
		prefix := b.String() + "-"
		if strings.HasPrefix(strings.ToLower(s), prefix) {
			return Model{Backend: b, Name: s[len(prefix):]}
		}
		if strings.EqualFold(s, b.String()) {
			return Model{Backend: b}
		}
	}
	return Model{Name: s}
}

// RouterConfig configures which backend serves the zero Model and the
// per-backend defaults.
type RouterConfig struct {
	Default      Backend
	OllamaModel  string
	OllamaURL    string
	OpenAIModel  string
	OpenAIKeyEnv string
	GroqModel    string
	GroqKeyEnv   string
	Wrap         func(Provider) Provider
}

// Router resolves a Model to a Provider bound to that model name.
type Router struct {
	cfg RouterConfig

	mu    sync.Mutex
	cache map[Model]Provider
}

// NewRouter creates a router. A BackendDefault in cfg.Default is treated as Ollama.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Default == BackendDefault {
		cfg.Default = BackendOllama
	}
	if cfg.GroqModel == "" {
		cfg.GroqModel = "llama-3.1-8b-instant"
	}
	return &Router{cfg: cfg, cache: make(map[Model]Provider)}
}

// Resolve returns the provider for m, constructing it on first use.
func (r *Router) Resolve(m Model) Provider {
	if m.Backend == BackendDefault {
		m.Backend = r.cfg.Default
	}
	if m.Name == "" {
		m.Name = r.defaultName(m.Backend)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.cache[m]; ok {
		return p
	}

	var p Provider
	switch m.Backend {
	case BackendOpenAI:
		p = NewOpenAIProvider(m.Name, r.cfg.OpenAIKeyEnv)
	case BackendGroq:
		p = NewGroqProvider(m.Name, r.cfg.GroqKeyEnv)
	default:
		p = NewOllamaProvider(m.Name, r.cfg.OllamaURL)
	}
	if r.cfg.Wrap != nil {
		p = r.cfg.Wrap(p)
	}
	r.cache[m] = p
	log.Printf("Using %s for generation", m)
	return p
}

func (r *Router) defaultName(b Backend) string {
	switch b {
	case BackendOpenAI:
		return r.cfg.OpenAIModel
	case BackendGroq:
		return r.cfg.GroqModel
	default:
		return r.cfg.OllamaModel
	}
}
