// Package llm manages the shared Gemini client used by the extraction
// pipeline. One model instance serves all extraction workers; load and
// unload are explicit operations exposed through the API.
package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Stop sequence appended to every prompt so the model terminates its own
// output instead of rambling past the JSON payload.
const responseStop = "</RESPONSE>"

// Config controls the Gemini model.
type Config struct {
	ModelName       string
	APIKey          string
	Temperature     float32
	MaxOutputTokens int32
}

// Status describes the current model state for the API surface.
type Status struct {
	Name   string `json:"model_name"`
	Device string `json:"device"`
	Loaded bool   `json:"loaded"`
	Error  string `json:"error,omitempty"`
}

// Manager holds the shared Gemini client behind a mutex. Generate calls are
// serialized: the remote API tolerates concurrency, but serializing keeps
// extraction throughput predictable and load/unload races impossible.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	client  *genai.Client
	model   *genai.GenerativeModel
	lastErr string
}

// NewManager builds a Manager. The model is not loaded until Load is called.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if cfg.ModelName == "" {
		cfg.ModelName = "gemini-1.5-flash"
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.3
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 2048
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, logger: logger}
}

// ModelName returns the configured model identifier.
func (m *Manager) ModelName() string {
	return m.cfg.ModelName
}

// Load creates the Gemini client and configures the generative model.
// Loading an already loaded manager is a no-op.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.model != nil {
		return nil
	}
	if m.cfg.APIKey == "" {
		m.lastErr = "model api key not configured"
		return fmt.Errorf("model api key not configured")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(m.cfg.APIKey))
	if err != nil {
		m.lastErr = err.Error()
		return fmt.Errorf("create model client: %w", err)
	}

	model := client.GenerativeModel(m.cfg.ModelName)
	model.SetTemperature(m.cfg.Temperature)
	model.SetMaxOutputTokens(m.cfg.MaxOutputTokens)
	model.StopSequences = []string{responseStop}

	m.client = client
	m.model = model
	m.lastErr = ""
	m.logger.Info("model loaded", zap.String("model", m.cfg.ModelName))
	return nil
}

// Unload closes the client and releases the model. Safe to call when the
// model was never loaded.
func (m *Manager) Unload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	m.model = nil
	if err != nil {
		m.lastErr = err.Error()
		return fmt.Errorf("close model client: %w", err)
	}
	m.logger.Info("model unloaded", zap.String("model", m.cfg.ModelName))
	return nil
}

// Status reports the current model state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Name:   m.cfg.ModelName,
		Device: "api",
		Loaded: m.model != nil,
		Error:  m.lastErr,
	}
}

// Generate runs one prompt through the model and returns the raw text with
// any trailing stop sequence trimmed. The model must be loaded first.
func (m *Manager) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.model == nil {
		return "", fmt.Errorf("model not loaded")
	}

	resp, err := m.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		m.lastErr = err.Error()
		return "", fmt.Errorf("generate content: %w", err)
	}
	text, err := extractText(resp)
	if err != nil {
		m.lastErr = err.Error()
		return "", err
	}
	m.lastErr = ""
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), responseStop)), nil
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}
	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return strings.Join(parts, ""), nil
}
