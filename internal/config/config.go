// Package config provides configuration management for the paper
// twin-view translator.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"paper-twinview/internal/logger"
	"paper-twinview/internal/types"
)

const (
	// DefaultConfigFileName is the default configuration file name.
	DefaultConfigFileName = "paper-twinview-config.json"
	// EnvOpenAIAPIKey is the environment variable for the API key.
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	// EnvOpenAIBaseURL is the environment variable for the base URL.
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"
	// DefaultBaseURL is the default OpenAI-compatible API base URL.
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultModel is the default vision-capable model.
	DefaultModel = "gpt-4o"
	// DefaultRenderDPI balances page legibility against request payload size.
	DefaultRenderDPI = 144
	// DefaultPageCap is the hard ceiling on pages rasterized per call.
	// It is a cost-control knob, not a document limit.
	DefaultPageCap = 50
)

// Manager manages the persisted application configuration.
type Manager struct {
	configPath string
	config     *types.Config
}

// NewManager creates a Manager for the given config path. An empty
// path resolves to the default location under the user config dir.
func NewManager(configPath string) (*Manager, error) {
	if configPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			logger.Error("failed to get user home directory", err)
			return nil, types.NewAppError(types.ErrConfig, "failed to get user home directory", err)
		}
		configPath = filepath.Join(homeDir, ".config", "paper-twinview", DefaultConfigFileName)
	}

	logger.Info("config manager initialized", logger.String("configPath", configPath))
	return &Manager{
		configPath: configPath,
		config:     defaultConfig(),
	}, nil
}

func defaultConfig() *types.Config {
	return &types.Config{
		Provider:      "openai",
		OpenAIBaseURL: DefaultBaseURL,
		OpenAIModel:   DefaultModel,
		Tone:          types.ToneAcademic,
		RenderDPI:     DefaultRenderDPI,
		PageCap:       DefaultPageCap,
	}
}

// Load reads the configuration file. A missing file falls back to
// defaults; environment variables override empty credential fields.
func (m *Manager) Load() error {
	logger.Debug("loading configuration", logger.String("path", m.configPath))

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("config file not found, using defaults", logger.String("path", m.configPath))
			m.config = defaultConfig()
		} else {
			logger.Error("failed to read config file", err, logger.String("path", m.configPath))
			return types.NewAppError(types.ErrConfig, "failed to read config file", err)
		}
	} else {
		cfg := &types.Config{}
		if err := json.Unmarshal(data, cfg); err != nil {
			logger.Warn("invalid config file format, using defaults", logger.Err(err))
			m.config = defaultConfig()
		} else {
			m.config = cfg
		}
	}

	m.applyDefaults()

	// Environment variables take precedence when the file carries no key.
	if m.config.OpenAIAPIKey == "" {
		if key := os.Getenv(EnvOpenAIAPIKey); key != "" {
			m.config.OpenAIAPIKey = key
		}
	}
	if url := os.Getenv(EnvOpenAIBaseURL); url != "" {
		m.config.OpenAIBaseURL = url
	}

	logger.Info("configuration loaded",
		logger.Int("apiKeyLength", len(m.config.OpenAIAPIKey)),
		logger.String("baseURL", m.config.OpenAIBaseURL),
		logger.String("model", m.config.OpenAIModel))
	return nil
}

func (m *Manager) applyDefaults() {
	if m.config.Provider == "" {
		m.config.Provider = "openai"
	}
	if m.config.OpenAIBaseURL == "" {
		m.config.OpenAIBaseURL = DefaultBaseURL
	}
	if m.config.OpenAIModel == "" {
		m.config.OpenAIModel = DefaultModel
	}
	if m.config.Tone == "" {
		m.config.Tone = types.ToneAcademic
	}
	if m.config.RenderDPI <= 0 {
		m.config.RenderDPI = DefaultRenderDPI
	}
	if m.config.PageCap <= 0 {
		m.config.PageCap = DefaultPageCap
	}
}

// Save writes the current configuration to disk.
func (m *Manager) Save() error {
	dir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return types.NewAppError(types.ErrConfig, "failed to create config directory", err)
	}

	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return types.NewAppError(types.ErrConfig, "failed to serialize config", err)
	}
	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return types.NewAppError(types.ErrConfig, "failed to write config file", err)
	}

	logger.Info("configuration saved", logger.String("path", m.configPath))
	return nil
}

// Update replaces the mutable settings and persists them.
func (m *Manager) Update(apiKey, baseURL, model string, tone types.Tone, pageCap int) error {
	m.config.OpenAIAPIKey = apiKey
	m.config.OpenAIBaseURL = baseURL
	m.config.OpenAIModel = model
	m.config.Tone = tone
	if pageCap > 0 {
		m.config.PageCap = pageCap
	}
	m.applyDefaults()
	return m.Save()
}

// Get returns the current configuration.
func (m *Manager) Get() *types.Config { return m.config }

// GetAPIKey returns the configured API key.
func (m *Manager) GetAPIKey() string { return m.config.OpenAIAPIKey }

// GetBaseURL returns the configured API base URL.
func (m *Manager) GetBaseURL() string { return m.config.OpenAIBaseURL }

// GetModel returns the configured model identifier.
func (m *Manager) GetModel() string { return m.config.OpenAIModel }

// GetTone returns the configured translation tone.
func (m *Manager) GetTone() types.Tone { return m.config.Tone }

// GetPageCap returns the per-call rasterization ceiling.
func (m *Manager) GetPageCap() int { return m.config.PageCap }

// GetRenderDPI returns the rasterization density.
func (m *Manager) GetRenderDPI() int { return m.config.RenderDPI }

// GetUserStorePath returns the account store location, defaulting to a
// file next to the config file.
func (m *Manager) GetUserStorePath() string {
	if m.config.UserStorePath != "" {
		return m.config.UserStorePath
	}
	return filepath.Join(filepath.Dir(m.configPath), "users.json")
}

// GetWorkDirectory returns the configured scratch directory.
func (m *Manager) GetWorkDirectory() string { return m.config.WorkDirectory }
