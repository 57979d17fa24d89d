package config

import (
	"fmt"
	"os"
	"slices"
)

var validProviders = []string{ProviderGemini, ProviderOllama, ProviderOpenAI}

var validStorages = []string{StoragePostgres, StorageFile, StorageMemory}

// Validate checks configuration values and returns sentinel errors that can
// be branched on with errors.Is.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if !slices.Contains(validProviders, c.Provider) {
		return fmt.Errorf("%w: %q (valid: gemini, ollama, openai)", ErrInvalidProvider, c.Provider)
	}

	// API keys are read directly by the provider plugins; fail fast here
	// instead of on the first model call.
	switch c.Provider {
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
				"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
				ErrMissingAPIKey)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required", ErrMissingAPIKey)
		}
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	// Temperature range per the Gemini API: 0.0 deterministic to 2.0.
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.MaxTokens < 1 || c.MaxTokens > 2097152 {
		return fmt.Errorf("%w: must be between 1 and 2,097,152, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPort, c.Port)
	}

	if c.MaxHistoryTokens < 0 {
		return fmt.Errorf("%w: max_history_tokens cannot be negative, got %d", ErrInvalidToolLimits, c.MaxHistoryTokens)
	}
	if c.ToolParallelism < 1 || c.ToolParallelism > 32 {
		return fmt.Errorf("%w: tool_parallelism must be between 1 and 32, got %d", ErrInvalidToolLimits, c.ToolParallelism)
	}
	if c.ToolTimeoutSec < 1 || c.ToolTimeoutSec > 600 {
		return fmt.Errorf("%w: tool_timeout_seconds must be between 1 and 600, got %d", ErrInvalidToolLimits, c.ToolTimeoutSec)
	}

	if !slices.Contains(validStorages, c.Storage) {
		return fmt.Errorf("%w: %q (valid: postgres, file, memory)", ErrInvalidStorage, c.Storage)
	}
	if c.Storage == StorageFile && c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required for file storage", ErrInvalidStorage)
	}

	if c.Storage == StoragePostgres {
		if c.PostgresHost == "" {
			return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
		}
		if c.PostgresPort < 1 || c.PostgresPort > 65535 {
			return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
		}
	}

	return nil
}
