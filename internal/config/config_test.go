package config

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Host:             "127.0.0.1",
		Port:             8080,
		Provider:         ProviderOllama, // no API key requirement in tests
		ModelName:        "llama3.3",
		Temperature:      0.7,
		MaxTokens:        2048,
		OllamaHost:       "http://localhost:11434",
		EmbedderModel:    DefaultEmbedderModel,
		MaxHistoryTokens: 4000,
		ToolParallelism:  4,
		ToolTimeoutSec:   30,
		Storage:          StorageMemory,
		PostgresHost:     "localhost",
		PostgresPort:     5432,
		PostgresUser:     "mu",
		PostgresPassword: "secret-password",
		PostgresDBName:   "mu",
		PostgresSSLMode:  "disable",
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Provider = "claude" },
			wantErr: ErrInvalidProvider,
		},
		{
			name:    "empty model name",
			mutate:  func(c *Config) { c.ModelName = "" },
			wantErr: ErrInvalidModelName,
		},
		{
			name:    "temperature too high",
			mutate:  func(c *Config) { c.Temperature = 2.5 },
			wantErr: ErrInvalidTemperature,
		},
		{
			name:    "negative temperature",
			mutate:  func(c *Config) { c.Temperature = -0.1 },
			wantErr: ErrInvalidTemperature,
		},
		{
			name:    "zero max tokens",
			mutate:  func(c *Config) { c.MaxTokens = 0 },
			wantErr: ErrInvalidMaxTokens,
		},
		{
			name:    "empty embedder model",
			mutate:  func(c *Config) { c.EmbedderModel = "" },
			wantErr: ErrInvalidEmbedderModel,
		},
		{
			name:    "listen port out of range",
			mutate:  func(c *Config) { c.Port = 70000 },
			wantErr: ErrInvalidPort,
		},
		{
			name:    "tool parallelism zero",
			mutate:  func(c *Config) { c.ToolParallelism = 0 },
			wantErr: ErrInvalidToolLimits,
		},
		{
			name:    "tool timeout too large",
			mutate:  func(c *Config) { c.ToolTimeoutSec = 3600 },
			wantErr: ErrInvalidToolLimits,
		},
		{
			name:    "unknown storage backend",
			mutate:  func(c *Config) { c.Storage = "dynamodb" },
			wantErr: ErrInvalidStorage,
		},
		{
			name:    "file storage without data dir",
			mutate:  func(c *Config) { c.Storage = StorageFile; c.DataDir = "" },
			wantErr: ErrInvalidStorage,
		},
		{
			name: "postgres storage with empty host",
			mutate: func(c *Config) {
				c.Storage = StoragePostgres
				c.PostgresHost = ""
			},
			wantErr: ErrInvalidPostgresHost,
		},
		{
			name: "postgres storage with bad port",
			mutate: func(c *Config) {
				c.Storage = StoragePostgres
				c.PostgresPort = 0
			},
			wantErr: ErrInvalidPostgresPort,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want %v", tt.wantErr)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want errors.Is(%v)", err, tt.wantErr)
			}
		})
	}
}

func TestValidateNil(t *testing.T) {
	t.Parallel()

	var c *Config
	if err := c.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Errorf("Validate() on nil = %v, want ErrConfigNil", err)
	}
}

func TestMarshalJSONMasksSecrets(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.PostgresPassword = "super-secret-database-password"
	cfg.RedisPassword = "short"

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	out := string(data)

	if strings.Contains(out, "super-secret-database-password") {
		t.Error("marshaled config contains raw postgres password")
	}
	if strings.Contains(out, `"short"`) {
		t.Error("marshaled config contains raw redis password")
	}
	if !strings.Contains(out, maskedValue) {
		t.Error("marshaled config does not contain mask placeholder")
	}
}

func TestStringMasksSecrets(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.PostgresPassword = "another-very-long-secret"

	if s := cfg.String(); strings.Contains(s, "another-very-long-secret") {
		t.Errorf("String() leaked the password: %s", s)
	}
}

func TestMaskSecret(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "short fully masked", input: "pass", want: maskedValue},
		{name: "exactly eight fully masked", input: "12345678", want: maskedValue},
		{name: "long keeps ends", input: "abcdefghijkl", want: "ab<" + maskedValue + ">kl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := maskSecret(tt.input); got != tt.want {
				t.Errorf("maskSecret(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFullModelName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider string
		model    string
		want     string
	}{
		{name: "gemini default", provider: ProviderGemini, model: "gemini-2.5-flash", want: "googleai/gemini-2.5-flash"},
		{name: "ollama", provider: ProviderOllama, model: "llama3.3", want: "ollama/llama3.3"},
		{name: "openai", provider: ProviderOpenAI, model: "gpt-4o", want: "openai/gpt-4o"},
		{name: "already qualified", provider: ProviderGemini, model: "vertexai/gemini-pro", want: "vertexai/gemini-pro"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &Config{Provider: tt.provider, ModelName: tt.model}
			if got := c.FullModelName(); got != tt.want {
				t.Errorf("FullModelName() = %q, want %q", got, tt.want)
			}
		})
	}
}
