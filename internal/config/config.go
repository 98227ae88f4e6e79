package config

import "fmt"

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Gemini  GeminiConfig
	Log     LogConfig
	Prompt  PromptConfig
	Tasks   TasksConfig
}

type ServerConfig struct {
	Port  int
	Token string
}

type StorageConfig struct {
	DataDir    string
	LibraryDir string
}

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type LogConfig struct {
	Level string
}

type PromptConfig struct {
	MaxContextTokens int
}

type TasksConfig struct {
	Workers int
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Storage: StorageConfig{
			DataDir:    dataDir,
			LibraryDir: "", // derived from DataDir when empty
		},
		Gemini: GeminiConfig{
			Model:   "gemini-flash-latest",
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
		},
		Log: LogConfig{
			Level: "info",
		},
		Prompt: PromptConfig{
			MaxContextTokens: 24000,
		},
		Tasks: TasksConfig{
			Workers: 4,
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/studydesk/config.json, with STUDYDESK_* environment
// variables overriding file values. The Gemini API key is required and is
// only accepted from the environment.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if cfg.Gemini.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: Gemini API key. " +
			"Set it via environment variable STUDYDESK_GEMINI_API_KEY")
	}
	return cfg, nil
}
