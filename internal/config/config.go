package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration, shared by the coordinator
// (`synapse serve`) and the bot (`synapse bot`)
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Discord  DiscordConfig  `yaml:"discord"`
	Bot      BotConfig      `yaml:"bot"`
	Recap    RecapConfig    `yaml:"recap"`
	Puzzle   PuzzleConfig   `yaml:"puzzle"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig holds coordinator HTTP settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	HTTPPort   int    `yaml:"http_port"`
}

// DatabaseConfig holds SQLite settings. Both processes open the same file;
// WAL mode and the busy timeout make that safe.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// DiscordConfig holds chat platform credentials
type DiscordConfig struct {
	BotToken      string `yaml:"bot_token"`
	ApplicationID string `yaml:"application_id"`
	ClientSecret  string `yaml:"client_secret"`
	APIBase       string `yaml:"api_base"`
	GatewayURL    string `yaml:"gateway_url"`
}

// BotConfig holds session polling settings
type BotConfig struct {
	ServerURL       string        `yaml:"server_url"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	SessionMaxAge   time.Duration `yaml:"session_max_age"`
	RetirementGrace time.Duration `yaml:"retirement_grace"`
}

// RecapConfig gates the daily recap post. Hour and minute are local to the
// fixed reference timezone given by TimezoneOffset (hours from UTC).
type RecapConfig struct {
	Hour           int  `yaml:"hour"`
	Minute         int  `yaml:"minute"`
	TimezoneOffset *int `yaml:"timezone_offset"`
}

// Offset returns the configured reference offset in hours
func (r RecapConfig) Offset() int {
	if r.TimezoneOffset == nil {
		return -4
	}
	return *r.TimezoneOffset
}

// PuzzleConfig points at the upstream daily puzzle provider
type PuzzleConfig struct {
	ProviderURL string `yaml:"provider_url"`
}

// AuthConfig holds the shared secret for service tokens
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

// LoadDotenv loads a .env file if one exists next to the process. Secrets like
// the bot token usually arrive this way in development.
func LoadDotenv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("checking dotenv file %s: %w", path, err)
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("loading dotenv file %s: %w", path, err)
		}
	}
	return nil
}

// Save writes configuration to a YAML file
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 3001
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/synapse/synapse.db"
	}
	if cfg.Discord.APIBase == "" {
		cfg.Discord.APIBase = "https://discord.com/api/v10"
	}
	if cfg.Discord.GatewayURL == "" {
		cfg.Discord.GatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"
	}
	if cfg.Bot.ServerURL == "" {
		cfg.Bot.ServerURL = fmt.Sprintf("http://localhost:%d", cfg.Server.HTTPPort)
	}
	if cfg.Bot.PollInterval == 0 {
		cfg.Bot.PollInterval = 5 * time.Second
	}
	if cfg.Bot.SessionMaxAge == 0 {
		cfg.Bot.SessionMaxAge = 12 * time.Hour
	}
	if cfg.Bot.RetirementGrace == 0 {
		cfg.Bot.RetirementGrace = 30 * time.Second
	}
	if cfg.Recap.Hour == 0 && cfg.Recap.Minute == 0 {
		cfg.Recap.Hour = 9
		cfg.Recap.Minute = 5
	}
	if cfg.Puzzle.ProviderURL == "" {
		cfg.Puzzle.ProviderURL = "https://www.nytimes.com/svc/connections/v2"
	}
	if cfg.Auth.TokenDuration == 0 {
		cfg.Auth.TokenDuration = 24 * time.Hour
	}
}

// applyEnv lets secrets in the environment override the config file, so the
// yaml can be committed without credentials
func (cfg *Config) applyEnv() {
	if v := os.Getenv("DISCORD_BOT_TOKEN"); v != "" {
		cfg.Discord.BotToken = v
	}
	if v := os.Getenv("DISCORD_CLIENT_SECRET"); v != "" {
		cfg.Discord.ClientSecret = v
	}
	if v := os.Getenv("SYNAPSE_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
}
