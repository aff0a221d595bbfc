package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the x402 watcher daemon.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// Tab matching and behavior
	TabURLFilter   string
	ReloadOnAttach bool

	// Optional managed browser launch
	LaunchBrowser bool
	StartURL      string
	ProfileDir    string

	// Storage settings
	DataDir string

	// Reconciliation behavior
	MergeWindow time.Duration
	ScanDelays  []time.Duration

	// Local API surface
	APIBind          string
	APIFallbackBinds []string

	// Notifications and journaling
	NotifyEndpoint string
	JournalEnabled bool
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:       getEnvOrDefault("X402_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("X402_CDP_PORT", 9222),
		TabURLFilter:     getEnvOrDefault("X402_TAB_URL_FILTER", ""),
		ReloadOnAttach:   getEnvBoolOrDefault("X402_RELOAD_ON_ATTACH", false),
		LaunchBrowser:    getEnvBoolOrDefault("X402_LAUNCH_BROWSER", false),
		StartURL:         getEnvOrDefault("X402_START_URL", "about:blank"),
		ProfileDir:       getEnvOrDefault("X402_PROFILE_DIR", "./browser_profile"),
		DataDir:          getEnvOrDefault("X402_DATA_DIR", "./x402_data"),
		MergeWindow:      time.Duration(getEnvIntOrDefault("X402_MERGE_WINDOW_MS", 5000)) * time.Millisecond,
		ScanDelays:       getEnvDurationsOrDefault("X402_SCAN_DELAYS_MS", nil),
		APIBind:          getEnvOrDefault("X402_API_BIND", "127.0.0.1:8402"),
		APIFallbackBinds: getEnvListOrDefault("X402_API_FALLBACK_BINDS", []string{"127.0.0.1:8403", "127.0.0.1:8404"}),
		NotifyEndpoint:   getEnvOrDefault("X402_NOTIFY_ENDPOINT", ""),
		JournalEnabled:   getEnvBoolOrDefault("X402_JOURNAL_ENABLED", false),
	}

	return cfg, nil
}

// GetCDPURL returns the full CDP HTTP endpoint used by chromedp remote allocator.
func (c *Config) GetCDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

// getEnvDurationsOrDefault parses a comma-separated millisecond list.
func getEnvDurationsOrDefault(key string, defaultVal []time.Duration) []time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []time.Duration
	for _, p := range strings.Split(val, ",") {
		ms, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || ms < 0 {
			slog.Debug("ignoring invalid scan delay", "key", key, "value", p)
			continue
		}
		out = append(out, time.Duration(ms)*time.Millisecond)
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
