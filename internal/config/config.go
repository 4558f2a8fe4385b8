package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// LoggingConfig holds the logging-related configuration.
type LoggingConfig struct {
	Level string `mapstructure:"log_level"`
}

// StoreConfig controls where container metadata records are kept.
type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

// EngineConfig holds container engine preferences.
type EngineConfig struct {
	// Prefer forces a specific engine binary ("docker" or "podman").
	// Empty means auto-detect, preferring the rootless-capable engine.
	Prefer         string `mapstructure:"prefer"`
	CommandTimeout int    `mapstructure:"command_timeout"`
}

// SecurityConfig holds hardening knobs applied to every created container.
type SecurityConfig struct {
	PidsLimit     int    `mapstructure:"pids_limit"`
	DefaultMemory string `mapstructure:"default_memory"`
}

// EnvConfig holds environment passthrough behavior. Patterns are external
// configuration data, not hard-coded policy; the never-forward denylist is a
// non-overridable floor and therefore lives in code, not here.
type EnvConfig struct {
	Patterns []string `mapstructure:"patterns"`
}

// DotfilesConfig holds the user's default dotfiles source, applied when a
// create request does not specify one.
type DotfilesConfig struct {
	Repo   string `mapstructure:"repo"`
	Script string `mapstructure:"script"`
	Branch string `mapstructure:"branch"`
	Target string `mapstructure:"target"`
}

// SafetyConfig holds the approval-gate policy for risky operations.
type SafetyConfig struct {
	RequireApprovalFor     []string `mapstructure:"require_approval_for"`
	SensitiveMountPrefixes []string `mapstructure:"sensitive_mount_prefixes"`
	MaxContainers          int      `mapstructure:"max_containers"`
}

// ProfileConfig describes a purpose profile supplied via the config file.
// Entries here override or extend the built-in profiles by name.
type ProfileConfig struct {
	Image         string            `mapstructure:"image"`
	Packages      []string          `mapstructure:"packages"`
	SetupCommands []string          `mapstructure:"setup_commands"`
	Env           map[string]string `mapstructure:"env"`
	ForwardGit    *bool             `mapstructure:"forward_git"`
	ForwardGH     *bool             `mapstructure:"forward_gh"`
	ForwardSSH    *bool             `mapstructure:"forward_ssh"`
	Dotfiles      *bool             `mapstructure:"dotfiles"`
	SettingsFiles map[string]string `mapstructure:"settings_files"`
}

// Config is the top-level configuration struct.
type Config struct {
	Logging  LoggingConfig            `mapstructure:"log"`
	Store    StoreConfig              `mapstructure:"store"`
	Engine   EngineConfig             `mapstructure:"engine"`
	Security SecurityConfig           `mapstructure:"security"`
	Env      EnvConfig                `mapstructure:"env"`
	Dotfiles DotfilesConfig           `mapstructure:"dotfiles"`
	Safety   SafetyConfig             `mapstructure:"safety"`
	Profiles map[string]ProfileConfig `mapstructure:"profiles"`
}

// DefaultEnvPatterns selects credential and proxy variables commonly needed by
// agent tooling inside a container. Overridable via env.patterns.
var DefaultEnvPatterns = []string{
	"*_API_KEY",
	"*_TOKEN",
	"*_SECRET",
	"ANTHROPIC_*",
	"OPENAI_*",
	"AZURE_OPENAI_*",
	"GOOGLE_*",
	"GEMINI_*",
	"OLLAMA_*",
	"VLLM_*",
	"AMPLIFIER_*",
	"HTTP_PROXY",
	"HTTPS_PROXY",
	"NO_PROXY",
	"http_proxy",
	"https_proxy",
	"no_proxy",
}

func defaultStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".amplifier", "containers")
	}
	return filepath.Join(home, ".amplifier", "containers")
}

// InitConfig performs the initial configuration: setting defaults, specifying the config file, and reading it.
func InitConfig() error {
	viper.SetDefault("log.log_level", "INFO")
	viper.SetDefault("store.dir", defaultStoreDir())
	viper.SetDefault("engine.prefer", "")
	viper.SetDefault("engine.command_timeout", 300)
	viper.SetDefault("security.pids_limit", 256)
	viper.SetDefault("security.default_memory", "4g")
	viper.SetDefault("env.patterns", DefaultEnvPatterns)
	viper.SetDefault("dotfiles.target", "~/.dotfiles")
	viper.SetDefault("safety.require_approval_for", []string{
		"gpu_access",
		"host_network",
		"sensitive_mounts",
		"ssh_forwarding",
		"all_env_passthrough",
		"destroy_all",
	})
	viper.SetDefault("safety.sensitive_mount_prefixes", []string{
		"/", "/etc", "/var", "/root", "/home", "/boot", "/sys", "/proc",
	})
	viper.SetDefault("safety.max_containers", 10)

	// Specify the config file details.
	viper.SetConfigName("config") // Looks for config.yaml
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath(defaultStoreDir())

	// Read the config file if available.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// If the file is not found, just continue with defaults and env vars.
	}

	// Enable automatic environment variable binding.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return nil
}

// Load unmarshals the configuration into the Config struct.
func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	return &config, nil
}
