// Package config handles configuration loading for hivemind.
// It supports XDG config paths, project-level overrides, and
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/seanmoran/hivemind/pkg/models"
)

// Config holds all configuration for hivemind.
type Config struct {
	Executor ExecutorConfig `mapstructure:"executor"`
	Session  SessionConfig  `mapstructure:"session"`
	Judge    JudgeConfig    `mapstructure:"judge"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

// ExecutorConfig describes the external worker command.
type ExecutorConfig struct {
	// Command is the agent binary invoked per task attempt.
	Command string `mapstructure:"command"`
	// Args are passed to the command ahead of the task prompt.
	Args []string `mapstructure:"args"`
	// WorkFolder is the default working directory for sessions.
	WorkFolder string `mapstructure:"work_folder"`
}

// SessionConfig holds default session parameters. Zero values fall
// back to the model defaults at conversion time.
type SessionConfig struct {
	MaxConcurrentAgents      int           `mapstructure:"max_concurrent_agents"`
	MinAgents                int           `mapstructure:"min_agents"`
	MaxAgents                int           `mapstructure:"max_agents"`
	MaxTaskDepth             int           `mapstructure:"max_task_depth"`
	MaxTasksPerLevel         int           `mapstructure:"max_tasks_per_level"`
	MaxTotalTasks            int           `mapstructure:"max_total_tasks"`
	MaxRetries               int           `mapstructure:"max_retries"`
	MaxJudgeRetries          int           `mapstructure:"max_judge_retries"`
	AgentTimeout             time.Duration `mapstructure:"agent_timeout"`
	SessionTimeout           time.Duration `mapstructure:"session_timeout"`
	CheckpointInterval       time.Duration `mapstructure:"checkpoint_interval"`
	MaxCheckpointsPerSession int           `mapstructure:"max_checkpoints_per_session"`
	FailureThresholdPercent  float64       `mapstructure:"failure_threshold_percent"`
}

// JudgeConfig holds verification policy settings.
type JudgeConfig struct {
	PassThreshold                 float64 `mapstructure:"pass_threshold"`
	RequireHumanApprovalThreshold float64 `mapstructure:"require_human_approval_threshold"`
	AutoReworkOnFailure           bool    `mapstructure:"auto_rework_on_failure"`
}

// StorageConfig holds on-disk state locations.
type StorageConfig struct {
	// CheckpointDir holds per-session checkpoint files.
	CheckpointDir string `mapstructure:"checkpoint_dir"`
	// DatabasePath is the SQLite session index.
	DatabasePath string `mapstructure:"database_path"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (HIVEMIND_EXECUTOR, HIVEMIND_WORK_FOLDER)
// 2. Project config (.hivemind.yaml in current directory or parent)
// 3. User config (~/.config/hivemind/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("executor.command", "HIVEMIND_EXECUTOR")
	v.BindEnv("executor.work_folder", "HIVEMIND_WORK_FOLDER")
	v.BindEnv("storage.checkpoint_dir", "HIVEMIND_CHECKPOINT_DIR")
	v.BindEnv("storage.database_path", "HIVEMIND_DB_PATH")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Executor.Command = expandEnv(cfg.Executor.Command)
	cfg.Storage.CheckpointDir = expandEnv(cfg.Storage.CheckpointDir)
	cfg.Storage.DatabasePath = expandEnv(cfg.Storage.DatabasePath)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Executor.Command = expandEnv(cfg.Executor.Command)
	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("executor.command", cfg.Executor.Command)
	v.Set("executor.args", cfg.Executor.Args)
	v.Set("executor.work_folder", cfg.Executor.WorkFolder)
	v.Set("session.max_concurrent_agents", cfg.Session.MaxConcurrentAgents)
	v.Set("session.max_agents", cfg.Session.MaxAgents)
	v.Set("session.max_task_depth", cfg.Session.MaxTaskDepth)
	v.Set("session.max_retries", cfg.Session.MaxRetries)
	v.Set("session.agent_timeout", cfg.Session.AgentTimeout.String())
	v.Set("session.session_timeout", cfg.Session.SessionTimeout.String())
	v.Set("session.checkpoint_interval", cfg.Session.CheckpointInterval.String())
	v.Set("judge.pass_threshold", cfg.Judge.PassThreshold)
	v.Set("judge.auto_rework_on_failure", cfg.Judge.AutoReworkOnFailure)
	v.Set("storage.checkpoint_dir", cfg.Storage.CheckpointDir)
	v.Set("storage.database_path", cfg.Storage.DatabasePath)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// SessionConfig converts the loaded defaults into a validated session
// config, letting the model defaults fill anything left unset.
func (c *Config) SessionConfig() models.SessionConfig {
	cfg := models.DefaultSessionConfig()
	s := c.Session
	if s.MaxConcurrentAgents > 0 {
		cfg.MaxConcurrentAgents = s.MaxConcurrentAgents
	}
	if s.MinAgents > 0 {
		cfg.MinAgents = s.MinAgents
	}
	if s.MaxAgents > 0 {
		cfg.MaxAgents = s.MaxAgents
	}
	if s.MaxTaskDepth > 0 {
		cfg.MaxTaskDepth = s.MaxTaskDepth
	}
	if s.MaxTasksPerLevel > 0 {
		cfg.MaxTasksPerLevel = s.MaxTasksPerLevel
	}
	if s.MaxTotalTasks > 0 {
		cfg.MaxTotalTasks = s.MaxTotalTasks
	}
	if s.MaxRetries > 0 {
		cfg.MaxRetries = s.MaxRetries
	}
	if s.MaxJudgeRetries > 0 {
		cfg.MaxJudgeRetries = s.MaxJudgeRetries
	}
	if s.AgentTimeout > 0 {
		cfg.AgentTimeout = s.AgentTimeout
	}
	if s.SessionTimeout > 0 {
		cfg.SessionTimeout = s.SessionTimeout
	}
	if s.CheckpointInterval > 0 {
		cfg.CheckpointInterval = s.CheckpointInterval
	}
	if s.MaxCheckpointsPerSession > 0 {
		cfg.MaxCheckpointsPerSession = s.MaxCheckpointsPerSession
	}
	if s.FailureThresholdPercent > 0 {
		cfg.FailureThresholdPercent = s.FailureThresholdPercent
	}
	if c.Judge.PassThreshold > 0 {
		cfg.JudgePassThreshold = c.Judge.PassThreshold
	}
	if c.Judge.RequireHumanApprovalThreshold > 0 {
		cfg.RequireHumanApprovalThreshold = c.Judge.RequireHumanApprovalThreshold
	}
	cfg.AutoReworkOnFailure = c.Judge.AutoReworkOnFailure
	return cfg
}

// CheckpointDir returns the checkpoint directory, defaulting to the
// XDG data path.
func (c *Config) CheckpointDir() string {
	if c.Storage.CheckpointDir != "" {
		return c.Storage.CheckpointDir
	}
	return filepath.Join(getUserDataDir(), "checkpoints")
}

// DatabasePath returns the session index location, defaulting to the
// XDG data path.
func (c *Config) DatabasePath() string {
	if c.Storage.DatabasePath != "" {
		return c.Storage.DatabasePath
	}
	return filepath.Join(getUserDataDir(), "hivemind.db")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("executor.command", "")
	v.SetDefault("executor.work_folder", "")

	d := models.DefaultSessionConfig()
	v.SetDefault("session.max_concurrent_agents", d.MaxConcurrentAgents)
	v.SetDefault("session.min_agents", d.MinAgents)
	v.SetDefault("session.max_agents", d.MaxAgents)
	v.SetDefault("session.max_task_depth", d.MaxTaskDepth)
	v.SetDefault("session.max_tasks_per_level", d.MaxTasksPerLevel)
	v.SetDefault("session.max_total_tasks", d.MaxTotalTasks)
	v.SetDefault("session.max_retries", d.MaxRetries)
	v.SetDefault("session.max_judge_retries", d.MaxJudgeRetries)
	v.SetDefault("session.agent_timeout", d.AgentTimeout.String())
	v.SetDefault("session.session_timeout", d.SessionTimeout.String())
	v.SetDefault("session.checkpoint_interval", d.CheckpointInterval.String())
	v.SetDefault("session.max_checkpoints_per_session", d.MaxCheckpointsPerSession)
	v.SetDefault("session.failure_threshold_percent", d.FailureThresholdPercent)

	v.SetDefault("judge.pass_threshold", d.JudgePassThreshold)
	v.SetDefault("judge.require_human_approval_threshold", d.RequireHumanApprovalThreshold)
	v.SetDefault("judge.auto_rework_on_failure", d.AutoReworkOnFailure)

	v.SetDefault("storage.checkpoint_dir", "")
	v.SetDefault("storage.database_path", "")
}

// getUserConfigDir returns the XDG config directory for hivemind.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "hivemind")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "hivemind")
	}
	return filepath.Join(home, ".config", "hivemind")
}

// getUserDataDir returns the XDG data directory for hivemind.
func getUserDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "hivemind")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".local", "share", "hivemind")
	}
	return filepath.Join(home, ".local", "share", "hivemind")
}

// findProjectConfig searches for .hivemind.yaml in the current
// directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ".hivemind.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	d := models.DefaultSessionConfig()
	return &Config{
		Session: SessionConfig{
			MaxConcurrentAgents:      d.MaxConcurrentAgents,
			MinAgents:                d.MinAgents,
			MaxAgents:                d.MaxAgents,
			MaxTaskDepth:             d.MaxTaskDepth,
			MaxTasksPerLevel:         d.MaxTasksPerLevel,
			MaxTotalTasks:            d.MaxTotalTasks,
			MaxRetries:               d.MaxRetries,
			MaxJudgeRetries:          d.MaxJudgeRetries,
			AgentTimeout:             d.AgentTimeout,
			SessionTimeout:           d.SessionTimeout,
			CheckpointInterval:       d.CheckpointInterval,
			MaxCheckpointsPerSession: d.MaxCheckpointsPerSession,
			FailureThresholdPercent:  d.FailureThresholdPercent,
		},
		Judge: JudgeConfig{
			PassThreshold:                 d.JudgePassThreshold,
			RequireHumanApprovalThreshold: d.RequireHumanApprovalThreshold,
			AutoReworkOnFailure:           d.AutoReworkOnFailure,
		},
	}
}
