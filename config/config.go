package config

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "VOXROOM"

type Config struct {
	TokenURL string

	SpeechKind  string
	SpeechInput string

	PlaybackFile   string
	ReplyDelay     time.Duration
	RestartBackoff time.Duration

	LogLevel log.Level
	LogFile  string

	ServeAddr       string
	AgentName       string
	AgentGreeting   string
	AgentReplyDelay time.Duration
}

var defaults = map[string]any{
	"token_url":         "http://localhost:3001/api/token",
	"speech":            "none",
	"speech_input":      "-",
	"playback_file":     "",
	"reply_delay":       time.Second,
	"restart_backoff":   100 * time.Millisecond,
	"log_level":         "info",
	"log_file":          "voxroom.log",
	"serve_addr":        ":3001",
	"agent_name":        "assistant",
	"agent_greeting":    "Hello! I'm listening.",
	"agent_reply_delay": 300 * time.Millisecond,
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Load reads the configuration from the global viper instance.
func Load() (Config, error) {
	return LoadFrom(viper.GetViper())
}

func LoadFrom(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	level, err := log.ParseLevel(v.GetString("log_level"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid log_level: %w", err)
	}

	cfg := Config{
		TokenURL:        v.GetString("token_url"),
		SpeechKind:      v.GetString("speech"),
		SpeechInput:     v.GetString("speech_input"),
		PlaybackFile:    v.GetString("playback_file"),
		ReplyDelay:      v.GetDuration("reply_delay"),
		RestartBackoff:  v.GetDuration("restart_backoff"),
		LogLevel:        level,
		LogFile:         v.GetString("log_file"),
		ServeAddr:       v.GetString("serve_addr"),
		AgentName:       v.GetString("agent_name"),
		AgentGreeting:   v.GetString("agent_greeting"),
		AgentReplyDelay: v.GetDuration("agent_reply_delay"),
	}

	if cfg.TokenURL == "" {
		return Config{}, fmt.Errorf("token_url must be set")
	}
	for key, d := range map[string]time.Duration{
		"reply_delay":       cfg.ReplyDelay,
		"restart_backoff":   cfg.RestartBackoff,
		"agent_reply_delay": cfg.AgentReplyDelay,
	} {
		if d < 0 {
			return Config{}, fmt.Errorf("%s must not be negative, got %s", key, d)
		}
	}
	return cfg, nil
}

// Save writes the settings a user can choose interactively to path.
func Save(v *viper.Viper, path string, cfg Config) error {
	v.Set("token_url", cfg.TokenURL)
	v.Set("speech", cfg.SpeechKind)
	v.Set("speech_input", cfg.SpeechInput)
	v.Set("playback_file", cfg.PlaybackFile)
	v.Set("log_level", cfg.LogLevel.String())
	v.Set("log_file", cfg.LogFile)
	v.Set("serve_addr", cfg.ServeAddr)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
