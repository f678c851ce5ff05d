package main

import (
	"errors"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/voxroom/config"
)

var errTokenURL = errors.New("token URL must be set")

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Write a config file interactively",
	RunE:  runSetup,
}

func runSetup(cmd *cobra.Command, args []string) error {
	log.Info("Starting voxroom setup...")

	cfg, err := config.Load()
	if err != nil {
		log.Warn("Ignoring invalid settings", "error", err)
		cfg, err = config.LoadFrom(viper.New())
		if err != nil {
			return err
		}
	}

	level := cfg.LogLevel.String()
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Token service URL").
				Value(&cfg.TokenURL).
				Validate(func(s string) error {
					if s == "" {
						return errTokenURL
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Speech recognition").
				Options(
					huh.NewOption("None (text only)", "none"),
					huh.NewOption("Lines from a file or fifo", "lines"),
				).
				Value(&cfg.SpeechKind),
			huh.NewInput().
				Title("Speech input file").
				Description("Used by the lines recognizer").
				Value(&cfg.SpeechInput),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Playback file").
				Description("Ogg file for the assistant's audio, empty to discard it").
				Value(&cfg.PlaybackFile),
			huh.NewSelect[string]().
				Title("Log level").
				Options(huh.NewOptions("debug", "info", "warn", "error")...).
				Value(&level),
			huh.NewInput().
				Title("Log file").
				Value(&cfg.LogFile),
		),
	)

	if err := form.Run(); err != nil {
		log.Error("Error during setup", "error", err)
		return err
	}

	cfg.LogLevel, err = log.ParseLevel(level)
	if err != nil {
		return err
	}

	path := viper.ConfigFileUsed()
	if path == "" {
		path = "config.yaml"
	}
	if err := config.Save(viper.GetViper(), path, cfg); err != nil {
		log.Error("Error saving config", "error", err)
		return err
	}

	log.Info("Setup completed successfully!", "path", path)
	return nil
}
