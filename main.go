package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/voxroom/config"
)

var (
	logger  *log.Logger
	cfgFile string
)

func init() {
	cobra.OnInitialize(initConfig)

	chatCmd.Flags().
		Bool("plain", false, "Use a line-based interface instead of the full-screen one")
	chatCmd.Flags().
		String("transcript", "", "Write the conversation as a table to this file on exit")
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(setupCmd)

	rootCmd.PersistentFlags().
		StringVar(&cfgFile, "config", "", "Config file (default ./config.yaml)")
	rootCmd.PersistentFlags().String("token-url", "", "Token service endpoint")
	rootCmd.PersistentFlags().
		String("speech", "", "Speech recognizer: none or lines")
	rootCmd.PersistentFlags().
		String("speech-input", "", "File or fifo the lines recognizer reads")
	rootCmd.PersistentFlags().
		String("playback-file", "", "Ogg file that receives the assistant's audio")
	rootCmd.PersistentFlags().String("log-level", "", "Log level")
	rootCmd.PersistentFlags().String("log-file", "", "Log file for the chat screen")
	rootCmd.PersistentFlags().String("serve-addr", "", "Development server address")

	viper.BindPFlag("token_url", rootCmd.PersistentFlags().Lookup("token-url"))
	viper.BindPFlag("speech", rootCmd.PersistentFlags().Lookup("speech"))
	viper.BindPFlag(
		"speech_input",
		rootCmd.PersistentFlags().Lookup("speech-input"),
	)
	viper.BindPFlag(
		"playback_file",
		rootCmd.PersistentFlags().Lookup("playback-file"),
	)
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("serve_addr", rootCmd.PersistentFlags().Lookup("serve-addr"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()

	logger = log.New(os.Stderr)

	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "voxroom",
	Short: "Voxroom talks to a voice assistant in a media room",
	Long: `Voxroom joins a real-time media room with an AI voice agent and
keeps a text and voice conversation with it from the terminal.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging points the base logger at w and styles it.
func setupLogging(w io.Writer, level log.Level) {
	logger.SetOutput(w)
	logger.SetLevel(level)
	logger.SetReportCaller(true)
	logger.SetCallerFormatter(
		func(file string, line int, funcName string) string {
			path, err := filepath.Rel(".", file)
			if err != nil {
				path = file
			}
			return fmt.Sprintf("%s:%d", path, line)
		},
	)
	logger.SetStyles(logStyles())
}

func logStyles() *log.Styles {
	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.MarginTop(1).
		Bold(false).Transform(func(s string) string {
		return strings.TrimSuffix(s, ":")
	})
	for _, level := range []log.Level{
		log.DebugLevel,
		log.InfoLevel,
		log.WarnLevel,
		log.ErrorLevel,
	} {
		styles.Levels[level] = styles.Levels[level].
			MaxWidth(6).
			MarginRight(1).
			Bold(false)
	}
	styles.Message = styles.Message.Bold(true).Width(24)
	styles.Key = styles.Key.MarginLeft(1).
		Bold(false).
		Foreground(lipgloss.Color("#ff8800"))
	return styles
}

// component returns a logger for one part of the program, prefixed with
// its name.
func component(name string) *log.Logger {
	return logger.With().WithPrefix(name)
}
