package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"node.town/voxroom/config"
	"node.town/voxroom/session"
	"node.town/voxroom/snd"
	"node.town/voxroom/stt"
	"node.town/voxroom/token"
	"node.town/voxroom/transport"
	"node.town/voxroom/ui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start a conversation with the assistant",
	Long: `Open the conversation screen. Connect to the room, type messages,
and toggle voice mode, the microphone and the assistant's audio.`,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	plain, _ := cmd.Flags().GetBool("plain")
	transcriptPath, _ := cmd.Flags().GetString("transcript")

	if strings.EqualFold(cfg.SpeechKind, "lines") &&
		(cfg.SpeechInput == "" || cfg.SpeechInput == "-") {
		return errors.New(
			"speech_input must name a file or fifo, the terminal is used by the chat",
		)
	}

	// The full-screen interface owns the terminal, so logs go to a file.
	var logOut io.Writer = os.Stderr
	if !plain {
		f, err := os.OpenFile(
			cfg.LogFile,
			os.O_CREATE|os.O_WRONLY|os.O_APPEND,
			0o644,
		)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	setupLogging(logOut, cfg.LogLevel)
	mainLog := component("main")
	roomLog := component("room")
	hearLog := component("hear")

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	recognizer, err := stt.Open(stt.Config{
		Kind:  cfg.SpeechKind,
		Input: cfg.SpeechInput,
	}, hearLog)
	if errors.Is(err, stt.ErrCapabilityUnavailable) {
		mainLog.Info("speech recognition unavailable", "reason", err)
		recognizer = nil
	} else if err != nil {
		return err
	}
	if closer, ok := recognizer.(io.Closer); ok {
		defer closer.Close()
	}

	player, err := snd.OpenFile(cfg.PlaybackFile, component("play"))
	if err != nil {
		return err
	}

	var (
		observer session.Observer
		feed     *ui.Feed
	)
	if plain {
		observer = ui.NewPrinter(os.Stdout)
	} else {
		feed = ui.NewFeed()
		observer = feed
	}

	ctrl := session.New(session.Deps{
		Issuer: token.NewClient(cfg.TokenURL),
		Rooms: func() transport.Room {
			return transport.NewWSRoom(roomLog)
		},
		Recognizer:     recognizer,
		Player:         player,
		Observer:       observer,
		Log:            component("chat"),
		RoomLog:        roomLog,
		SpeechLog:      hearLog,
		ReplyDelay:     cfg.ReplyDelay,
		RestartBackoff: cfg.RestartBackoff,
	})

	mainLog.Info(
		"starting chat",
		"token_url", cfg.TokenURL,
		"speech", recognizer != nil,
		"plain", plain,
	)

	var runErr error
	if plain {
		runErr = ui.RunPlain(ctx, ctrl, os.Stdin, os.Stdout)
	} else {
		runErr = ui.Run(ctx, ctrl, feed)
		feed.Close()
	}

	if err := ctrl.Close(); err != nil {
		mainLog.Warn("close conversation", "error", err)
	}

	if transcriptPath != "" {
		if err := writeTranscript(transcriptPath, ctrl); err != nil {
			mainLog.Error("write transcript", "error", err)
			if runErr == nil {
				runErr = err
			}
		} else {
			mainLog.Info("wrote transcript", "path", transcriptPath)
		}
	}
	return runErr
}

func writeTranscript(path string, ctrl *session.Controller) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create transcript: %w", err)
	}
	ui.WriteTranscript(f, ctrl.History().Entries())
	return f.Close()
}
