package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/chaz8081/monolink/internal/ai"
	"github.com/chaz8081/monolink/internal/audio"
	"github.com/chaz8081/monolink/internal/ble"
	"github.com/chaz8081/monolink/internal/chatlog"
	"github.com/chaz8081/monolink/internal/config"
	"github.com/chaz8081/monolink/internal/dfu"
	"github.com/chaz8081/monolink/internal/fpga"
	"github.com/chaz8081/monolink/internal/logging"
	"github.com/chaz8081/monolink/internal/scripts"
	"github.com/chaz8081/monolink/internal/session"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Connect to the Monocle, update it and relay queries",
		Description: "Lines typed on stdin are sent to the chat service directly.\n" +
			"/clear clears the history; /mode assistant|translator switches mode.",
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	closeLog := logging.Setup(config.ParseLogLevel(cfg.LogLevel), cfg.LogFile)
	defer closeLog()

	deployment, err := scripts.Load(os.DirFS(cfg.Scripts.Dir), cfg.Scripts.Basenames, cfg.Scripts.EntryPoint, cfg.Scripts.Variable)
	if err != nil {
		return fmt.Errorf("loading scripts from %s: %w", cfg.Scripts.Dir, err)
	}
	mode, err := ai.ParseMode(cfg.AI.Mode)
	if err != nil {
		return err
	}

	printBanner(cfg, deployment.Version)
	warnMissingKeys(cfg)

	store, err := chatlog.Open(cfg.ChatLog)
	if err != nil {
		return err
	}
	defer store.Close()

	timeout := time.Duration(cfg.AI.TimeoutSeconds) * time.Second
	openai := ai.NewOpenAI(cfg.AI.OpenAIKey)
	openai.BaseURL = cfg.AI.OpenAIURL
	openai.ChatModel = cfg.AI.ChatModel
	openai.WhisperModel = cfg.AI.WhisperModel
	openai.MaxHistory = cfg.AI.HistoryLength
	openai.HTTP.Timeout = timeout

	stability := ai.NewStability(cfg.AI.StabilityKey)
	stability.BaseURL = cfg.AI.StabilityURL
	stability.Engine = cfg.AI.ImageEngine
	stability.Strength = cfg.AI.ImageStrength
	stability.Guidance = cfg.AI.ImageGuidance
	stability.HTTP.Timeout = timeout

	collab := session.Collaborators{
		Messages:    store,
		Transcriber: openai,
		Converser:   openai,
		Images:      stability,
		Flasher: dfu.ExecFlasher{
			Command: cfg.Firmware.FlashCommand,
			Args:    cfg.Firmware.FlashArgs,
			Package: cfg.Firmware.Package,
		},
	}

	if cfg.Audio.Playback {
		player, err := audio.NewPlayer(uint32(cfg.Audio.SampleRate))
		if err != nil {
			slog.Warn("Audio playback disabled", "error", err)
		} else {
			defer player.Close()
			collab.Player = player
		}
	}

	link := ble.NewLink(ble.NewTinygoAdapter(), cfg.Device.Address, ble.LinkOptions{
		Name:            cfg.Device.Name,
		BootloaderName:  cfg.Device.BootloaderName,
		ReconnectMax:    cfg.Device.ReconnectMaxSecs,
		InterWriteDelay: cfg.Device.InterWriteDelay,
		ScanTimeout:     time.Duration(cfg.Device.ScanTimeoutSeconds) * time.Second,
	})
	collab.Transport = link

	opts := session.DefaultOptions()
	opts.RequiredFirmware = cfg.Firmware.RequiredVersion
	opts.RequiredImage = cfg.FPGA.RequiredVersion
	opts.MinPayload = cfg.Device.MinPayload
	opts.ShellEntryDelay = cfg.Device.ShellEntryDelay
	opts.ChunkPacing = cfg.Device.ChunkPacing
	opts.Deployment = deployment
	opts.VersionVariable = cfg.Scripts.Variable
	opts.Image = func() (string, error) { return fpga.LoadImage(cfg.FPGA.Image) }
	opts.Mode = mode
	opts.SampleRate = cfg.Audio.SampleRate
	opts.BigEndian = cfg.Audio.BigEndian

	machine := session.New(collab, opts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		machine.Run(ctx)
		close(done)
	}()
	go readQueries(os.Stdin, machine)

	slog.Info("Ready! Waiting for the Monocle. Ctrl+C to quit.")
	err = link.Run(ctx, machine)
	stop()
	<-done
	slog.Info("Goodbye!")
	return err
}

// host is the part of the session the terminal drives.
type host interface {
	SubmitQuery(text string)
	SetMode(mode ai.Mode)
	ClearHistory()
}

// readQueries turns stdin lines into host requests until r is exhausted.
func readQueries(r io.Reader, h host) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case line == "/clear":
			h.ClearHistory()
		case strings.HasPrefix(line, "/mode "):
			mode, err := ai.ParseMode(strings.TrimPrefix(line, "/mode "))
			if err != nil {
				slog.Warn("Unknown mode", "error", err)
				continue
			}
			h.SetMode(mode)
		default:
			h.SubmitQuery(line)
		}
	}
}
