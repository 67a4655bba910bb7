package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/chaz8081/monolink/internal/assets"
	"github.com/chaz8081/monolink/internal/ble"
	"github.com/chaz8081/monolink/internal/chatlog"
	"github.com/chaz8081/monolink/internal/config"
	"github.com/chaz8081/monolink/internal/fpga"
	"github.com/chaz8081/monolink/internal/logging"
	"github.com/chaz8081/monolink/internal/scripts"
)

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "List nearby Monocles",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "advertised name prefix (default from config)"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second, Usage: "scan duration"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			closeLog := logging.Setup(config.ParseLogLevel(cfg.LogLevel), cfg.LogFile)
			defer closeLog()

			name := c.String("name")
			if name == "" {
				name = cfg.Device.Name
			}
			fmt.Printf("Scanning for %q for %s...\n", name, c.Duration("timeout"))
			devices, err := ble.ScanForDevices(ble.NewTinygoAdapter(), name, c.Duration("timeout"))
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("No devices found.")
				return nil
			}
			for i, d := range devices {
				fmt.Printf("  [%d] %-20s %s  RSSI: %d\n", i+1, d.Name, d.Address, d.RSSI)
			}
			fmt.Println("\nSet device.address in your config to pin one of them.")
			return nil
		},
	}
}

func scriptsVersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "scripts-version",
		Usage: "Print the version of the device scripts",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			d, err := scripts.Load(os.DirFS(cfg.Scripts.Dir), cfg.Scripts.Basenames, cfg.Scripts.EntryPoint, cfg.Scripts.Variable)
			if err != nil {
				return err
			}
			fmt.Println(d.Version)
			for _, f := range d.Files {
				fmt.Printf("  %s (%d bytes)\n", f.Name, len(f.Content))
			}
			return nil
		},
	}
}

func fpgaPlanCommand() *cli.Command {
	return &cli.Command{
		Name:  "fpga-plan",
		Usage: "Show how the FPGA image would be chunked for a payload size",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "payload", Value: 182, Usage: "max BLE payload in bytes"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			image, err := fpga.LoadImage(cfg.FPGA.Image)
			if err != nil {
				return err
			}
			t, err := fpga.NewTransfer(image, c.Int("payload"), false)
			if err != nil {
				return err
			}
			fmt.Printf("Image:      %s (%d base64 bytes)\n", cfg.FPGA.Image, len(image))
			fmt.Printf("Chunk size: %d\n", t.ChunkSize)
			fmt.Printf("Chunks:     %d\n", t.Total)
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show or clear the chat log",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20, Usage: "number of messages to show"},
			&cli.BoolFlag{Name: "clear", Usage: "delete all messages"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			store, err := chatlog.Open(cfg.ChatLog)
			if err != nil {
				return err
			}
			defer store.Close()

			if c.Bool("clear") {
				if err := store.Clear(); err != nil {
					return err
				}
				fmt.Println("Chat log cleared.")
				return nil
			}
			msgs, err := store.Recent(c.Int("limit"))
			if err != nil {
				return err
			}
			for _, m := range msgs {
				text := m.Text
				if len(m.Picture) > 0 {
					text += fmt.Sprintf(" [picture, %d bytes]", len(m.Picture))
				}
				if m.IsError {
					text = "error: " + text
				}
				fmt.Printf("%s  %-10s %s\n", m.Time.Format(time.DateTime), m.Participant, text)
			}
			return nil
		},
	}
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Write a default config file",
		Action: func(c *cli.Context) error {
			path, err := config.WriteDefault()
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
				return nil
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Download the firmware package and FPGA image",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			f := assets.Fetcher{HTTP: &http.Client{Timeout: 10 * time.Minute}, Out: os.Stdout}

			fmt.Printf("[1/2] Firmware %s:\n", cfg.Firmware.RequiredVersion)
			if _, err := f.Fetch(c.Context, cfg.Firmware.PackageURL, cfg.Firmware.Package); err != nil {
				return err
			}
			fmt.Printf("[2/2] FPGA image %s:\n", cfg.FPGA.RequiredVersion)
			if _, err := f.Fetch(c.Context, cfg.FPGA.ImageURL, cfg.FPGA.Image); err != nil {
				return err
			}
			fmt.Println("Done.")
			return nil
		},
	}
}
