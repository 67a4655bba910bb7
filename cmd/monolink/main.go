package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/chaz8081/monolink/internal/config"
)

func main() {
	app := &cli.App{
		Name:  "monolink",
		Usage: "Keep a Monocle up to date and relay it to AI services",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file (default: ~/.config/monolink/config.yaml)",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			scanCommand(),
			scriptsVersionCommand(),
			fpgaPlanCommand(),
			historyCommand(),
			fetchCommand(),
			initCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config named by --config, or the default config path,
// or built-in defaults, and validates it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadOrDefault(config.DefaultConfigPath())
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config, version string) {
	device := cfg.Device.Address
	if device == "" {
		device = "first \"" + cfg.Device.Name + "\""
	}
	fmt.Println("=== monolink ===")
	fmt.Printf("  Device:   %s\n", device)
	fmt.Printf("  Firmware: %s\n", cfg.Firmware.RequiredVersion)
	fmt.Printf("  FPGA:     %s\n", cfg.FPGA.RequiredVersion)
	fmt.Printf("  Scripts:  %s (%s)\n", cfg.Scripts.Dir, shortVersion(version))
	fmt.Printf("  Mode:     %s\n", cfg.AI.Mode)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("================")
}

func shortVersion(v string) string {
	if len(v) > 12 {
		return v[:12]
	}
	return v
}

// warnMissingKeys logs which AI features will fail without credentials.
func warnMissingKeys(cfg *config.Config) {
	if cfg.AI.OpenAIKey == "" {
		slog.Warn("No OpenAI API key; transcription and chat will fail (set OPENAI_API_KEY)")
	}
	if cfg.AI.StabilityKey == "" {
		slog.Warn("No Stability API key; photo prompts will fail (set STABILITY_API_KEY)")
	}
}
