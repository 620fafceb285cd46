package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "plc-bridge",
	Short: "Modbus TCP bridge for IEC 61131-3 process images",
	Long: `plc-bridge moves data between an IEC 61131-3 process image and
Modbus TCP devices.

As a master it polls remote devices on a per-device cycle and maps the
results into %I/%Q/%M buffer locations. As a slave it exposes the same
buffers to external masters as coils, discrete inputs and registers.

Examples:
  # Run the bridge
  plc-bridge serve --config bridge.yaml

  # Check a configuration without starting anything
  plc-bridge validate --config bridge.yaml

  # Print the slave-side address layout
  plc-bridge layout --config bridge.yaml`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "plc-bridge.yaml", "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(layoutCmd)
}
