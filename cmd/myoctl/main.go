package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/srg/myoctl/pkg/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "myoctl",
		Short: "Myo armband command-line tool",
		Long: `Command-line tool for the Myo EMG/IMU armband over Bluetooth Low Energy:

- Scan for armbands by their advertised service signature
- Read firmware version and battery level
- Set LED colors, vibrate, and switch EMG/IMU/classifier modes
- Stream decoded EMG and IMU readings, record them, and replay recordings
- Serve live readings to WebSocket clients

Without --address, device commands connect to the first armband found.`,
		Version:           formatVersion(version),
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	defaults := config.DefaultConfig()
	pf := root.PersistentFlags()
	pf.String("config", "", "Config file (default $HOME/"+config.FileName+")")
	pf.String("log-level", defaults.LogLevel, "Log level (debug, info, warn, error)")
	pf.Bool("verbose", false, "Debug logging (same as --log-level debug)")
	pf.String("log-file", "", "Also write logs to this file, rotated")
	pf.StringP("format", "f", defaults.OutputFormat, "Output format (table, json)")
	pf.StringP("address", "a", "", "Device address (default: first Myo found)")
	pf.Duration("scan-window", defaults.ScanWindow, "Length of one scan window")
	pf.Duration("discovery-timeout", defaults.DiscoveryTimeout, "Give up discovery after this long (0 waits until interrupted)")
	pf.Duration("connect-timeout", defaults.ConnectTimeout, "Connection timeout")
	pf.Duration("settle-delay", defaults.SettleDelay, "Pause after connecting before the first write")
	pf.Int("queue-size", defaults.QueueSize, "Per-endpoint notification queue size")

	// Add -v as a short flag for --version
	root.Flags().BoolP("version", "v", false, "Show version information")

	root.AddCommand(
		newScanCmd(a),
		newInfoCmd(a),
		newLedsCmd(a),
		newVibrateCmd(a),
		newModeCmd(a),
		newStreamCmd(a),
		newReplayCmd(a),
		newHandlesCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "myoctl %s (commit %s, built %s)\n", formatVersion(version), commit, date)
			return err
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
