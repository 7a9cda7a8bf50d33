package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/session"
)

type deviceInfo struct {
	Session  string `json:"session"`
	Address  string `json:"address"`
	Firmware string `json:"firmware"`
	Battery  uint8  `json:"battery"`
}

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show firmware version and battery level",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd, func(_ context.Context, s *session.Session) error {
				firmware, err := s.ReadFirmware()
				if err != nil {
					return fmt.Errorf("failed to read firmware version: %w", err)
				}
				battery, err := s.ReadBattery()
				if err != nil {
					return fmt.Errorf("failed to read battery level: %w", err)
				}

				info := deviceInfo{
					Session:  s.ID(),
					Address:  s.Address(),
					Firmware: firmware.String(),
					Battery:  battery.Level,
				}
				if a.cfg.OutputFormat == "json" {
					return writeJSON(cmd.OutOrStdout(), info)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "Address:\t%s\n", info.Address)
				fmt.Fprintf(w, "Firmware:\t%s\n", info.Firmware)
				fmt.Fprintf(w, "Battery:\t%d%%\n", info.Battery)
				return w.Flush()
			})
		},
	}
}

func newLedsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "leds <logo-color> <bar-color>",
		Short: "Set the logo and bar LED colors",
		Long: `Set the logo and bar LED colors.

Colors are 6-digit hex RGB values, with or without a leading '#':

  myoctl leds ff0000 0000ff`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logo, err := protocol.ParseColor(args[0])
			if err != nil {
				return err
			}
			bar, err := protocol.ParseColor(args[1])
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(_ context.Context, s *session.Session) error {
				return s.SetLeds(logo, bar)
			})
		},
	}
}

func newVibrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "vibrate <length>",
		Short: "Vibrate the armband (length 1 short, 2 medium, 3 long)",
		Long: `Vibrate the armband. Length is 1 (short), 2 (medium) or 3 (long).

Other lengths are ignored by the armband, so nothing is sent for them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			length, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid vibration length %q: %w", args[0], err)
			}
			if _, ok := protocol.EncodeVibrate(length); !ok {
				a.logger.WithField("length", length).Warn("Vibration length out of range, nothing sent")
			}
			return a.withSession(cmd, func(_ context.Context, s *session.Session) error {
				return s.Vibrate(length)
			})
		},
	}
}

// modeFlags registers --emg, --imu and --classifier on cmd.
type modeFlags struct {
	emg, imu, classifier string
}

func (m *modeFlags) register(cmd *cobra.Command, emg, imu string) {
	cmd.Flags().StringVar(&m.emg, "emg", emg, "EMG mode (off, filt, raw, raw-unfilt)")
	cmd.Flags().StringVar(&m.imu, "imu", imu, "IMU mode (off, data, events, all, raw)")
	cmd.Flags().StringVar(&m.classifier, "classifier", "off", "Classifier mode (off, on)")
}

func (m *modeFlags) mode() (protocol.OperatingMode, error) {
	emg, err := protocol.ParseEmgMode(m.emg)
	if err != nil {
		return protocol.OperatingMode{}, err
	}
	imu, err := protocol.ParseImuMode(m.imu)
	if err != nil {
		return protocol.OperatingMode{}, err
	}
	clf, err := protocol.ParseClassifierMode(m.classifier)
	if err != nil {
		return protocol.OperatingMode{}, err
	}
	return protocol.OperatingMode{Emg: emg, Imu: imu, Classifier: clf}, nil
}

func newModeCmd(a *app) *cobra.Command {
	var flags modeFlags

	cmd := &cobra.Command{
		Use:   "mode",
		Short: "Set the EMG, IMU and classifier modes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, err := flags.mode()
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(_ context.Context, s *session.Session) error {
				if err := s.SetMode(mode); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Mode set: %s\n", mode)
				return err
			})
		},
	}
	flags.register(cmd, "off", "off")
	return cmd
}
