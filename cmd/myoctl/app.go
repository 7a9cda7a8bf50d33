package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/srg/myoctl/internal/devicefactory"
	"github.com/srg/myoctl/internal/session"
	"github.com/srg/myoctl/pkg/config"
)

// app carries the resolved configuration shared by all commands.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *logrus.Logger
}

// setup loads configuration once flags are parsed.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	if err := config.BindFlags(a.v, flags); err != nil {
		return err
	}
	if f := flags.Lookup("format"); f != nil {
		if err := a.v.BindPFlag("output_format", f); err != nil {
			return err
		}
	}

	path, _ := flags.GetString("config")
	cfg, err := config.Load(a.v, path)
	if err != nil {
		return err
	}
	if verbose, _ := flags.GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
	}
	a.cfg = cfg
	a.logger = cfg.NewLogger()
	if cfg.LogFile == "" {
		a.logger.SetOutput(cmd.ErrOrStderr())
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true
	return nil
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// connect discovers the armband (or the --address device) and connects.
func (a *app) connect(ctx context.Context, cmd *cobra.Command) (*session.Session, error) {
	transport, err := devicefactory.NewTransport(a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE transport: %w", err)
	}

	address, _ := cmd.Flags().GetString("address")
	s := session.New(transport, a.cfg.SessionOptions(), a.logger)

	target := "Myo"
	if address != "" {
		target = address
	}
	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Connecting to "+target, "Discovering")
	progress.Start()
	err = s.Connect(ctx, address)
	progress.Stop()
	if err != nil {
		return nil, err
	}

	a.logger.WithFields(logrus.Fields{
		"session": s.ID(),
		"address": s.Address(),
	}).Info("Connected to Myo")
	return s, nil
}

// withSession runs fn on a connected session and disconnects afterwards.
func (a *app) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session.Session) error) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	s, err := a.connect(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Disconnect(); err != nil {
			a.logger.WithError(err).Warn("Disconnect failed")
		}
	}()
	return fn(ctx, s)
}
