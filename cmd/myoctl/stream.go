package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/recorder"
	"github.com/srg/myoctl/internal/session"
	"github.com/srg/myoctl/internal/wsfeed"
)

type streamOptions struct {
	modes      modeFlags
	battery    bool
	duration   time.Duration
	recordPath string
	sqlitePath string
	serveAddr  string
}

func newStreamCmd(a *app) *cobra.Command {
	var opts streamOptions

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream EMG, IMU and battery readings",
		Long: `Stream EMG, IMU and battery readings until interrupted.

Subscriptions follow the selected modes: raw EMG modes subscribe to the four
raw channels, the filtered mode to the filtered characteristic, any IMU mode
to IMU data. Readings can be recorded to a file (--record) or a SQLite
database (--sqlite) and broadcast over WebSocket (--serve).`,
		Example: `  myoctl stream --emg raw --imu off
  myoctl stream --battery --record session.cbor -f json
  myoctl stream --serve 127.0.0.1:8765`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, err := opts.modes.mode()
			if err != nil {
				return err
			}
			subs := streamSubscriptions(mode, opts.battery)
			if len(subs) == 0 {
				return fmt.Errorf("nothing to stream: enable --emg, --imu, --classifier or --battery")
			}

			sink, err := openSinks(opts.recordPath, opts.sqlitePath)
			if err != nil {
				return err
			}
			if sink != nil {
				defer func() {
					if err := sink.Close(); err != nil {
						a.logger.WithError(err).Warn("Failed to close recording")
					}
				}()
			}

			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				if opts.duration > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, opts.duration)
					defer cancel()
				}
				return a.stream(ctx, cmd, s, &opts, session.Configuration{Subscriptions: subs, Mode: mode}, sink)
			})
		},
	}

	opts.modes.register(cmd, "raw", "data")
	cmd.Flags().BoolVar(&opts.battery, "battery", false, "Subscribe to battery level notifications")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Stop after this long (0 streams until interrupted)")
	cmd.Flags().StringVar(&opts.recordPath, "record", "", "Append raw notifications to this recording file")
	cmd.Flags().StringVar(&opts.sqlitePath, "sqlite", "", "Store raw notifications in this SQLite database")
	cmd.Flags().StringVar(&opts.serveAddr, "serve", "", "Broadcast readings over WebSocket on this address")
	return cmd
}

// streamSubscriptions derives the endpoints to subscribe from the requested modes.
func streamSubscriptions(mode protocol.OperatingMode, battery bool) []protocol.Endpoint {
	var subs []protocol.Endpoint
	if battery {
		subs = append(subs, protocol.Battery)
	}
	switch mode.Emg {
	case protocol.EmgModeRaw, protocol.EmgModeRawUnfiltered:
		subs = append(subs, protocol.EmgRaw0, protocol.EmgRaw1, protocol.EmgRaw2, protocol.EmgRaw3)
	case protocol.EmgModeFiltered:
		subs = append(subs, protocol.EmgFiltered)
	}
	if mode.Imu != protocol.ImuModeOff {
		subs = append(subs, protocol.Imu)
	}
	if mode.Classifier != protocol.ClassifierModeOff {
		subs = append(subs, protocol.Classifier)
	}
	return subs
}

// openSinks returns nil when recording is disabled.
func openSinks(recordPath, sqlitePath string) (recorder.Sink, error) {
	var sinks []recorder.Sink
	if recordPath != "" {
		r, err := recorder.NewFileRecorder(recordPath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, r)
	}
	if sqlitePath != "" {
		store, err := recorder.NewSQLiteStore(sqlitePath)
		if err != nil {
			for _, s := range sinks {
				_ = s.Close()
			}
			return nil, err
		}
		sinks = append(sinks, store)
	}
	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return recorder.NewMultiSink(sinks...), nil
	}
}

func (a *app) stream(ctx context.Context, cmd *cobra.Command, s *session.Session, opts *streamOptions, cfg session.Configuration, sink recorder.Sink) error {
	if err := s.Configure(ctx, cfg); err != nil {
		return err
	}

	var feed *wsfeed.Server
	if opts.serveAddr != "" {
		feed = wsfeed.NewServer(opts.serveAddr, s.ID(), a.logger)
		failed := make(chan error, 1)
		go func() {
			if err := feed.Start(ctx); err != nil {
				failed <- err
			}
		}()
		select {
		case <-feed.Ready():
		case err := <-failed:
			return err
		}
		defer func() {
			if err := feed.Stop(context.Background()); err != nil {
				a.logger.WithError(err).Debug("Feed shutdown")
			}
		}()
		fmt.Fprintf(cmd.ErrOrStderr(), "Serving readings on ws://%s%s\n", feed.BoundAddr(), wsfeed.Path)
	}

	st, err := s.Stream()
	if err != nil {
		return err
	}
	defer st.Close()

	a.logger.WithFields(logrus.Fields{
		"session":       s.ID(),
		"mode":          cfg.Mode.String(),
		"subscriptions": len(s.Subscriptions()),
	}).Info("Streaming")

	printer := newReadingPrinter(cmd.OutOrStdout(), a.cfg.OutputFormat, a.cfg.PrintRate)
	defer func() {
		m := st.Metrics()
		a.logger.WithFields(logrus.Fields{
			"readings":      m.Readings,
			"decode_errors": m.DecodeErrors,
			"overwritten":   m.Queues.Overwritten,
			"not_printed":   printer.Skipped(),
		}).Info("Stream finished")
	}()

	return pump(ctx, st, s.ID(), printer, sink, feed)
}

// pump copies stream events to the printer, the recording and the feed until
// ctx ends or the stream terminates.
func pump(ctx context.Context, st *session.Stream, sessionID string, printer *readingPrinter, sink recorder.Sink, feed *wsfeed.Server) error {
	errs := st.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-st.Readings():
			if !ok {
				<-st.Done()
				return st.Err()
			}
			if sink != nil {
				if err := sink.Write(recorder.NewRecord(sessionID, ev)); err != nil {
					return fmt.Errorf("failed to record notification: %w", err)
				}
			}
			if feed != nil {
				feed.Publish(ev)
			}
			if err := printer.Print(ev); err != nil {
				return err
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			var nerr *session.NotificationError
			if sink != nil && errors.As(err, &nerr) {
				if rec, ok := recorder.NewErrorRecord(sessionID, nerr); ok {
					if werr := sink.Write(rec); werr != nil {
						return fmt.Errorf("failed to record notification: %w", werr)
					}
				}
			}
			if feed != nil {
				feed.PublishError(err)
			}
			if err := printer.PrintError(err); err != nil {
				return err
			}
		}
	}
}
