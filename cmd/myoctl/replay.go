package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/recorder"
	"github.com/srg/myoctl/internal/session"
)

func newReplayCmd(a *app) *cobra.Command {
	var (
		fromSQLite   bool
		listSessions bool
		sessionID    string
		endpoints    []string
	)

	cmd := &cobra.Command{
		Use:   "replay <recording>",
		Short: "Decode and print a recording",
		Long: `Decode and print a recording made with 'stream --record' or 'stream --sqlite'.

Payloads are decoded again, so malformed notifications show up as errors in
their original position. Notifications from unknown handles are not recorded.`,
		Example: `  myoctl replay session.cbor --endpoint imu
  myoctl replay readings.db --sqlite --list-sessions
  myoctl replay readings.db --sqlite --session 01J9Z... -f json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := recorder.Filter{Session: sessionID}
			for _, name := range endpoints {
				e, err := protocol.ParseEndpoint(name)
				if err != nil {
					return err
				}
				filter.Endpoints = append(filter.Endpoints, e)
			}

			out := cmd.OutOrStdout()
			printer := newReadingPrinter(out, a.cfg.OutputFormat, 0)
			r := &replayer{printer: printer}

			if fromSQLite {
				store, err := recorder.NewSQLiteStore(args[0])
				if err != nil {
					return err
				}
				defer store.Close()

				ctx, cancel := signalContext(cmd)
				defer cancel()

				if listSessions {
					ids, err := store.Sessions(ctx)
					if err != nil {
						return err
					}
					for _, id := range ids {
						fmt.Fprintln(out, id)
					}
					return nil
				}
				if err := r.fromStore(ctx, store, filter); err != nil {
					return err
				}
			} else {
				if listSessions {
					return fmt.Errorf("--list-sessions requires --sqlite")
				}
				if err := r.fromFile(args[0], filter); err != nil {
					return err
				}
			}

			a.logger.WithField("records", r.count).Info("Replay finished")
			if r.count == 0 && a.cfg.OutputFormat != "json" {
				fmt.Fprintln(out, "No records found")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&fromSQLite, "sqlite", false, "The recording is a SQLite database")
	cmd.Flags().BoolVar(&listSessions, "list-sessions", false, "List the sessions stored in a SQLite database")
	cmd.Flags().StringVar(&sessionID, "session", "", "Only replay this session")
	cmd.Flags().StringSliceVar(&endpoints, "endpoint", nil, "Only replay these endpoints (e.g. imu,emg-raw-0)")
	return cmd
}

type replayer struct {
	printer *readingPrinter
	count   int
}

func (r *replayer) fromFile(path string, filter recorder.Filter) error {
	reader, err := recorder.NewFilteredReader(path, filter)
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := r.emit(rec); err != nil {
			return err
		}
	}
}

func (r *replayer) fromStore(ctx context.Context, store *recorder.SQLiteStore, filter recorder.Filter) error {
	ids := []string{filter.Session}
	if filter.Session == "" {
		var err error
		if ids, err = store.Sessions(ctx); err != nil {
			return err
		}
	}
	for _, id := range ids {
		records, err := store.ListBySession(ctx, id)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if !filter.Match(rec) {
				continue
			}
			if err := r.emit(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *replayer) emit(rec recorder.Record) error {
	r.count++
	reading, err := rec.Reading()
	if err != nil {
		return r.printer.PrintError(&session.NotificationError{
			Time:    rec.Time,
			Handle:  rec.Handle,
			Payload: rec.Payload,
			Err:     err,
		})
	}
	return r.printer.Print(session.Event{
		Time:     rec.Time,
		Handle:   rec.Handle,
		Endpoint: rec.Endpoint,
		Payload:  rec.Payload,
		Reading:  reading,
	})
}
