package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/myoctl/internal/devicefactory"
	"github.com/srg/myoctl/scanner"
)

func newScanCmd(a *app) *cobra.Command {
	var (
		duration time.Duration
		all      bool
		watch    bool
		allow    []string
		block    []string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for Myo armbands",
		Long: `Scan for Bluetooth Low Energy advertisements and list Myo armbands.

An armband is recognized by the service signature in its advertisement
(AD type 6). Use --all to list every device that was seen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			transport, err := devicefactory.NewTransport(a.logger)
			if err != nil {
				return fmt.Errorf("failed to create BLE transport: %w", err)
			}
			s := scanner.New(transport, &scanner.Options{
				Window:           a.cfg.ScanWindow,
				FailureThreshold: a.cfg.ScanFailureThreshold,
				Cooldown:         a.cfg.ScanCooldown,
				AllowList:        allow,
				BlockList:        block,
				OnlyMyo:          !all,
			}, a.logger)

			if watch && a.cfg.OutputFormat == "json" {
				return fmt.Errorf("--watch requires table output")
			}
			stopWatch := func() {}
			if watch {
				stopWatch = watchDevices(cmd.OutOrStdout(), s.Events())
			}

			progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for Myo armbands", "Scanning", duration, "Processing results")
			progress.Start()
			devices, err := s.Scan(ctx, duration, progress.Callback())
			progress.Stop()
			stopWatch()
			if err != nil && !errors.Is(err, ctx.Err()) {
				return err
			}

			entries := sortedEntries(devices)
			if a.cfg.OutputFormat == "json" {
				if entries == nil {
					entries = []scanner.DeviceEntry{}
				}
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			return displayDevicesTable(cmd.OutOrStdout(), entries)
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 5*time.Second, "Scan duration (0 scans until interrupted)")
	cmd.Flags().BoolVar(&all, "all", false, "List every device, not only Myo armbands")
	cmd.Flags().StringSliceVar(&allow, "allow", nil, "Only list these addresses")
	cmd.Flags().StringSliceVar(&block, "block", nil, "Never list these addresses")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Print devices as they are discovered")
	return cmd
}

// watchDevices prints newly discovered devices until stop is called. Events
// already queued when stop is called are still printed.
func watchDevices(w io.Writer, events <-chan scanner.DeviceEvent) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})

	announce := func(ev scanner.DeviceEvent) {
		if ev.Type != scanner.EventNew {
			return
		}
		adv := ev.Entry.Advertisement
		name := adv.Name
		if name == "" {
			name = "(unknown)"
		}
		myo := ""
		if ev.Entry.IsMyo {
			myo = " [myo]"
		}
		fmt.Fprintf(w, "+ %s %s %d dBm%s\n", name, adv.Address, adv.RSSI, myo)
	}

	go func() {
		defer close(finished)
		for {
			select {
			case ev := <-events:
				announce(ev)
			case <-done:
				for {
					select {
					case ev := <-events:
						announce(ev)
					default:
						return
					}
				}
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}

// sortedEntries orders Myo armbands first, then by signal strength.
func sortedEntries(devices map[string]scanner.DeviceEntry) []scanner.DeviceEntry {
	var entries []scanner.DeviceEntry
	for _, e := range devices {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsMyo != entries[j].IsMyo {
			return entries[i].IsMyo
		}
		if entries[i].Advertisement.RSSI != entries[j].Advertisement.RSSI {
			return entries[i].Advertisement.RSSI > entries[j].Advertisement.RSSI
		}
		return entries[i].Advertisement.Address < entries[j].Advertisement.Address
	})
	return entries
}

func displayDevicesTable(out io.Writer, entries []scanner.DeviceEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "No devices discovered")
		return err
	}

	colors := newPalette(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tMYO\tSEEN")
	fmt.Fprintln(w, strings.Repeat("-", 64))

	for _, e := range entries {
		name := e.Advertisement.Name
		if name == "" {
			name = "(unknown)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		myo := "no"
		if e.IsMyo {
			myo = colors.ok.Sprint("yes")
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%dx\n", name, e.Advertisement.Address, e.Advertisement.RSSI, myo, e.Seen)
	}
	return w.Flush()
}
