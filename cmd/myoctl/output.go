package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/session"
	"golang.org/x/term"
	"golang.org/x/time/rate"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// palette colors table output on terminals only.
type palette struct {
	emg, imu, battery, other, warn, ok *color.Color
}

func newPalette(w io.Writer) *palette {
	p := &palette{
		emg:     color.New(color.FgCyan),
		imu:     color.New(color.FgMagenta),
		battery: color.New(color.FgGreen),
		other:   color.New(color.FgWhite),
		warn:    color.New(color.FgYellow),
		ok:      color.New(color.FgGreen, color.Bold),
	}
	enable := isTerminal(w)
	for _, c := range []*color.Color{p.emg, p.imu, p.battery, p.other, p.warn, p.ok} {
		if enable {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *palette) endpoint(e protocol.Endpoint) *color.Color {
	switch {
	case e.IsEmgRaw(), e == protocol.EmgFiltered:
		return p.emg
	case e == protocol.Imu:
		return p.imu
	case e == protocol.Battery:
		return p.battery
	default:
		return p.other
	}
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// readingPrinter prints stream events as table rows or JSON lines.
// Table rows are throttled to a rate a person can follow; JSON is never
// throttled.
type readingPrinter struct {
	w       io.Writer
	json    bool
	colors  *palette
	limiter *rate.Limiter
	encoder *json.Encoder
	skipped atomic.Int64
}

func newReadingPrinter(w io.Writer, format string, perSecond float64) *readingPrinter {
	p := &readingPrinter{
		w:       w,
		json:    format == "json",
		colors:  newPalette(w),
		encoder: json.NewEncoder(w),
	}
	if !p.json && perSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return p
}

func (p *readingPrinter) Print(ev session.Event) error {
	if p.json {
		return p.encoder.Encode(ev)
	}
	if p.limiter != nil && !p.limiter.Allow() {
		p.skipped.Add(1)
		return nil
	}
	_, err := fmt.Fprintf(p.w, "%s  %s  %s\n",
		ev.Time.Format("15:04:05.000"),
		p.colors.endpoint(ev.Endpoint).Sprintf("%-12s", ev.Endpoint),
		ev.Reading,
	)
	return err
}

func (p *readingPrinter) PrintError(err error) error {
	if p.json {
		return p.encoder.Encode(map[string]string{"error": err.Error()})
	}
	_, werr := fmt.Fprintf(p.w, "%s  %s\n", time.Now().Format("15:04:05.000"), p.colors.warn.Sprint(err))
	return werr
}

// Skipped returns how many table rows the throttle suppressed.
func (p *readingPrinter) Skipped() int64 {
	return p.skipped.Load()
}
