package main

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows a phase with elapsed (or remaining) seconds on one
// terminal line. On anything other than a terminal it prints nothing.
//
//	p := NewProgressPrinter(os.Stderr, "Connecting to Myo", "Discovering")
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use: Start at most once, Stop any number of times.
type ProgressPrinter struct {
	w          io.Writer
	enabled    bool
	prefix     string
	phase      atomic.Value        // current phase name
	stopPhases map[string]struct{} // phases that stop the printer
	startTime  time.Time
	duration   time.Duration // countdown length, 0 counts up
	started    atomic.Bool
	stopped    atomic.Bool
	stopChan   chan struct{}
	done       chan struct{}
}

// NewProgressPrinter creates a printer that counts elapsed seconds.
func NewProgressPrinter(w io.Writer, prefix, phase string, stopPhases ...string) *ProgressPrinter {
	return NewCountdownProgressPrinter(w, prefix, phase, 0, stopPhases...)
}

// NewCountdownProgressPrinter creates a printer that counts down from duration.
func NewCountdownProgressPrinter(w io.Writer, prefix, phase string, duration time.Duration, stopPhases ...string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{
		w:          w,
		enabled:    isTerminal(w),
		prefix:     prefix,
		stopPhases: stopSet,
		duration:   duration,
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

// Start begins updating the line in a background goroutine.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	p.startTime = time.Now()
	if !p.enabled {
		close(p.done)
		return
	}

	p.print(p.phase.Load().(string), 0)
	go p.loop()
}

func (p *ProgressPrinter) loop() {
	defer close(p.done)

	ticker := time.NewTicker(progressUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			phase := p.phase.Load().(string)
			if _, stop := p.stopPhases[phase]; stop {
				return
			}
			p.print(phase, p.seconds(time.Since(p.startTime)))
		}
	}
}

func (p *ProgressPrinter) seconds(elapsed time.Duration) int {
	if p.duration == 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	// Round to the nearest second: 3.7s shows 4s.
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) print(phase string, seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.w, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.w, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// Callback returns a phase setter suitable for scanner progress callbacks.
// Setting a stop phase stops the printer.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, stop := p.stopPhases[phase]; stop {
			p.Stop()
		}
	}
}

// Stop ends the updates and clears the line. Safe to call repeatedly and
// from multiple goroutines.
func (p *ProgressPrinter) Stop() {
	if !p.started.Load() || !p.stopped.CompareAndSwap(false, true) {
		return
	}
	close(p.stopChan)
	<-p.done
	if p.enabled {
		fmt.Fprint(p.w, clearLineSequence)
	}
}
