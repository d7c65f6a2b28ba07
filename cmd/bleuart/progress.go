package main

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// progressOutput receives progress lines. Stderr keeps stdout clean for
// piped scan results and terminal sessions.
var progressOutput io.Writer = os.Stderr

// ProgressPrinter displays a single status line with elapsed or remaining time.
//
//	p := NewProgressPrinter("Connecting to AA:BB:CC:DD:EE:FF", "Connecting", "Ready")
//	p.Start()
//	defer p.Stop()
//
// Stop must be called to release the internal goroutine. A ProgressPrinter is
// single-use.
type ProgressPrinter struct {
	out        io.Writer
	prefix     string
	phase      atomic.Value        // string
	stopPhases map[string]struct{} // phases that stop the printer when set via Callback
	startTime  time.Time
	ticker     atomic.Pointer[time.Ticker]
	stopChan   chan struct{}
	done       chan struct{}
	started    atomic.Bool
	countUp    bool
	duration   time.Duration // countdown mode
}

func newProgressPrinter(prefix, phase string, countUp bool, duration time.Duration, stopPhases []string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{
		out:        progressOutput,
		prefix:     prefix,
		stopPhases: stopSet,
		countUp:    countUp,
		duration:   duration,
	}
	p.phase.Store(phase)
	return p
}

// NewProgressPrinter creates a progress printer that shows elapsed time.
func NewProgressPrinter(prefix string, phase string, stopPhases ...string) *ProgressPrinter {
	return newProgressPrinter(prefix, phase, true, 0, stopPhases)
}

// NewCountdownProgressPrinter creates a progress printer that counts down from duration.
func NewCountdownProgressPrinter(prefix string, phase string, duration time.Duration, stopPhases ...string) *ProgressPrinter {
	return newProgressPrinter(prefix, phase, false, duration, stopPhases)
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	p.done = make(chan struct{})
	p.stopChan = make(chan struct{})
	p.startTime = time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)

	fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, p.phase.Load().(string))
	go p.loop(ticker)
}

func (p *ProgressPrinter) loop(ticker *time.Ticker) {
	defer close(p.done)
	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			phase := p.phase.Load().(string)
			if _, stop := p.stopPhases[phase]; stop {
				return
			}
			p.print(phase, p.seconds())
		}
	}
}

func (p *ProgressPrinter) seconds() int {
	elapsed := time.Since(p.startTime)
	if p.countUp {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	// Round to the nearest second: 3.7s -> 4s, 3.3s -> 3s
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) print(phase string, seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// Callback returns a function that updates the phase. Setting a stop phase
// stops the printer. Safe for concurrent use.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, stop := p.stopPhases[phase]; stop {
			p.Stop()
		}
	}
}

// Stop stops the display and clears the line. Only the first call has an effect.
func (p *ProgressPrinter) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return
	}

	ticker.Stop()
	close(p.stopChan)
	<-p.done

	fmt.Fprint(p.out, clearLineSequence)
}
