package transfer

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Progress is a display fed by a Meter.
type Progress interface {
	Observer
	// Finish marks the transfer complete.
	Finish()
	// Abort ends the display without completing it.
	Abort()
}

// ProgressFactory creates the display for one transfer.
type ProgressFactory func(name string, total int64) Progress

// TerminalProgress draws single-line progress bars to out.
func TerminalProgress(out io.Writer) ProgressFactory {
	return func(name string, total int64) Progress {
		return NewProgressBar(out, name, total)
	}
}

func discardProgress(string, int64) Progress { return noopProgress{} }

type noopProgress struct{}

func (noopProgress) Observe(int64) {}
func (noopProgress) Finish()       {}
func (noopProgress) Abort()        {}

const (
	barWidth       = 28
	redrawInterval = 150 * time.Millisecond
)

// ProgressBar renders bytes, percentage, speed and ETA on one line,
// redrawn in place with a carriage return.
type ProgressBar struct {
	out   io.Writer
	label string
	total int64
	start time.Time

	mu       sync.Mutex
	done     int64
	lastDraw time.Time
	closed   bool
}

func NewProgressBar(out io.Writer, label string, total int64) *ProgressBar {
	if r := []rune(label); len(r) > 20 {
		label = "…" + string(r[len(r)-19:])
	}
	return &ProgressBar{out: out, label: label, total: total, start: time.Now()}
}

func (p *ProgressBar) Observe(done int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.done = done
	if time.Since(p.lastDraw) >= redrawInterval || done >= p.total {
		p.lastDraw = time.Now()
		fmt.Fprint(p.out, "\r"+p.render())
	}
}

func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.done < p.total {
		p.done = p.total
	}
	fmt.Fprintln(p.out, "\r"+p.render())
}

func (p *ProgressBar) Abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	fmt.Fprintln(p.out, "\r"+p.render()+"  aborted")
}

// Percent is 100 for an empty transfer.
func (p *ProgressBar) Percent() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.percent()
}

func (p *ProgressBar) percent() float64 {
	if p.total <= 0 {
		return 100
	}
	pct := float64(p.done) / float64(p.total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (p *ProgressBar) render() string {
	pct := p.percent()
	filled := int(pct / 100 * barWidth)
	bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)

	var speed float64
	if elapsed := time.Since(p.start).Seconds(); elapsed > 0 {
		speed = float64(p.done) / elapsed
	}
	eta := "-"
	if speed > 0 && p.total > p.done {
		eta = formatDuration(time.Duration(float64(p.total-p.done)/speed) * time.Second)
	}

	return fmt.Sprintf("  %-20s [%s] %5.1f%%  %s/%s  %s/s  ETA %s",
		p.label, bar, pct,
		humanize.IBytes(uint64(p.done)), humanize.IBytes(uint64(p.total)),
		humanize.IBytes(uint64(speed)), eta)
}

// formatDuration formats duration into human-readable format
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	return fmt.Sprintf("%.0fh", d.Hours())
}
