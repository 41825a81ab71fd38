package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/mattn/go-isatty"
)

const (
	minBarWidth = 10
	maxBarWidth = 40
)

// BarRenderer shows segment progress for a job. On a terminal it keeps one
// status line updated in place; otherwise it logs one line per stage change
// or finished segment.
type BarRenderer struct {
	out     io.Writer
	start   time.Time
	tty     bool
	width   int
	last    Event
	drawn   bool
	printed string
}

// NewBarRenderer detects whether out is a terminal and, if so, its width.
func NewBarRenderer(out *os.File) *BarRenderer {
	fd := out.Fd()
	tty := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	width := 80
	if tty {
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			width = w
		}
	}
	return newBarRenderer(out, tty, width)
}

func newBarRenderer(out io.Writer, tty bool, width int) *BarRenderer {
	return &BarRenderer{out: out, start: time.Now(), tty: tty, width: width}
}

// Handle satisfies Callback.
func (r *BarRenderer) Handle(e Event) {
	e.Elapsed = time.Since(r.start)
	switch {
	case e.Stage == StageComplete:
		e.Percent = 1
	case e.Percent == 0 && e.SegmentTotal > 0:
		e.Percent = float64(e.Completed) / float64(e.SegmentTotal)
	}
	if e.SegmentTotal == 0 {
		e.SegmentTotal = r.last.SegmentTotal
		e.Completed = max(e.Completed, r.last.Completed)
	}
	r.last = e

	if r.tty {
		r.redraw(e)
		return
	}
	line := statusLine(e)
	if line == r.printed {
		return
	}
	r.printed = line
	fmt.Fprintf(r.out, "[%s] %s\n", formatElapsed(e.Elapsed), line)
}

// Finish erases the live line and prints the outcome of the last event.
func (r *BarRenderer) Finish() {
	if r.drawn {
		fmt.Fprint(r.out, "\r\033[2K")
		r.drawn = false
	}
	e := r.last
	switch {
	case e.Error != nil:
		fmt.Fprintf(r.out, "\n  Error: %v\n", e.Error)
	case e.Stage == StageComplete && e.OutputFile != "":
		detail := formatElapsed(e.Elapsed)
		if e.SizeMB > 0 {
			detail = fmt.Sprintf("%.1f MB, %s", e.SizeMB, detail)
		}
		fmt.Fprintf(r.out, "\n  Audio saved to %s (%s)\n", e.OutputFile, detail)
		if e.JobID != "" {
			fmt.Fprintf(r.out, "  Job: %s\n", e.JobID)
		}
	}
}

func (r *BarRenderer) redraw(e Event) {
	counter := ""
	if e.SegmentTotal > 0 {
		counter = fmt.Sprintf("%d/%d ", e.Completed, e.SegmentTotal)
	}
	head := fmt.Sprintf("  %s%s %3d%%  %s  ",
		counter, renderBar(e.Percent, r.barWidth(len(counter))), int(e.Percent*100), formatElapsed(e.Elapsed))

	msg := e.Message
	if room := r.width - len(head) - 1; room < len([]rune(msg)) {
		if room <= 1 {
			msg = ""
		} else {
			msg = string([]rune(msg)[:room-1]) + "…"
		}
	}
	fmt.Fprint(r.out, "\r\033[2K"+head+msg)
	r.drawn = true
}

// barWidth leaves roughly half of the line for the status message.
func (r *BarRenderer) barWidth(counterLen int) int {
	w := r.width/2 - counterLen - 16
	return min(max(w, minBarWidth), maxBarWidth)
}

// statusLine is the plain-mode text for an event.
func statusLine(e Event) string {
	switch e.Stage {
	case StageSynthesize:
		if e.Message == "" {
			return fmt.Sprintf("Segment %d/%d", e.Completed, e.SegmentTotal)
		}
	case StageFailed:
		return "Failed: " + e.Message
	}
	return e.Message
}

// renderBar draws a [####....] bar; pct is clamped to 0..1.
func renderBar(pct float64, width int) string {
	pct = min(max(pct, 0), 1)
	filled := int(pct * float64(width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

func formatElapsed(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
