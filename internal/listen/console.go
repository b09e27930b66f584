package listen

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

const (
	ansiReset     = "\033[0m"
	ansiRed       = "\033[31m"
	ansiGreen     = "\033[32m"
	ansiYellowHi  = "\033[93m"
	ansiGrey      = "\033[90m"
	ansiWhite     = "\033[37m"
	ansiBlueHi    = "\033[94m"
	ansiCyanHi    = "\033[96m"
	ansiEraseLine = "\033[2K\033[0G"
	ansiLineUp    = "\033[1A"

	consoleQueue = 256
)

// Console writes the interactive listening indicators to a terminal. Writes
// are queued and performed by a background goroutine, so the capture
// callback never waits on the terminal. When the queue is full indicators
// are dropped.
//
// A nil *Console discards everything.
type Console struct {
	w     io.Writer
	queue chan string
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewConsole starts a Console writing to w. Call [Console.Close] to flush
// and stop it.
func NewConsole(w io.Writer) *Console {
	c := &Console{
		w:     w,
		queue: make(chan string, consoleQueue),
		done:  make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Console) run() {
	defer close(c.done)
	for s := range c.queue {
		if _, err := io.WriteString(c.w, s); err != nil {
			slog.Debug("console: write failed", "err", err)
		}
	}
}

func (c *Console) emit(s string) {
	if c == nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.queue <- s:
	default:
	}
}

// Close flushes queued output and stops the writer. Safe to call twice.
func (c *Console) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()
	<-c.done
}

// Loading announces model or device initialisation.
func (c *Console) Loading(what string) {
	c.emit(ansiCyanHi + "Loading " + what + ".." + ansiReset + "\n")
}

// Listening announces that capture has started.
func (c *Console) Listening() {
	c.emit(ansiGreen + "Listening.. " + ansiWhite + "(Ctrl+C to Quit)" + ansiReset + "\n")
}

// Speech marks one speech block.
func (c *Console) Speech() { c.emit(".") }

// NoInput marks one all-zero block.
func (c *Console) NoInput() { c.emit(ansiRed + "." + ansiReset) }

// Fault reports a capture device fault.
func (c *Console) Fault(status string) {
	c.emit(ansiRed + "!" + status + "!" + ansiReset)
}

// Erase clears the current indicator line.
func (c *Console) Erase() { c.emit(ansiEraseLine) }

// Transcribing announces that a segment was handed to the transcriber.
func (c *Console) Transcribing() {
	c.emit("\n" + ansiGrey + "Transcribing.." + ansiReset + "\n")
}

// Transcript replaces the "Transcribing.." line with text.
func (c *Console) Transcript(text string) {
	c.emit(ansiLineUp + ansiEraseLine + text + "\n")
}

// Response prints a reply or action line.
func (c *Console) Response(format string, args ...any) {
	c.emit(ansiBlueHi + fmt.Sprintf(format, args...) + ansiReset + "\n")
}

// Quitting announces shutdown.
func (c *Console) Quitting() {
	c.emit("\n" + ansiYellowHi + "Quitting.." + ansiReset + "\n")
}
