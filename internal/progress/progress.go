// Package progress renders crawl progress as a terminal spinner.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"

	"citycrawler/pkg/types"
)

// Spinner reports crawl progress on a single terminal line. It stays silent
// when its writer is not a terminal.
type Spinner struct {
	s *spinner.Spinner

	mu       sync.Mutex
	child    string
	position int
	total    int
	page     int
	items    int
	done     int
	failed   int
}

// NewSpinner builds a spinner writing to w. Only an *os.File attached to a
// terminal is drawn on; any other writer keeps the spinner disabled.
func NewSpinner(w io.Writer) *Spinner {
	f, isFile := w.(*os.File)
	opt := spinner.WithWriter(w)
	if isFile {
		opt = spinner.WithWriterFile(f)
	}
	s := spinner.New(spinner.CharSets[9], 100*time.Millisecond, opt)
	s.Suffix = " discovering cities"
	if !isFile {
		s.Disable()
	}
	return &Spinner{s: s}
}

// Start begins animating.
func (p *Spinner) Start() { p.s.Start() }

// Stop halts the animation and prints a final line.
func (p *Spinner) Stop() {
	p.mu.Lock()
	final := fmt.Sprintf("%d cities collected, %d incomplete\n", p.done, p.failed)
	p.mu.Unlock()
	p.s.FinalMSG = final
	p.s.Stop()
}

// Planned records how many children will be visited.
func (p *Spinner) Planned(discovered, planned int) {
	p.mu.Lock()
	p.total = planned
	p.mu.Unlock()
	p.update()
}

// ChildStarted records the child being collected.
func (p *Spinner) ChildStarted(key string, position, total int) {
	p.mu.Lock()
	p.child, p.position, p.total = key, position, total
	p.page, p.items = 0, 0
	p.mu.Unlock()
	p.update()
}

// PageDone records a finished page.
func (p *Spinner) PageDone(req types.PageRequest, found, added int) {
	p.mu.Lock()
	p.page = req.Index
	p.items += added
	p.mu.Unlock()
	p.update()
}

// ChildDone records a finished child.
func (p *Spinner) ChildDone(key string, items int, err error) {
	p.mu.Lock()
	if err != nil {
		p.failed++
	} else {
		p.done++
	}
	p.mu.Unlock()
	p.update()
}

// Status returns the current progress line.
func (p *Spinner) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.child == "" {
		return fmt.Sprintf(" discovering cities (page %d)", p.page)
	}
	return fmt.Sprintf(" [%d/%d] %s page %d, %d locations", p.position, p.total, p.child, p.page, p.items)
}

func (p *Spinner) update() {
	status := p.Status()
	p.s.Lock()
	p.s.Suffix = status
	p.s.Unlock()
}
