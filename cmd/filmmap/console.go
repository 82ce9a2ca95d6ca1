package main

import (
	"fmt"
	"io"
	"sync"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/sfmovies/filmlocations/internal/display"
	"github.com/sfmovies/filmlocations/internal/surface/memory"
	"github.com/sfmovies/filmlocations/pkg/core"
)

// printer serializes writes from the loop and the stdin reader.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) Printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

// console is the in-process surface echoing map changes to the terminal.
type console struct {
	*memory.Surface
	out *printer
}

func newConsole(out *printer) *console {
	return &console{Surface: memory.New(), out: out}
}

func (c *console) ShowPopup(h display.MarkerHandle, content string) error {
	if err := c.Surface.ShowPopup(h, content); err != nil {
		return err
	}
	c.out.Printf("popup opened on marker %d\n", h)
	return nil
}

func (c *console) FitBounds(env geom.Envelope) error {
	if err := c.Surface.FitBounds(env); err != nil {
		return err
	}
	c.out.Printf("%d locations on the map\n", len(c.Surface.Markers()))
	return nil
}

func (c *console) ShowSuggestions(suggestions []core.Suggestion) {
	c.Surface.ShowSuggestions(suggestions)
	for i, s := range suggestions {
		c.out.Printf("  [%d] %s\n", i, s.Label)
	}
}

func (c *console) Notify(msg string) {
	c.Surface.Notify(msg)
	c.out.Printf("! %s\n", msg)
}
