// Package graph is an in-memory filter graph: filters with named pins and
// directed connections from output pins to input pins.
package graph

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Kind identifies what a filter does in the pipeline.
type Kind string

const (
	KindTuner      Kind = "tuner"
	KindCrossbar   Kind = "crossbar"
	KindSource     Kind = "source"
	KindSmartTee   Kind = "smart_tee"
	KindGrabber    Kind = "sample_grabber"
	KindFileWriter Kind = "file_writer"
	KindRenderer   Kind = "null_renderer"
)

// Direction of a pin.
type Direction int

const (
	In Direction = iota
	Out
)

func (d Direction) String() string {
	if d == Out {
		return "out"
	}
	return "in"
}

// Pin is a connection point on a filter.
type Pin struct {
	Name string    `json:"name"`
	Dir  Direction `json:"dir"`
}

// Filter is one processing stage.
type Filter struct {
	ID    string            `json:"id"`
	Kind  Kind              `json:"kind"`
	Pins  []Pin             `json:"pins"`
	Props map[string]string `json:"props,omitempty"`
}

func (f Filter) pin(name string) (Pin, bool) {
	for _, p := range f.Pins {
		if p.Name == name {
			return p, true
		}
	}
	return Pin{}, false
}

// Endpoint addresses a pin on a filter.
type Endpoint struct {
	Filter string `json:"filter"`
	Pin    string `json:"pin"`
}

func (e Endpoint) String() string { return e.Filter + "." + e.Pin }

// Connection joins an output pin to an input pin.
type Connection struct {
	From Endpoint `json:"from"`
	To   Endpoint `json:"to"`
}

var (
	ErrFilterExists  = errors.New("filter already in graph")
	ErrFilterMissing = errors.New("filter not in graph")
	ErrPinMissing    = errors.New("pin not found")
	ErrPinDirection  = errors.New("pin direction mismatch")
	ErrPinConnected  = errors.New("pin already connected")
)

// Graph is safe for concurrent use.
type Graph struct {
	mu      sync.RWMutex
	filters map[string]*Filter
	order   []string
	conns   []Connection
}

func New() *Graph {
	return &Graph{filters: make(map[string]*Filter)}
}

// AddFilter adds f. Filter IDs are unique within a graph.
func (g *Graph) AddFilter(f Filter) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.filters[f.ID]; ok {
		return fmt.Errorf("%w: %s", ErrFilterExists, f.ID)
	}
	f.Pins = slices.Clone(f.Pins)
	g.filters[f.ID] = &f
	g.order = append(g.order, f.ID)
	return nil
}

// Filter returns a copy of the filter with id.
func (g *Graph) Filter(id string) (Filter, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	f, ok := g.filters[id]
	if !ok {
		return Filter{}, false
	}
	return *f, true
}

// Filters returns all filters in insertion order.
func (g *Graph) Filters() []Filter {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Filter, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, *g.filters[id])
	}
	return out
}

// Connections returns all connections in the order they were made.
func (g *Graph) Connections() []Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.conns)
}

// Connect joins output pin from to input pin to.
func (g *Graph) Connect(from, to Endpoint) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkPin(from, Out); err != nil {
		return err
	}
	if err := g.checkPin(to, In); err != nil {
		return err
	}
	for _, c := range g.conns {
		if c.From == from || c.To == from {
			return fmt.Errorf("%w: %s", ErrPinConnected, from)
		}
		if c.From == to || c.To == to {
			return fmt.Errorf("%w: %s", ErrPinConnected, to)
		}
	}
	g.conns = append(g.conns, Connection{From: from, To: to})
	return nil
}

func (g *Graph) checkPin(e Endpoint, dir Direction) error {
	f, ok := g.filters[e.Filter]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFilterMissing, e.Filter)
	}
	p, ok := f.pin(e.Pin)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPinMissing, e)
	}
	if p.Dir != dir {
		return fmt.Errorf("%w: %s is %s", ErrPinDirection, e, p.Dir)
	}
	return nil
}

// Disconnect removes the connection at e, if any.
func (g *Graph) Disconnect(e Endpoint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns = slices.DeleteFunc(g.conns, func(c Connection) bool {
		return c.From == e || c.To == e
	})
}

// RemoveFilter disconnects every pin of id and drops it from the graph.
func (g *Graph) RemoveFilter(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.filters[id]; !ok {
		return fmt.Errorf("%w: %s", ErrFilterMissing, id)
	}
	g.removeLocked(id)
	return nil
}

func (g *Graph) removeLocked(id string) {
	g.conns = slices.DeleteFunc(g.conns, func(c Connection) bool {
		return c.From.Filter == id || c.To.Filter == id
	})
	delete(g.filters, id)
	g.order = slices.DeleteFunc(g.order, func(s string) bool { return s == id })
}

// Next returns the filters fed by id's output pins, in pin order.
func (g *Graph) Next(id string) []Filter {
	g.mu.RLock()
	defer g.mu.RUnlock()

	f, ok := g.filters[id]
	if !ok {
		return nil
	}
	var out []Filter
	for _, p := range f.Pins {
		if p.Dir != Out {
			continue
		}
		if to, ok := g.peerLocked(Endpoint{id, p.Name}); ok {
			out = append(out, *g.filters[to.Filter])
		}
	}
	return out
}

func (g *Graph) peerLocked(e Endpoint) (Endpoint, bool) {
	for _, c := range g.conns {
		if c.From == e {
			return c.To, true
		}
		if c.To == e {
			return c.From, true
		}
	}
	return Endpoint{}, false
}

// Upstream returns the IDs of every filter that feeds id, nearest first.
func (g *Graph) Upstream(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	seen := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range g.conns {
			if c.To.Filter == cur && !seen[c.From.Filter] {
				seen[c.From.Filter] = true
				out = append(out, c.From.Filter)
				queue = append(queue, c.From.Filter)
			}
		}
	}
	return out
}

// RemoveDownstream walks out of id's output pins and removes every filter it
// reaches, deepest first, along with their connections. id itself and
// anything feeding it stay in the graph. It returns the removed IDs.
func (g *Graph) RemoveDownstream(id string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.filters[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrFilterMissing, id)
	}
	keep := map[string]bool{id: true}
	var removed []string
	g.removeDownstreamLocked(id, keep, &removed)
	return removed, nil
}

func (g *Graph) removeDownstreamLocked(id string, keep map[string]bool, removed *[]string) {
	f, ok := g.filters[id]
	if !ok {
		return
	}
	for _, p := range f.Pins {
		if p.Dir != Out {
			continue
		}
		to, ok := g.peerLocked(Endpoint{id, p.Name})
		if !ok || keep[to.Filter] {
			continue
		}
		g.removeDownstreamLocked(to.Filter, keep, removed)
		if _, still := g.filters[to.Filter]; still {
			g.removeLocked(to.Filter)
			*removed = append(*removed, to.Filter)
		}
	}
}
