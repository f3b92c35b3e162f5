package assistant

import (
	"context"
	"sync"
)

// scriptedGenerator returns queued results in order; the last one repeats.
type scriptedGenerator struct {
	name string

	mu      sync.Mutex
	results []scriptedResult
	calls   int
	prompts []string
	opts    []GenerateOptions
}

type scriptedResult struct {
	text  string
	err   error
	block bool // wait for ctx cancellation
}

func newScripted(results ...scriptedResult) *scriptedGenerator {
	return &scriptedGenerator{name: "scripted", results: results}
}

func (g *scriptedGenerator) Name() string { return g.name }

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	g.mu.Lock()
	i := g.calls
	if i >= len(g.results) {
		i = len(g.results) - 1
	}
	r := g.results[i]
	g.calls++
	g.prompts = append(g.prompts, prompt)
	g.opts = append(g.opts, opts)
	g.mu.Unlock()

	if r.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.text, r.err
}

func (g *scriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func ptr[T any](v T) *T { return &v }
