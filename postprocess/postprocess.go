// Package postprocess transforms captured documents before they are cached.
package postprocess

import "fmt"

/*
Processor transforms rendered content before it is stored.

A failing processor fails the whole render attempt. There is no fallback to the
unprocessed document: a transform that cannot parse the capture usually means
the capture itself is broken.
*/
type Processor interface {
	Process(content string) (string, error)
}

// Func adapts a plain function to Processor.
type Func func(string) (string, error)

func (f Func) Process(content string) (string, error) {
	return f(content)
}

// Chain runs processors in order, feeding each the previous output.
type Chain []Processor

func (c Chain) Process(content string) (string, error) {
	var err error
	for i, p := range c {
		if content, err = p.Process(content); err != nil {
			return "", fmt.Errorf("step %d: %w", i, err)
		}
	}
	return content, nil
}
