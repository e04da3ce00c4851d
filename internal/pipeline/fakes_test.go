package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"conversepdf/internal/apperr"
)

func newTestRunner(j Journal, attempts int) *Runner {
	r := NewRunner(j, RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

type fakeLoader struct {
	mu    sync.Mutex
	pages map[string][]string
	err   error
	calls int
}

func (l *fakeLoader) Load(_ context.Context, ref string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	pages, ok := l.pages[ref]
	if !ok {
		return nil, apperr.Errorf(apperr.KindDocumentRead, "fake.load", "no such document %q", ref)
	}
	return pages, nil
}

// paragraphSplitter emits one chunk per blank-line separated paragraph.
type paragraphSplitter struct{}

func (paragraphSplitter) Split(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// fakeEmbedder returns fixed vectors by text, falling back to a vector
// derived from the text length. The first failures calls return failErr.
type fakeEmbedder struct {
	mu       sync.Mutex
	dim      int
	vectors  map[string][]float32
	calls    int
	failures int
	failErr  error
	short    bool
}

func (e *fakeEmbedder) Dimension() int { return e.dim }

func (e *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.failures > 0 {
		e.failures--
		return nil, e.failErr
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		if v, ok := e.vectors[t]; ok {
			out = append(out, v)
			continue
		}
		v := make([]float32, e.dim)
		v[0] = 1
		if e.dim > 1 {
			v[1] = float32(len(t)) / 100
		}
		out = append(out, v)
	}
	if e.short && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

type fakeSynthesizer struct {
	mu       sync.Mutex
	calls    int
	contexts []string
	err      error
}

func (s *fakeSynthesizer) Answer(_ context.Context, question string, contexts []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.contexts = append([]string(nil), contexts...)
	if s.err != nil {
		return "", s.err
	}
	return "answer to " + question, nil
}
