// Package tasks maps task types to the step functions that execute them.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sevir/vigia/pkg/models"
)

// Built-in task types offered by the dashboard.
const (
	TypeTranslateText     = "Translate Text"
	TypeSummarizeText     = "Summarize Text"
	TypeSpellcheckText    = "Spellcheck Text"
	TypeTranslateDocument = "Translate Document"
)

// DefaultWorkDelay is the simulated cost of a single step.
const DefaultWorkDelay = 50 * time.Millisecond

// ErrUnknownTaskType is returned when no step function is registered for a
// type and the catalog has no fallback.
var ErrUnknownTaskType = errors.New("unknown task type")

// StepFunc executes step (1-based) of total for a task and returns a display
// string.
type StepFunc func(ctx context.Context, spec models.TaskSpec, step, total int) (string, error)

// Options configures the built-in step functions.
type Options struct {
	WorkDelay    time.Duration
	PreviewBytes int
}

// Catalog resolves task types to step functions. Lookups are case-insensitive.
type Catalog struct {
	funcs    map[string]StepFunc
	names    map[string]string
	fallback StepFunc
	mu       sync.RWMutex
}

// NewCatalog creates a catalog with the built-in simulated task types. Types
// that are not registered run through the generic simulated step.
func NewCatalog(opts Options) *Catalog {
	if opts.PreviewBytes <= 0 {
		opts.PreviewBytes = models.DefaultPreviewBytes
	}

	c := &Catalog{
		funcs: make(map[string]StepFunc),
		names: make(map[string]string),
	}

	text := Simulate(opts.WorkDelay, opts.PreviewBytes)
	c.Register(TypeTranslateText, text)
	c.Register(TypeSummarizeText, text)
	c.Register(TypeSpellcheckText, text)
	c.Register(TypeTranslateDocument, Document(opts.WorkDelay, opts.PreviewBytes))
	c.fallback = text

	return c
}

// Register adds or replaces the step function for a task type.
func (c *Catalog) Register(taskType string, fn StepFunc) {
	key := normalize(taskType)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funcs[key] = fn
	c.names[key] = strings.TrimSpace(taskType)
}

// SetFallback sets the step function used for unregistered types. A nil
// fallback makes unregistered types fail with ErrUnknownTaskType.
func (c *Catalog) SetFallback(fn StepFunc) {
	c.mu.Lock()
	c.fallback = fn
	c.mu.Unlock()
}

// Types returns the registered task type names, sorted.
func (c *Catalog) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	types := make([]string, 0, len(c.names))
	for _, name := range c.names {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// Lookup returns the step function for a task type.
func (c *Catalog) Lookup(taskType string) (StepFunc, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if fn, ok := c.funcs[normalize(taskType)]; ok {
		return fn, nil
	}
	if c.fallback != nil {
		return c.fallback, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, taskType)
}

// Execute runs one step of the given task.
func (c *Catalog) Execute(ctx context.Context, spec models.TaskSpec, step, total int) (string, error) {
	fn, err := c.Lookup(spec.Type)
	if err != nil {
		return "", err
	}
	return fn(ctx, spec, step, total)
}

// Simulate returns a step function that waits delay and reports the content
// preview along with the step counter.
func Simulate(delay time.Duration, previewBytes int) StepFunc {
	return func(ctx context.Context, spec models.TaskSpec, step, total int) (string, error) {
		if err := pause(ctx, delay); err != nil {
			return "", err
		}
		return render(spec.Type, spec.Content.Preview(previewBytes), step, total), nil
	}
}

// Document is like Simulate but requires byte content to decode as UTF-8.
func Document(delay time.Duration, previewBytes int) StepFunc {
	return func(ctx context.Context, spec models.TaskSpec, step, total int) (string, error) {
		text, err := spec.Content.Decode()
		if err != nil {
			return "", err
		}
		if err := pause(ctx, delay); err != nil {
			return "", err
		}
		preview := text
		if len(preview) > previewBytes {
			preview = preview[:previewBytes]
		}
		return render(spec.Type, preview, step, total), nil
	}
}

func render(taskType, preview string, step, total int) string {
	return fmt.Sprintf("%s: %s... step %d/%d", taskType, preview, step, total)
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func normalize(taskType string) string {
	return strings.ToLower(strings.TrimSpace(taskType))
}
