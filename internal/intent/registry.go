package intent

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// catalogueFile is the YAML document shape of a catalogue file.
type catalogueFile struct {
	Version int          `yaml:"version"`
	Intents []Definition `yaml:"intents"`
}

// ParseCatalogue decodes, defaults, and validates a YAML catalogue read from r.
func ParseCatalogue(r io.Reader) (*Catalogue, error) {
	var file catalogueFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("intent: decode catalogue: %w", err)
	}

	var errs []error
	seen := make(map[string]int, len(file.Intents))
	for i := range file.Intents {
		d := &file.Intents[i]
		prefix := fmt.Sprintf("intents[%d]", i)
		if d.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else if prev, ok := seen[d.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of intents[%d]", prefix, d.ID, prev))
		} else {
			seen[d.ID] = i
		}
		if d.Description == "" {
			errs = append(errs, fmt.Errorf("%s (%s): description is required", prefix, d.ID))
		}
		if len(d.Examples) == 0 {
			errs = append(errs, fmt.Errorf("%s (%s): at least one example utterance is required", prefix, d.ID))
		}
		if d.ConfidenceThreshold < 0 || d.ConfidenceThreshold > 1 {
			errs = append(errs, fmt.Errorf("%s (%s): confidence_threshold %.2f is out of range [0, 1]", prefix, d.ID, d.ConfidenceThreshold))
		}
		if d.ConfidenceThreshold == 0 {
			d.ConfidenceThreshold = 0.7
		}
		if d.MaxRAGExamples <= 0 {
			d.MaxRAGExamples = 5
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("intent: invalid catalogue: %w", errors.Join(errs...))
	}

	return NewCatalogue(file.Version, file.Intents), nil
}

// LoadCatalogue reads and parses the catalogue file at path.
func LoadCatalogue(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("intent: read catalogue %q: %w", path, err)
	}
	return ParseCatalogue(bytes.NewReader(data))
}

// RegistryOption configures a [Registry].
type RegistryOption func(*Registry)

// WithReloadInterval sets the hot-reload polling period. Default 5 seconds.
func WithReloadInterval(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithActionCheck provides a predicate for tool action existence. Intents
// whose ToolActionID fails the predicate log a warning but stay loaded.
func WithActionCheck(exists func(actionID string) bool) RegistryOption {
	return func(r *Registry) { r.actionExists = exists }
}

// WithOnReload registers a callback invoked after each successful hot reload,
// outside the registry's internal state. Used to re-seed the retrieval corpus.
func WithOnReload(fn func(old, new *Catalogue)) RegistryOption {
	return func(r *Registry) { r.onReload = fn }
}

// Registry holds the live intent catalogue and hot-reloads it when the source
// file's checksum changes. Safe for concurrent use.
type Registry struct {
	path     string
	interval time.Duration

	actionExists func(string) bool
	onReload     func(old, new *Catalogue)

	current  atomic.Pointer[Catalogue]
	lastHash [sha256.Size]byte

	done     chan struct{}
	stopOnce sync.Once
}

// NewRegistry loads the catalogue at path and starts the hot-reload poller.
// The initial load must succeed; later reload failures keep the old
// catalogue and log a warning.
func NewRegistry(path string, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		path:     path,
		interval: 5 * time.Second,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	cat, hash, err := r.load()
	if err != nil {
		return nil, err
	}
	r.current.Store(cat)
	r.lastHash = hash
	r.warnUnknownActions(cat)

	go r.poll()
	return r, nil
}

// NewStaticRegistry wraps an in-memory catalogue without any file backing or
// reload loop. Used with [DefaultCatalogue] and in tests.
func NewStaticRegistry(cat *Catalogue) *Registry {
	r := &Registry{done: make(chan struct{})}
	r.stopOnce.Do(func() { close(r.done) })
	r.current.Store(cat)
	return r
}

// Snapshot returns the current catalogue. The returned value is immutable;
// hold it for the duration of one request rather than re-fetching, so a
// mid-request reload cannot produce an inconsistent view.
func (r *Registry) Snapshot() *Catalogue {
	return r.current.Load()
}

// Stop stops the hot-reload poller.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *Registry) poll() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.check()
		}
	}
}

func (r *Registry) check() {
	cat, hash, err := r.load()
	if err != nil {
		slog.Warn("intent registry: reload failed, keeping current catalogue", "path", r.path, "err", err)
		return
	}
	if hash == r.lastHash {
		return
	}

	old := r.current.Swap(cat)
	r.lastHash = hash
	r.warnUnknownActions(cat)
	slog.Info("intent catalogue reloaded", "path", r.path, "intents", cat.Len(), "version", cat.Version)

	if r.onReload != nil {
		r.onReload(old, cat)
	}
}

func (r *Registry) load() (*Catalogue, [sha256.Size]byte, error) {
	var zero [sha256.Size]byte
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, zero, fmt.Errorf("intent: read catalogue %q: %w", r.path, err)
	}
	cat, err := ParseCatalogue(bytes.NewReader(data))
	if err != nil {
		return nil, zero, err
	}
	return cat, sha256.Sum256(data), nil
}

func (r *Registry) warnUnknownActions(cat *Catalogue) {
	if r.actionExists == nil {
		return
	}
	for _, d := range cat.All() {
		if d.ToolActionID != "" && !r.actionExists(d.ToolActionID) {
			slog.Warn("intent references unknown tool action", "intent", d.ID, "tool_action_id", d.ToolActionID)
		}
	}
}
