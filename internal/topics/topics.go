// Package topics manages the debate topic pool. Topics come from an
// optional plain-text file (one per line, # comments), an inline list,
// or built-in defaults, in that order of preference.
package topics

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ehrlich-b/palaver/internal/logger"
)

// Defaults returns the built-in topic pool used when nothing else is
// configured.
func Defaults() []string {
	return []string{
		"Artificial intelligence will create more jobs than it destroys",
		"Social media has a net positive impact on society",
		"Universal Basic Income is necessary for the future economy",
		"Climate change requires immediate radical action",
		"Privacy is more important than security",
	}
}

// Load reads a topics file. Blank lines and lines starting with #
// are skipped.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open topics file: %w", err)
	}
	defer f.Close()

	var topics []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		topics = append(topics, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read topics file: %w", err)
	}
	return topics, nil
}

// Pool is a reloadable topic set. Safe for concurrent use.
type Pool struct {
	mu     sync.RWMutex
	file   string
	inline []string
	topics []string
}

// NewPool builds the initial set. A readable file wins over the inline
// list; an empty result falls back to Defaults.
func NewPool(inline []string, file string) *Pool {
	p := &Pool{file: file, inline: inline}
	if err := p.Reload(); err != nil {
		logger.Warn("topics file unavailable, using fallback", "file", file, "error", err)
	}
	return p
}

// Reload re-reads the file source. The pool keeps serving the previous
// set when the file has gone missing or unreadable.
func (p *Pool) Reload() error {
	var loaded []string
	var err error
	if p.file != "" {
		loaded, err = Load(p.file)
	}
	if len(loaded) == 0 {
		loaded = p.inline
	}
	if len(loaded) == 0 {
		loaded = Defaults()
	}

	p.mu.Lock()
	p.topics = loaded
	p.mu.Unlock()
	return err
}

// All returns a copy of the current pool.
func (p *Pool) All() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.topics))
	copy(out, p.topics)
	return out
}

// Len reports the pool size.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.topics)
}

// Random picks one topic using the supplied source.
func (p *Pool) Random(rng *rand.Rand) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.topics) == 0 {
		return ""
	}
	return p.topics[rng.Intn(len(p.topics))]
}

// Watch blocks until ctx is done, reloading the pool whenever the
// topics file changes. Editors often replace files on save, so the
// watch covers the parent directory and events are debounced.
func (p *Pool) Watch(ctx context.Context) error {
	if p.file == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(p.file)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(p.file)
	debounce := time.NewTimer(0)
	<-debounce.C
	dirty := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			dirty = true
			debounce.Reset(50 * time.Millisecond)

		case <-debounce.C:
			if !dirty {
				continue
			}
			dirty = false
			if err := p.Reload(); err != nil {
				logger.Warn("topics reload failed", "file", p.file, "error", err)
				continue
			}
			logger.Info("topics reloaded", "file", p.file, "count", p.Len())

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("topics watcher error", "error", err)
		}
	}
}
