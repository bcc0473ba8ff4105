package feedback

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"forgeloop/internal/logging"
)

// Channel buffers raw feedback until the orchestrator polls for it. The
// orchestrator never blocks on feedback; it calls PollPending at cycle and
// loop boundaries only. Feedback arrives in-process via Submit or as files
// dropped into the inbox directory.
type Channel struct {
	mu      sync.Mutex
	pending []string
	seen    map[string]bool

	dir     string
	watcher *fsnotify.Watcher
	done    chan struct{}
	logger  *zap.Logger
}

// NewChannel creates a feedback channel. dir is the inbox directory for
// file-based feedback; empty disables file watching and the channel is
// in-process only.
func NewChannel(dir string) (*Channel, error) {
	c := &Channel{
		seen:   make(map[string]bool),
		dir:    dir,
		done:   make(chan struct{}),
		logger: logging.Get(logging.CategoryFeedback),
	}
	if dir == "" {
		return c, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create feedback inbox: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create inbox watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch feedback inbox: %w", err)
	}
	c.watcher = watcher
	go c.watch()
	return c, nil
}

// Submit enqueues feedback submitted in-process.
func (c *Channel) Submit(raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	c.mu.Lock()
	c.pending = append(c.pending, raw)
	c.mu.Unlock()
}

// PollPending drains everything buffered so far. A directory rescan backs
// up the watcher so files written before the watch started are still
// picked up. Never blocks on new feedback.
func (c *Channel) PollPending() []string {
	c.rescan()

	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

// Close stops the watcher. Pending feedback stays readable.
func (c *Channel) Close() error {
	if c.watcher == nil {
		return nil
	}
	close(c.done)
	return c.watcher.Close()
}

func (c *Channel) watch() {
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
				c.ingest(event.Name)
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("feedback inbox watch error", zap.Error(err))
		case <-c.done:
			return
		}
	}
}

func (c *Channel) rescan() {
	if c.dir == "" {
		return
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.logger.Warn("feedback inbox rescan failed", zap.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		c.ingest(filepath.Join(c.dir, entry.Name()))
	}
}

// ingest reads one inbox file exactly once.
func (c *Channel) ingest(path string) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return
	}

	c.mu.Lock()
	if c.seen[base] {
		c.mu.Unlock()
		return
	}
	c.seen[base] = true
	c.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		// Likely caught mid-write; let the next rescan retry.
		c.mu.Lock()
		delete(c.seen, base)
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	c.pending = append(c.pending, strings.TrimSpace(string(data)))
	c.mu.Unlock()
	c.logger.Debug("feedback file ingested", zap.String("file", base))
}
