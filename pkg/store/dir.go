// dir.go implements the file backend: one descriptor file per instance
// inside a shared directory. Publication is atomic via write-to-temp then
// rename, so readers never observe a half-written descriptor, only a
// stale one.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// dirFreshness is how long a file descriptor stays credible without a
// rewrite. Directory scans cost more than table reads, so the window is
// wider than the table backend's.
const dirFreshness = 5 * time.Second

const descriptorExt = ".json"

// Dir stores one descriptor file per instance in root. When the platform
// supports it, Dir also watches root and reports peer writes through
// Events.
type Dir struct {
	root string

	mu      sync.Mutex
	closed  bool
	selfIDs map[string]struct{}

	watcher *fsnotify.Watcher
	events  chan struct{}
}

// DefaultDir returns the per-user directory descriptor files live in:
// $XDG_RUNTIME_DIR/peerbus when set, else a uid-scoped folder under the
// system temp directory.
func DefaultDir() string {
	if run := os.Getenv("XDG_RUNTIME_DIR"); run != "" {
		return filepath.Join(run, "peerbus")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("peerbus-%d", os.Getuid()))
}

// NewDir opens the directory backend rooted at root, creating the
// directory if needed. root == "" selects DefaultDir. Watch setup is best
// effort: when inotify (or the platform equivalent) is unavailable the
// backend silently degrades to poll-only and Events returns nil.
func NewDir(root string) (*Dir, error) {
	if root == "" {
		root = DefaultDir()
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	d := &Dir{root: root, selfIDs: make(map[string]struct{})}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(root); err == nil {
			d.watcher = watcher
			d.events = make(chan struct{}, 1)
			go d.forward()
		} else {
			watcher.Close()
		}
	}
	return d, nil
}

// forward coalesces raw filesystem events into at most one pending tick
// nudge. It exits when the watcher closes.
func (d *Dir) forward() {
	defer close(d.events)
	for {
		select {
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !descriptorEvent(ev) || d.selfEvent(ev) {
				continue
			}
			select {
			case d.events <- struct{}{}:
			default:
			}
		case _, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors degrade to plain polling; nothing to do.
		}
	}
}

// selfEvent reports whether ev concerns a descriptor this handle wrote
// itself. Our own republishes carry no news for our scheduler; letting
// them through would wake it after every publish.
func (d *Dir) selfEvent(ev fsnotify.Event) bool {
	id := strings.TrimSuffix(filepath.Base(ev.Name), descriptorExt)
	d.mu.Lock()
	_, ok := d.selfIDs[id]
	d.mu.Unlock()
	return ok
}

// descriptorEvent filters out temp files and irrelevant ops.
func descriptorEvent(ev fsnotify.Event) bool {
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, descriptorExt) {
		return false
	}
	return ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) ||
		ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename)
}

func (d *Dir) path(id string) string {
	return filepath.Join(d.root, id+descriptorExt)
}

// Publish writes data to a temp file in root and renames it into place.
func (d *Dir) Publish(id string, data []byte) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.selfIDs[id] = struct{}{}
	d.mu.Unlock()

	tmp, err := os.CreateTemp(d.root, "."+id+"-*")
	if err != nil {
		return fmt.Errorf("create temp descriptor: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write descriptor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close descriptor: %w", err)
	}
	if err := os.Rename(tmpName, d.path(id)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish descriptor: %w", err)
	}
	return nil
}

// ListLive reads every descriptor file in root. Files that vanish between
// the scan and the read belong to peers shutting down and are skipped.
func (d *Dir) ListLive() (map[string][]byte, error) {
	dirents, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("scan store dir: %w", err)
	}
	entries := make(map[string][]byte)
	for _, ent := range dirents {
		name := ent.Name()
		if ent.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, descriptorExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(d.root, name))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read descriptor %s: %w", name, err)
		}
		entries[strings.TrimSuffix(name, descriptorExt)] = data
	}
	return entries, nil
}

// Remove deletes the descriptor file for id. Absent files are not an
// error: peers race to prune the same stale entry.
func (d *Dir) Remove(id string) error {
	if err := os.Remove(d.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove descriptor %s: %w", id, err)
	}
	return nil
}

// Close stops the watcher. The root directory and any remaining peer
// files are left for the surviving instances.
func (d *Dir) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.watcher != nil {
		return d.watcher.Close()
	}
	return nil
}

// DefaultFreshness implements Adapter.
func (d *Dir) DefaultFreshness() time.Duration { return dirFreshness }

// Events implements Notifier. Returns nil when watching is unavailable.
func (d *Dir) Events() <-chan struct{} { return d.events }

// Root returns the backing directory.
func (d *Dir) Root() string { return d.root }

// Compile-time checks.
var (
	_ Adapter  = (*Dir)(nil)
	_ Notifier = (*Dir)(nil)
)
