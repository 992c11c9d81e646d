package adapters

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"packlink/internal/ports"
)

const eventChannelBuffer = 100
const defaultDebounceWindow = 500 * time.Millisecond

// watchSkipDirs are never watched: internal state and game output.
var watchSkipDirs = map[string]bool{
	stateDirName:    true,
	"logs":          true,
	"crash-reports": true,
	"screenshots":   true,
}

// FSNotifyWatcher streams debounced change events for an instance folder.
// Each distinct path changed during a quiet window is reported once.
type FSNotifyWatcher struct {
	Root   string
	Window time.Duration
}

func NewFSNotifyWatcher(root string, window time.Duration) FSNotifyWatcher {
	if window <= 0 {
		window = defaultDebounceWindow
	}
	return FSNotifyWatcher{Root: root, Window: window}
}

func (w FSNotifyWatcher) Watch(ctx context.Context, instanceID string) (<-chan ports.WatchEvent, error) {
	dir, err := InstanceFileStorage{Root: w.Root}.instanceDir(instanceID)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("instance not found: " + instanceID).
			WithCause(err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create watcher").
			WithCause(err)
	}
	for _, sub := range watchDirs(dir) {
		if err := fsw.Add(sub); err != nil {
			_ = fsw.Close()
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to watch " + sub).
				WithCause(err)
		}
	}
	out := make(chan ports.WatchEvent, eventChannelBuffer)
	go w.processEvents(ctx, fsw, dir, instanceID, out)
	return out, nil
}

func (w FSNotifyWatcher) processEvents(ctx context.Context, fsw *fsnotify.Watcher, root string, instanceID string, out chan<- ports.WatchEvent) {
	defer close(out)
	defer fsw.Close()

	window := w.Window
	if window <= 0 {
		window = defaultDebounceWindow
	}
	pending := map[string]struct{}{}
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			rel, keep := relevantPath(root, event.Name)
			if !keep {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					for _, sub := range watchDirs(event.Name) {
						_ = fsw.Add(sub)
					}
				}
			}
			pending[rel] = struct{}{}
			fire = time.After(window)
		case <-fire:
			fire = nil
			paths := make([]string, 0, len(pending))
			for path := range pending {
				paths = append(paths, path)
			}
			pending = map[string]struct{}{}
			sort.Strings(paths)
			for _, path := range paths {
				select {
				case out <- ports.WatchEvent{InstanceID: instanceID, Path: path}:
				case <-ctx.Done():
					return
				}
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Ctx(ctx).Warn().Err(err).Str("instance_id", instanceID).Msg("watcher error")
		}
	}
}

// watchDirs lists root and every directory below it that is not skipped.
func watchDirs(root string) []string {
	var dirs []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && watchSkipDirs[d.Name()] {
			return fs.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs
}

// relevantPath returns the slash path relative to root, dropping temp files
// and skipped folders.
func relevantPath(root string, name string) (string, bool) {
	rel, err := filepath.Rel(root, name)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	if strings.HasPrefix(filepath.Base(rel), ".packlink-tmp-") {
		return "", false
	}
	first := strings.SplitN(rel, "/", 2)[0]
	if watchSkipDirs[first] {
		return "", false
	}
	return rel, true
}

var _ ports.ContentWatcherPort = FSNotifyWatcher{}
