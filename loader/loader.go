// Package loader keeps the stored script sources in sync with a directory.
package loader

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/zond/scriptai"
	"github.com/zond/scriptai/storage"
)

const (
	// Changes to a file are loaded once it has been quiet this long.
	settleDelay = 100 * time.Millisecond
)

var scriptExtensions = map[string]bool{
	".js":    true,
	".lua":   true,
	".tengo": true,
}

func IsScript(path string) bool {
	return scriptExtensions[strings.ToLower(filepath.Ext(path))]
}

type Loader struct {
	dir   string
	store *storage.Storage

	// Loaded receives the stored path of every source loaded or removed by
	// Watch, if set.
	Loaded func(path string)
}

func New(dir string, store *storage.Storage) *Loader {
	return &Loader{
		dir:   dir,
		store: store,
	}
}

func (l *Loader) storedPath(path string) (string, error) {
	rel, err := filepath.Rel(l.dir, path)
	if err != nil {
		return "", scriptai.WithStack(err)
	}
	return storage.CleanPath(filepath.ToSlash(rel)), nil
}

// load stores the file at path, or removes it from storage if it's gone.
func (l *Loader) load(ctx context.Context, path string) (string, error) {
	stored, err := l.storedPath(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := l.store.DelSource(ctx, stored); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", scriptai.WithStack(err)
		}
		return stored, nil
	} else if err != nil {
		return "", scriptai.WithStack(err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", scriptai.WithStack(err)
	}
	if err := l.store.PutSource(ctx, stored, content, info.ModTime()); err != nil {
		return "", scriptai.WithStack(err)
	}
	return stored, nil
}

// Sync loads every script in the directory that is newer than its stored
// copy, and removes stored sources whose files are gone.
func (l *Loader) Sync(ctx context.Context) error {
	stored, err := l.store.Sources(ctx)
	if err != nil {
		return scriptai.WithStack(err)
	}
	storedTimes := map[string]time.Time{}
	for _, src := range stored {
		storedTimes[src.Path] = src.ModTime
	}
	loaded, updated := 0, 0
	if err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsScript(path) {
			return nil
		}
		p, err := l.storedPath(path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return scriptai.WithStack(err)
		}
		loaded++
		modTime, found := storedTimes[p]
		delete(storedTimes, p)
		if found && modTime.Equal(info.ModTime()) {
			return nil
		}
		if _, err := l.load(ctx, path); err != nil {
			return err
		}
		updated++
		return nil
	}); err != nil {
		return scriptai.WithStack(err)
	}
	for p := range storedTimes {
		if err := l.store.DelSource(ctx, p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return scriptai.WithStack(err)
		}
	}
	log.Printf("synced %s: %d scripts, %d updated, %d removed", l.dir, loaded, updated, len(storedTimes))
	return nil
}

func (l *Loader) addDirs(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.Add(path); err != nil {
				return scriptai.WithStack(err)
			}
		}
		return nil
	})
}

// Watch loads changed scripts until ctx is done.
func (l *Loader) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return scriptai.WithStack(err)
	}
	defer w.Close()
	if err := l.addDirs(w, l.dir); err != nil {
		return err
	}

	pendingLock := sync.Mutex{}
	pending := map[string]*time.Timer{}
	stopped := false
	// Reloads that already started must finish before the storage can close.
	running := sync.WaitGroup{}
	defer func() {
		pendingLock.Lock()
		stopped = true
		for _, t := range pending {
			t.Stop()
		}
		pendingLock.Unlock()
		running.Wait()
	}()
	schedule := func(path string) {
		pendingLock.Lock()
		defer pendingLock.Unlock()
		if t, found := pending[path]; found {
			t.Reset(settleDelay)
			return
		}
		pending[path] = time.AfterFunc(settleDelay, func() {
			pendingLock.Lock()
			if stopped {
				pendingLock.Unlock()
				return
			}
			delete(pending, path)
			running.Add(1)
			pendingLock.Unlock()
			defer running.Done()
			stored, err := l.load(ctx, path)
			if err != nil {
				log.Printf("loading %q: %v", path, err)
				return
			}
			log.Printf("reloaded %q", stored)
			if l.Loaded != nil {
				l.Loaded(stored)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := l.addDirs(w, event.Name); err != nil {
						log.Printf("watching %q: %v", event.Name, err)
					}
					continue
				}
			}
			if IsScript(event.Name) {
				schedule(event.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Printf("watching %q: %v", l.dir, err)
		}
	}
}
