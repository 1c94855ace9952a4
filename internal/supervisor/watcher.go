package supervisor

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchFirstSegment signals once when the live segmenter writes its first
// media segment into dir, which is the Starting -> Online trigger. fsnotify
// is preferred; if the watch cannot be established it falls back to polling.
// The returned stop function must be called exactly once.
func watchFirstSegment(dir string) (<-chan struct{}, func()) {
	found := make(chan struct{}, 1)
	quit := make(chan struct{})

	signal := func() {
		select {
		case found <- struct{}{}:
		default:
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		err = watcher.Add(dir)
		if err != nil {
			watcher.Close()
		}
	}

	if err != nil {
		log.Printf("[supervisor] segment watch on %s failed (%v), falling back to polling", dir, err)
		go pollFirstSegment(dir, signal, quit)
		return found, func() { close(quit) }
	}

	go func() {
		defer watcher.Close()

		// The segmenter may have written before the watch was added.
		if hasSegment(dir) {
			signal()
			return
		}

		for {
			select {
			case <-quit:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
					if strings.HasSuffix(event.Name, ".ts") {
						signal()
						return
					}
				}
			case <-watcher.Errors:
				// Degrade to polling rather than miss the transition.
				go pollFirstSegment(dir, signal, quit)
				return
			}
		}
	}()

	return found, func() { close(quit) }
}

func pollFirstSegment(dir string, signal func(), quit <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			if hasSegment(dir) {
				signal()
				return
			}
		}
	}
}

func hasSegment(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".ts" {
			return true
		}
	}
	return false
}
