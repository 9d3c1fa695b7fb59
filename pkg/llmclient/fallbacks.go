package llmclient

import (
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/types"
)

// Built-in fallback lines per layer, served when no backend is reachable.
// Operators override them with a fallbacks file; these stay as the floor.
var defaultFallbacks = map[string]string{
	types.LayerFoundation:    "The world holds its breath for a moment. Try your action again shortly.",
	types.LayerCustomization: "Your changes are safe, but the tailor is momentarily distracted. Please try again.",
	types.LayerInteraction:   "The character pauses thoughtfully, lost for words. Give them a moment.",
	types.LayerCoordination:  "The story threads are being rewoven. One moment, please.",
	"default":                "The realm is briefly out of reach. Please try again in a moment.",
}

// fallbackStore serves per-layer fallback templates, optionally backed by a
// YAML file that is hot-reloaded on change.
type fallbackStore struct {
	mu        sync.RWMutex
	templates map[string]string
	path      string
	watcher   *fsnotify.Watcher
	logger    logging.Interface
}

func newFallbackStore(path string, logger logging.Interface) *fallbackStore {
	s := &fallbackStore{
		templates: map[string]string{},
		path:      path,
		logger:    logger,
	}
	for layer, text := range defaultFallbacks {
		s.templates[layer] = text
	}

	if path != "" {
		if err := s.load(); err != nil {
			logger.WithError(err).WithField("path", path).
				Warn("Failed to load fallbacks file, using defaults")
		}
		s.watch()
	}
	return s
}

// For returns the fallback line for a layer.
func (s *fallbackStore) For(layer string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if text, ok := s.templates[layer]; ok {
		return text
	}
	return s.templates["default"]
}

func (s *fallbackStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	loaded := map[string]string{}
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for layer, text := range loaded {
		s.templates[layer] = text
	}
	return nil
}

func (s *fallbackStore) watch() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.WithError(err).Warn("Failed to watch fallbacks file")
		return
	}
	if err := watcher.Add(s.path); err != nil {
		s.logger.WithError(err).WithField("path", s.path).
			Warn("Failed to watch fallbacks file")
		_ = watcher.Close()
		return
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.load(); err != nil {
					s.logger.WithError(err).Warn("Failed to reload fallbacks file")
					continue
				}
				s.logger.WithField("path", s.path).Info("Reloaded fallback templates")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.WithError(err).Warn("Fallbacks file watcher error")
			}
		}
	}()
}

// Close stops the file watcher.
func (s *fallbackStore) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
