package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Watch re-applies the log level whenever the loaded config file changes.
// Returns a stop function. No-op (nil watcher) when no config file was used.
func Watch() (func() error, error) {
	path := viper.ConfigFileUsed()
	if path == "" {
		return func() error { return nil }, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which drops
	// a watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config watcher add: %w", err)
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if err := viper.ReadInConfig(); err != nil {
					log.Warn().Err(err).Msg("config reload failed; keeping previous settings")
					continue
				}
				ApplyLogLevel(viper.GetString("log.level"))
				log.Info().Str("level", zerolog.GlobalLevel().String()).Msg("config reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()

	return watcher.Close, nil
}

// ApplyLogLevel sets the global zerolog level, defaulting to info on
// unparseable input.
func ApplyLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
