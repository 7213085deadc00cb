package server

import (
	"path/filepath"
	"time"

	"jukebox/internal/config"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// startConfigWatcher watches the configuration file's directory; editors
// often replace the file rather than write it in place.
func (rs *RoomServer) startConfigWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	rs.watcher = watcher

	go rs.watchConfig()

	if err := watcher.Add(filepath.Dir(rs.configPath)); err != nil {
		return err
	}

	rs.logger.WithField("config_path", rs.configPath).Info("Config watcher started")
	return nil
}

// watchConfig selects on watcher channels and dispatches events.
func (rs *RoomServer) watchConfig() {
	defer rs.watcher.Close()

	target := filepath.Clean(rs.configPath)
	var debounce <-chan time.Time

	for {
		select {
		case event, ok := <-rs.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				// Let the write settle.
				debounce = time.After(250 * time.Millisecond)
			}

		case <-debounce:
			debounce = nil
			rs.reloadConfig()

		case err, ok := <-rs.watcher.Errors:
			if !ok {
				return
			}
			rs.logger.WithError(err).Error("Config watcher error")
		}
	}
}

// reloadConfig re-reads the file and applies the settings that can change
// without a restart.
func (rs *RoomServer) reloadConfig() {
	cfg, err := config.LoadConfig(rs.configPath)
	if err != nil {
		rs.logger.WithError(err).Warn("Ignoring invalid configuration change")
		return
	}
	rs.applyLiveConfig(cfg)
}

func (rs *RoomServer) applyLiveConfig(cfg *config.Config) {
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil && level != rs.logger.GetLevel() {
		rs.logger.SetLevel(level)
		rs.logger.WithField("level", level.String()).Info("Log level changed")
	}

	if rs.janitor != nil && cfg.Rooms.InactivityWindow.Duration != rs.janitor.Window() {
		rs.janitor.SetWindow(cfg.Rooms.InactivityWindow.Duration)
		rs.logger.WithField("window", cfg.Rooms.InactivityWindow.Duration).Info("Room inactivity window changed")
	}
}

// stopConfigWatcher closes the watcher (idempotent).
func (rs *RoomServer) stopConfigWatcher() {
	if rs.watcher != nil {
		rs.watcher.Close()
	}
}
