package config

import (
	"context"
	"os"
	"sync"
	"time"

	"wamux/internal/constants"
	"wamux/internal/models"

	"github.com/sirupsen/logrus"
)

// settleDelay gives an editor time to finish writing before the reload.
const settleDelay = 100 * time.Millisecond

// ConfigWatcher polls the config file and hands each valid new version to
// the registered callbacks. Only the log level and media retention are
// applied live; gateway, store and server settings need a restart.
type ConfigWatcher struct {
	configPath string
	interval   time.Duration
	logger     *logrus.Logger

	mu        sync.RWMutex
	config    *models.Config
	callbacks []func(*models.Config)
}

func NewConfigWatcher(configPath string, logger *logrus.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		configPath: configPath,
		interval:   constants.DefaultConfigPollIntervalSec * time.Second,
		logger:     logger,
	}
}

// Start loads the file once and then polls its modification time until
// ctx is done. It fails only if the initial load fails.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	config, err := LoadConfig(cw.configPath)
	if err != nil {
		return err
	}
	lastMod, err := cw.modTime()
	if err != nil {
		return err
	}

	cw.mu.Lock()
	cw.config = config
	cw.mu.Unlock()

	cw.logger.WithField(constants.LogFieldFilePath, cw.configPath).Info("Watching configuration file")

	ticker := time.NewTicker(cw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cw.logger.Debug("Configuration watcher stopped")
			return nil

		case <-ticker.C:
			mod, err := cw.modTime()
			if err != nil {
				cw.logger.WithError(err).Warn("Failed to stat configuration file")
				continue
			}
			if !mod.After(lastMod) {
				continue
			}
			lastMod = mod

			select {
			case <-time.After(settleDelay):
			case <-ctx.Done():
				return nil
			}
			cw.reloadConfig()
		}
	}
}

func (cw *ConfigWatcher) modTime() (time.Time, error) {
	stat, err := os.Stat(cw.configPath)
	if err != nil {
		return time.Time{}, err
	}
	return stat.ModTime(), nil
}

// GetConfig returns the last successfully loaded configuration.
func (cw *ConfigWatcher) GetConfig() *models.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

// OnConfigChange registers a callback. Callbacks run in registration order
// on the watcher goroutine.
func (cw *ConfigWatcher) OnConfigChange(callback func(*models.Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// reloadConfig swaps in the new file contents. An invalid file keeps the
// running configuration.
func (cw *ConfigWatcher) reloadConfig() {
	next, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Failed to reload configuration")
		return
	}

	cw.mu.Lock()
	prev := cw.config
	cw.config = next
	callbacks := append(([]func(*models.Config))(nil), cw.callbacks...)
	cw.mu.Unlock()

	cw.logger.Info("Configuration reloaded")
	cw.logChanges(prev, next)

	for _, cb := range callbacks {
		cw.notify(cb, next)
	}
}

func (cw *ConfigWatcher) notify(cb func(*models.Config), next *models.Config) {
	defer func() {
		if r := recover(); r != nil {
			cw.logger.WithField("panic", r).Error("Config change callback panicked")
		}
	}()
	cb(next)
}

func (cw *ConfigWatcher) logChanges(prev, next *models.Config) {
	if prev == nil {
		return
	}

	if prev.LogLevel != next.LogLevel {
		cw.logger.WithFields(logrus.Fields{"old": prev.LogLevel, "new": next.LogLevel}).Info("Log level changed")
	}
	if prev.Media.RetentionDays != next.Media.RetentionDays {
		cw.logger.WithFields(logrus.Fields{
			"old": prev.Media.RetentionDays,
			"new": next.Media.RetentionDays,
		}).Info("Media retention changed")
	}

	if prev.Webhooks.Store != next.Webhooks.Store ||
		prev.Gateway.URL != next.Gateway.URL ||
		prev.Server.Port != next.Server.Port ||
		prev.Credentials.Dir != next.Credentials.Dir {
		cw.logger.Warn("Gateway, store, server or credential settings changed; restart to apply")
	}
}
