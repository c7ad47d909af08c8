package config

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// WatchPolicy reloads policy.yaml on change and calls onUpdate with the latest config.
// It performs an initial load before entering the watch loop. A file that fails
// to load or validate is skipped and the previous policy stays in effect.
func WatchPolicy(ctx context.Context, path string, interval time.Duration, logger *zerolog.Logger, onUpdate func(*PolicyConfig)) error {
	if path == "" {
		path = "configs/policy.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	cfg, err := LoadPolicyConfig(path)
	if err != nil {
		return err
	}
	if onUpdate != nil {
		onUpdate(cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					continue // transient errors
				}
				if !info.ModTime().After(lastMod) {
					continue
				}
				lastMod = info.ModTime()
				cfg, err := LoadPolicyConfig(path)
				if err != nil {
					if logger != nil {
						logger.Error().Err(err).Str("path", path).Msg("policy reload rejected, keeping previous policy")
					}
					continue
				}
				if logger != nil {
					logger.Info().Str("path", path).Msg("policy reloaded")
				}
				if onUpdate != nil {
					onUpdate(cfg)
				}
			}
		}
	}()

	return nil
}
