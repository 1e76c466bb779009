package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"risk_engine/internal/config"
)

// LoadConfig delegates to the project's config loader
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation
func checkPreFlight(cfg *config.Config) error {
	if cfg.Store.Type == "sqlite" && cfg.Store.Path != ":memory:" {
		dir := filepath.Dir(cfg.Store.Path)
		info, err := os.Stat(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("store directory not found: %s", dir)
			}
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("store path parent is not a directory: %s", dir)
		}
	}
	return nil
}
