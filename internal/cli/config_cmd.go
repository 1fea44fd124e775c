package cli

import (
	"fmt"
	"os"

	"stargazer/internal/config"
)

func (r *Root) configShow() error {
	fmt.Printf("Current configuration:\n")
	cfgPath := os.Getenv("STARGAZER_CONFIG")
	if cfgPath == "" {
		cfgPath = "(default) ~/.config/stargazer/config.json"
	}
	fmt.Printf("Config file: %s\n", cfgPath)
	fmt.Printf("\nStacking:\n")
	fmt.Printf("  Backend: %s\n", r.cfg.Stacking.Backend)
	fmt.Printf("  Workers: %d (0 = one per core)\n", r.cfg.Stacking.Workers)
	fmt.Printf("  Batch size: %d (0 = from available memory)\n", r.cfg.Stacking.BatchSize)
	fmt.Printf("\nStar detection:\n")
	fmt.Printf("  Sigma: %.1f\n", r.cfg.Detection.Sigma)
	fmt.Printf("  Min matches: %d\n", r.cfg.Detection.MinMatches)
	fmt.Printf("  RANSAC iterations: %d\n", r.cfg.Detection.Iterations)
	fmt.Printf("  Inlier tolerance: %.1f px\n", r.cfg.Detection.Tolerance)
	fmt.Printf("\nWatch mode:\n")
	fmt.Printf("  Settle: %d ms\n", r.cfg.Watch.SettleMS)
	fmt.Printf("\nServer:\n")
	fmt.Printf("  Address: %s\n", r.cfg.Server.Addr)
	fmt.Printf("\nLogging:\n")
	fmt.Printf("  Level: %s\n", r.cfg.Logging.Level)
	fmt.Printf("  Format: %s\n", r.cfg.Logging.Format)
	fmt.Printf("  File output: %t\n", r.cfg.Logging.FileOutput)
	fmt.Printf("  Log directory: %s\n", r.cfg.Logging.LogDir)
	fmt.Printf("\nPaths:\n")
	fmt.Printf("  Default output: %s\n", r.cfg.Paths.DefaultOutput)
	fmt.Printf("  Database: %s\n", r.cfg.Paths.DatabasePath)
	return nil
}

func (r *Root) configInit() error {
	path := os.Getenv("STARGAZER_CONFIG")
	if path == "" {
		path = config.DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := config.Write(config.Default(), path); err != nil {
		return err
	}
	fmt.Printf("✅ Wrote default config to %s\n", path)
	return nil
}
