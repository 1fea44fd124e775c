package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"stargazer/internal/align"
	"stargazer/internal/config"
	"stargazer/internal/stack"
	"stargazer/internal/storage"
)

// Root carries the state shared by every subcommand.
type Root struct {
	cfg *config.Config
	log *slog.Logger
}

// NewRoot constructs the shared command state.
func NewRoot(cfg *config.Config, logger *slog.Logger) *Root {
	if logger == nil {
		logger = slog.Default()
	}
	return &Root{cfg: cfg, log: logger}
}

// openStore opens the session database, honoring the --db flag. An empty path
// falls back to the configured location; "none" disables persistence. Open
// failures degrade to a nil store so stacking still works.
func (r *Root) openStore(path string) *storage.Store {
	if path == "" {
		path = r.cfg.Paths.DatabasePath
	}
	if path == "" || path == "none" {
		return nil
	}
	store, err := storage.New(path)
	if err != nil {
		r.log.Warn("session database unavailable, continuing without history", "path", path, "error", err)
		return nil
	}
	return store
}

// aligner builds the registration engine from the detection settings.
func (r *Root) aligner() *align.Aligner {
	al := align.New()
	if r.cfg.Detection.Sigma > 0 {
		al.Sigma = r.cfg.Detection.Sigma
	}
	if r.cfg.Detection.MinMatches > 0 {
		al.MinMatches = r.cfg.Detection.MinMatches
	}
	if r.cfg.Detection.Iterations > 0 {
		al.Iterations = r.cfg.Detection.Iterations
	}
	if r.cfg.Detection.Tolerance > 0 {
		al.Tolerance = r.cfg.Detection.Tolerance
	}
	return al
}

// computeBackend maps the user-facing backend names onto the strategy names.
// "cpu" is the documented alias for the native worker pool.
func computeBackend(name string) string {
	if name == "cpu" {
		return "native"
	}
	return name
}

// memoryProbe turns a --memory-limit value like "2GB" into the memory
// function the batch scheduler consults. Empty means probe the system.
func memoryProbe(limit string) (func() uint64, error) {
	if limit == "" {
		return nil, nil
	}
	bytes, err := humanize.ParseBytes(limit)
	if err != nil {
		return nil, fmt.Errorf("invalid memory limit %q: %w", limit, err)
	}
	return func() uint64 { return bytes }, nil
}

// terminalCallbacks prints run progress the way the capture log does.
func terminalCallbacks() *stack.Callbacks {
	return &stack.Callbacks{
		Progress: func(msg string, level stack.Level) {
			switch level {
			case stack.LevelSuccess:
				fmt.Printf("✅ %s\n", msg)
			case stack.LevelWarning:
				fmt.Printf("⚠️  %s\n", msg)
			case stack.LevelError:
				fmt.Printf("❌ %s\n", msg)
			default:
				fmt.Printf("   %s\n", msg)
			}
		},
	}
}

func printSummary(sum *stack.Summary) {
	fmt.Printf("\nSession %s\n", sum.SessionID)
	fmt.Printf("  Stacked:    %d of %d frames\n", sum.Combined, sum.Total)
	if sum.Skipped > 0 {
		fmt.Printf("  Skipped:    %d unreadable\n", sum.Skipped)
	}
	if sum.Dropped > 0 {
		fmt.Printf("  Dropped:    %d failed alignment\n", sum.Dropped)
	}
	fmt.Printf("  Batch size: %d\n", sum.BatchSize)
	fmt.Printf("  Elapsed:    %s\n", sum.Elapsed.Round(time.Millisecond))
	if sum.Output != "" {
		fmt.Printf("  Output:     %s\n", sum.Output)
	}
}
