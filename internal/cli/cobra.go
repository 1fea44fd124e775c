package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stargazer/internal/compute"
	"stargazer/internal/config"
	"stargazer/internal/fsutil"
	"stargazer/internal/preview"
	"stargazer/internal/stack"
	"stargazer/internal/watch"
	"stargazer/internal/web"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger) *cobra.Command {
	root := NewRoot(cfg, log)

	rootCmd := &cobra.Command{
		Use:   "stargazer",
		Short: "Stargazer stacks astronomical frames as they are captured",
		Long: `Stargazer registers and stacks FITS frames incrementally: the first usable
frame becomes the reference and every following batch is star-aligned and
averaged into the growing stack, so memory stays flat however long the
session runs.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newStackCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newSessionsCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newStackCmd(root *Root) *cobra.Command {
	var (
		output      string
		backend     string
		batchSize   int
		workers     int
		memoryLimit string
		previewPath string
		serve       bool
		dbPath      string
	)

	cmd := &cobra.Command{
		Use:   "stack <frames_or_directories...>",
		Short: "Register and stack frames into a single image",
		Long: `Align and average FITS frames batch by batch against the first usable
reference frame. Directories expand to their frame files in name order.

Examples:
  # Stack a capture directory
  stargazer stack /data/m42/lights/ -o m42.fits

  # Force the CPU backend with a fixed batch size
  stargazer stack /data/m42/lights/ --backend cpu --batch-size 8

  # Cap working memory and watch progress on the dashboard
  stargazer stack /data/m42/lights/ --memory-limit 2GB --serve`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := fsutil.ExpandFrameArgs(args)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no frame files found in %v", args)
			}
			if output == "" {
				output = root.cfg.Paths.DefaultOutput
			}

			memory, err := memoryProbe(memoryLimit)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store := root.openStore(dbPath)
			defer store.Close()

			al := root.aligner()
			strategy := compute.Select(root.log, al, compute.Options{
				Backend: computeBackend(backend),
				Workers: workers,
			})
			defer strategy.Close()

			opts := stack.Options{
				Output:    output,
				BatchSize: batchSize,
				Workers:   workers,
				Callbacks: terminalCallbacks(),
				Store:     store,
				Memory:    memory,
			}

			if serve {
				bus := stack.NewBus(root.log)
				defer bus.Close()
				srv := web.NewServer(root.cfg.Server.Addr, root.log, store, bus)
				opts.Bus = bus
				opts.Callbacks.Preview = srv.SetPreview
				go func() {
					if err := srv.Start(ctx); err != nil {
						root.log.Error("web dashboard failed", "error", err)
					}
				}()
			}

			runner := stack.NewRunner(root.log, al, strategy, opts)
			sum, err := runner.Stack(ctx, paths)
			if err != nil {
				if errors.Is(err, context.Canceled) && sum != nil {
					fmt.Printf("⚠️  Interrupted after %d of %d frames; nothing was written\n", sum.Combined, sum.Total)
					return nil
				}
				return err
			}

			printSummary(sum)
			if previewPath != "" {
				if err := preview.WritePNG(sum.Stack, previewPath); err != nil {
					return fmt.Errorf("write preview: %w", err)
				}
				fmt.Printf("  Preview:    %s\n", previewPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output FITS path (defaults to config)")
	cmd.Flags().StringVar(&backend, "backend", root.cfg.Stacking.Backend, "compute backend (auto|cpu|magick)")
	cmd.Flags().IntVar(&batchSize, "batch-size", root.cfg.Stacking.BatchSize, "frames per alignment batch (0 = size from available memory)")
	cmd.Flags().IntVar(&workers, "workers", root.cfg.Stacking.Workers, "CPU alignment workers (0 = one per core)")
	cmd.Flags().StringVar(&memoryLimit, "memory-limit", "", "memory budget for batch sizing, e.g. 2GB (default: probe system)")
	cmd.Flags().StringVar(&previewPath, "preview", "", "also write a stretched PNG preview of the result")
	cmd.Flags().BoolVar(&serve, "serve", false, "serve the web dashboard while stacking")
	cmd.Flags().StringVar(&dbPath, "db", "", "session database path (defaults to config, \"none\" disables)")

	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		output      string
		backend     string
		batchSize   int
		workers     int
		memoryLimit string
		settle      time.Duration
		serve       bool
		dbPath      string
	)

	cmd := &cobra.Command{
		Use:   "watch <directory>",
		Short: "Stack frames live as a capture session writes them",
		Long: `Watch a directory and fold each new frame into the running stack once its
size has settled. Frames already present are stacked first. Stop with
Ctrl-C; the stacked image is written on the way out.

Examples:
  # Live-stack tonight's capture directory
  stargazer watch /data/m42/lights/ -o m42.fits

  # Follow along on the dashboard
  stargazer watch /data/m42/lights/ --serve`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			if output == "" {
				output = root.cfg.Paths.DefaultOutput
			}
			if settle <= 0 {
				settle = time.Duration(root.cfg.Watch.SettleMS) * time.Millisecond
			}

			memory, err := memoryProbe(memoryLimit)
			if err != nil {
				return err
			}

			existing, err := fsutil.ListFrames(dir)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			watcher, err := watch.New(dir, settle, root.log)
			if err != nil {
				return err
			}
			watcher.Seen(existing...)
			if err := watcher.Start(); err != nil {
				return err
			}
			go func() {
				<-ctx.Done()
				watcher.Stop()
			}()

			store := root.openStore(dbPath)
			defer store.Close()

			al := root.aligner()
			strategy := compute.Select(root.log, al, compute.Options{
				Backend: computeBackend(backend),
				Workers: workers,
			})
			defer strategy.Close()

			opts := stack.Options{
				Output:    output,
				BatchSize: batchSize,
				Workers:   workers,
				Callbacks: terminalCallbacks(),
				Store:     store,
				Memory:    memory,
			}

			if serve {
				bus := stack.NewBus(root.log)
				defer bus.Close()
				srv := web.NewServer(root.cfg.Server.Addr, root.log, store, bus)
				opts.Bus = bus
				opts.Callbacks.Preview = srv.SetPreview
				go func() {
					if err := srv.Start(ctx); err != nil {
						root.log.Error("web dashboard failed", "error", err)
					}
				}()
			}

			// One feed: frames already on disk first, then arrivals as they
			// settle. Closing it ends the session and writes the output.
			feed := make(chan string, 100)
			go func() {
				defer close(feed)
				for _, p := range existing {
					select {
					case feed <- p:
					case <-ctx.Done():
						return
					}
				}
				for {
					select {
					case p, ok := <-watcher.Frames():
						if !ok {
							return
						}
						select {
						case feed <- p:
						case <-ctx.Done():
							return
						}
					case <-ctx.Done():
						return
					}
				}
			}()

			fmt.Printf("👀 Watching %s (settle %s, Ctrl-C to finish)\n", dir, settle)

			runner := stack.NewRunner(root.log, al, strategy, opts)
			sum, err := runner.StackStream(ctx, feed, 2*settle)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			if sum != nil {
				printSummary(sum)
				if sum.Output == "" && errors.Is(err, context.Canceled) {
					fmt.Printf("⚠️  Interrupted mid-batch; nothing was written\n")
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output FITS path (defaults to config)")
	cmd.Flags().StringVar(&backend, "backend", root.cfg.Stacking.Backend, "compute backend (auto|cpu|magick)")
	cmd.Flags().IntVar(&batchSize, "batch-size", root.cfg.Stacking.BatchSize, "frames per alignment batch (0 = size from available memory)")
	cmd.Flags().IntVar(&workers, "workers", root.cfg.Stacking.Workers, "CPU alignment workers (0 = one per core)")
	cmd.Flags().StringVar(&memoryLimit, "memory-limit", "", "memory budget for batch sizing, e.g. 2GB (default: probe system)")
	cmd.Flags().DurationVar(&settle, "settle", 0, "how long a file's size must hold still (defaults to config)")
	cmd.Flags().BoolVar(&serve, "serve", false, "serve the web dashboard while watching")
	cmd.Flags().StringVar(&dbPath, "db", "", "session database path (defaults to config, \"none\" disables)")

	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr   string
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web dashboard over recorded sessions",
		Long: `Start the dashboard on its own, without a stacking run. It serves the
session history from the database and picks up live events once a run
with --serve shares the same process.

Examples:
  stargazer serve --addr 0.0.0.0:8465`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = root.cfg.Server.Addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store := root.openStore(dbPath)
			defer store.Close()

			bus := stack.NewBus(root.log)
			defer bus.Close()

			srv := web.NewServer(addr, root.log, store, bus)
			fmt.Printf("🌐 Dashboard: http://%s\n", addr)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&dbPath, "db", "", "session database path (defaults to config, \"none\" disables)")

	return cmd
}

func newSessionsCmd(root *Root) *cobra.Command {
	var (
		dbPath string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect recorded stacking sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.sessionsList(dbPath, limit)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.sessionsList(dbPath, limit)
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <session_id>",
		Short: "Show one session and its per-frame outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.sessionShow(dbPath, args[0])
		},
	}

	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "session database path (defaults to config)")
	cmd.PersistentFlags().IntVar(&limit, "limit", 20, "maximum sessions to list")
	cmd.AddCommand(listCmd, showCmd)
	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  "Show the active configuration or write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow()
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow()
		},
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configInit()
		},
	}

	cmd.AddCommand(showCmd, initCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("Stargazer v1.0.0")
			cmd.Printf("Built with Go %s\n", runtime.Version())
		},
	}
}
