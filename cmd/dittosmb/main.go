package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/marmos91/dittosmb/internal/logger"
	"github.com/marmos91/dittosmb/pkg/config"
	"github.com/marmos91/dittosmb/pkg/smburi"
)

const usage = `dittosmb - SMB documents provider

Usage:
  dittosmb init [--force] [--config PATH]   Write a default configuration file
  dittosmb ls [--config PATH] URI            List the children of a folder
  dittosmb stat [--config PATH] URI          Show the attributes of a document
  dittosmb cat [--config PATH] URI           Write a file to stdout
  dittosmb serve [--config PATH]             Mount the configured shares and keep the cache warm

Shares listed under shares.mounts are mounted before each command runs.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "init":
		err = runInit(args)
	case "ls":
		err = runQuery(args, "ls", listChildren)
	case "stat":
		err = runQuery(args, "stat", statDocument)
	case "cat":
		err = runQuery(args, "cat", catFile)
	case "serve":
		err = runServe(args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite an existing configuration file")
	configPath := fs.String("config", "", "Path to write (default: "+config.GetDefaultConfigPath()+")")
	_ = fs.Parse(args)

	path := *configPath
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	if err := config.InitConfigToPath(path, *force); err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s\n", path)
	return nil
}

// setup loads the configuration, initializes logging and builds the runtime
// with the configured shares mounted.
func setup(ctx context.Context, configPath string) (*config.Config, *config.Runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return nil, nil, err
	}

	rt, err := config.Initialize(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	if err := rt.MountConfigured(ctx, cfg.Shares.Mounts); err != nil {
		logger.Warn("Some shares could not be mounted: %v", err)
	}
	return cfg, rt, nil
}

type queryFunc func(ctx context.Context, rt *config.Runtime, id smburi.ID) error

func runQuery(args []string, name string, fn queryFunc) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("expected one URI, got %d arguments", fs.NArg())
	}
	id, err := smburi.Parse(fs.Arg(0))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, rt, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := rt.Close(shutdownCtx); err != nil {
			logger.Error("Shutdown error: %v", err)
		}
		_ = logger.Sync()
	}()

	return fn(ctx, rt, id)
}

func listChildren(ctx context.Context, rt *config.Runtime, id smburi.ID) error {
	l, err := rt.Provider.QueryChildren(ctx, id)
	if err != nil {
		return err
	}
	if l.Refresh != nil {
		if err := l.Refresh.Wait(ctx); err != nil {
			return err
		}
		if l, err = rt.Provider.QueryChildren(ctx, id); err != nil {
			return err
		}
	}
	// Sizes are filled in by the background stat pass.
	if l.Stat != nil {
		if err := l.Stat.Wait(ctx); err != nil {
			logger.Warn("Attribute lookup failed: %v", err)
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, child := range l.Children {
		size := "-"
		if n, ok := child.Size(); ok && !child.IsDirectoryLike() {
			size = fmt.Sprintf("%d", n)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", child.Kind(), size, child.Name())
	}
	return w.Flush()
}

func statDocument(ctx context.Context, rt *config.Runtime, id smburi.ID) error {
	m, err := rt.Provider.QueryDocument(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("URI:   %s\n", m.ID())
	fmt.Printf("Name:  %s\n", m.Name())
	fmt.Printf("Kind:  %s\n", m.Kind())
	if st, ok := m.Stat(); ok {
		fmt.Printf("Size:  %d\n", st.Size)
		fmt.Printf("Mtime: %s\n", st.ModTime.Format("2006-01-02 15:04:05"))
	}
	if mime, err := m.MimeType(); err == nil {
		fmt.Printf("MIME:  %s\n", mime)
	}
	return nil
}

func catFile(ctx context.Context, rt *config.Runtime, id smburi.ID) error {
	_, err := rt.Provider.ReadFile(ctx, id, os.Stdout)
	return err
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	_ = fs.Parse(args)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("dittosmb - SMB documents provider")

	cfg, rt, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}

	logger.Info("Configuration:")
	logger.Info("  Native client: %s", cfg.Native.Type)
	logger.Info("  Share store: %s", cfg.Shares.Store.Type)
	logger.Info("  Cache TTL: %v", cfg.Cache.TTL)
	logger.Info("  Dispatcher queue: %d", cfg.Dispatcher.QueueSize)
	if cfg.Tasks.StatRate > 0 {
		logger.Info("  Stat rate: %d/s (burst %d)", cfg.Tasks.StatRate, cfg.Tasks.StatBurst)
	} else {
		logger.Info("  Stat rate: unlimited")
	}
	logger.Info("  Shutdown timeout: %v", cfg.Server.ShutdownTimeout)

	rt.Provider.Subscribe(func(id smburi.ID) {
		logger.Debug("Changed: %s", id)
	})

	metricsDone := make(chan error, 1)
	if rt.Metrics.Server != nil {
		go func() {
			metricsDone <- rt.Metrics.Server.Start(ctx)
		}()
	}

	roots, err := rt.Provider.Roots(ctx)
	if err != nil {
		return err
	}
	for _, root := range roots {
		logger.Info("Share available: %s", root.ID())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Provider is running. Press Ctrl+C to stop.")

	var runErr error
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case err := <-metricsDone:
		runErr = err
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if rt.Metrics.Server != nil {
		if err := rt.Metrics.Server.Stop(shutdownCtx); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	if err := rt.Close(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	_ = logger.Sync()

	if runErr == nil {
		logger.Info("Provider stopped gracefully")
	}
	return runErr
}
