package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"extendfs/internal/admin"
	"extendfs/internal/config"
	"extendfs/internal/fs"
	"extendfs/internal/metrics"
	"extendfs/internal/state"
)

var verbose bool

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount a source directory",
	Long: `Mount the source directory at the mount point and serve it until
SIGINT or SIGTERM. SIGHUP, or a change to the configuration file, re-reads the
configuration and applies its option string to the live mount.

Flags win over EXTENDFS_* environment variables, which win over the
configuration file.

Examples:
  # Delay timestamp updates by 500ms
  extendfs mount --source /data --mountpoint /mnt/data -o "delayupdatetime=500"

  # Throttle writeback of files tagged with user.wbnice
  extendfs mount --config /etc/extendfs.yaml -o "wbnice"`,
	RunE: runMount,
}

func init() {
	f := mountCmd.Flags()
	f.String("source", "", "Source directory to mirror")
	f.String("mountpoint", "", "Mount point")
	f.StringP("options", "o", "", `Extended options, e.g. "delayupdatetime=500;wbnice"`)
	f.Bool("allow-other", false, "Allow other users to access the mount")
	f.String("state", "", "State file path")
	f.Bool("admin", false, "Enable the admin HTTP server")
	f.String("admin-listen", "", "Admin HTTP server address")
	f.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
}

// flagKeys maps mount flags onto configuration keys.
var flagKeys = map[string]string{
	"source":       "mount.source",
	"mountpoint":   "mount.mountpoint",
	"options":      "mount.options",
	"allow-other":  "mount.allow_other",
	"state":        "state.path",
	"admin":        "admin.enabled",
	"admin-listen": "admin.listen",
}

func newLoader(cmd *cobra.Command) (*config.Loader, error) {
	loader := config.NewLoader(GetConfigFile())
	for name, key := range flagKeys {
		if err := loader.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return nil, err
		}
	}
	return loader, nil
}

func runMount(cmd *cobra.Command, _ []string) error {
	loader, err := newLoader(cmd)
	if err != nil {
		return err
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	applyLogLevel(cfg, verbose)

	logger.Info("Starting extendfs %s", Version)
	logger.Debug("Source: %s", cfg.Mount.Source)
	logger.Debug("Mount point: %s", cfg.Mount.Mountpoint)
	logger.Debug("State file: %s", cfg.State.Path)

	logger.Info("Initializing state manager...")
	stateManager, err := state.NewManager(cfg.State.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize state manager: %w", err)
	}
	fsState, err := stateManager.LoadState()
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	vfs, err := fs.NewFS(filepath.Clean(cfg.Mount.Source), fsState, stateManager, fs.Options{
		MountOptions:      cfg.Mount.Options,
		AllowOther:        cfg.Mount.AllowOther,
		WritebackInterval: cfg.Writeback.Interval,
		PagesPerPass:      cfg.Writeback.PagesPerPass,
		Observer:          metrics.New(reg),
	})
	if err != nil {
		return fmt.Errorf("failed to create filesystem: %w", err)
	}
	defer func() {
		if err := vfs.Close(); err != nil {
			logger.Error("Close failed: %v", err)
		}
	}()

	if err := vfs.Mount(filepath.Clean(cfg.Mount.Mountpoint)); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Admin.Enabled {
		srv := admin.NewServer(cfg.Admin.Listen, admin.NewRouter(vfs.Control(), reg))
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("Admin server: %v", err)
			}
		}()
	}

	reload := func(next *config.Config) {
		applyLogLevel(next, verbose)
		if next.Mount.Options == cfg.Mount.Options {
			return
		}
		if err := vfs.Remount(next.Mount.Options); err != nil {
			logger.Error("Keeping options %q: %v", cfg.Mount.Options, err)
			return
		}
		cfg = next
	}
	reloads := make(chan *config.Config, 1)

	if loader.Path() != "" {
		go func() {
			err := loader.Watch(ctx, func(next *config.Config) {
				logger.Info("Configuration file changed")
				select {
				case reloads <- next:
				case <-ctx.Done():
				}
			})
			if err != nil {
				logger.Warn("Not watching configuration: %v", err)
			}
		}()
	}

	served := make(chan error, 1)
	go func() { served <- vfs.Wait() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	logger.Info("Filesystem mounted and ready (options %q)", vfs.Config().Snapshot().String())

	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				logger.Info("Received SIGHUP, reloading configuration")
				next, err := loader.Load()
				if err != nil {
					logger.Error("Reload failed: %v", err)
					continue
				}
				reload(next)
				continue
			}
			logger.Info("Received signal %v", sig)
			if err := vfs.Unmount(); err != nil {
				logger.Error("Unmount error: %v", err)
			}

		case next := <-reloads:
			reload(next)

		case err := <-served:
			cancel()
			logger.Info("Clean shutdown complete")
			return err
		}
	}
}
