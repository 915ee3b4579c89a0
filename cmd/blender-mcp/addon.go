package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/CommonSenseMachines/blender-mcp/addon"
	"github.com/CommonSenseMachines/blender-mcp/config"
	"github.com/CommonSenseMachines/blender-mcp/csm"
	"github.com/CommonSenseMachines/blender-mcp/executor"
	"github.com/CommonSenseMachines/blender-mcp/logger"
	"github.com/CommonSenseMachines/blender-mcp/mainloop"
	"github.com/CommonSenseMachines/blender-mcp/scene"
)

func newAddonCmd(flags *globalFlags) *cobra.Command {
	var (
		noStore  bool
		autosave time.Duration
	)

	cmd := &cobra.Command{
		Use:   "addon",
		Short: "Run the scene host socket server",
		Long: `Run the scene host: a TCP socket server in front of the in-memory scene
engine. Commands from every client are executed one at a time on a single
main loop. The scene is restored from and saved to the scene store unless
--no-store is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if err := initLogging(cfg, logger.AddonLogPath); err != nil {
				return err
			}
			defer logger.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAddon(ctx, cfg, !noStore, autosave)
		},
	}

	cmd.Flags().BoolVar(&noStore, "no-store", false, "do not load or save the scene store")
	cmd.Flags().DurationVar(&autosave, "autosave", time.Minute, "scene store save interval (0 disables periodic saves)")
	return cmd
}

func runAddon(ctx context.Context, cfg *config.Config, useStore bool, autosave time.Duration) error {
	log := logger.WithComponent("addon-cmd")
	sc := scene.NewDefaultMemory()

	var store *scene.Store
	if useStore {
		s, err := openSceneStore(cfg, sc, log)
		if err != nil {
			return err
		}
		store = s
		defer store.Close()
	}

	cache, closeCache := searchCache(ctx, cfg, log)
	defer closeCache()

	loop := mainloop.New()
	exec, err := executor.New(sc, csm.New(cfg, csm.WithCache(cache, cfg.SearchCacheTTL)),
		executor.WithScheduler(loop))
	if err != nil {
		return err
	}

	csmSettings := cfg.CSM()
	log.Info("starting addon host",
		"addr", cfg.Address(),
		"csm_enabled", csmSettings.Enabled,
		"csm_key", config.MaskKey(csmSettings.APIKey))

	srv := addon.NewServer(cfg.Address(), exec, loop)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })

	if err := srv.Start(gctx); err != nil {
		loop.Stop()
		g.Wait()
		return err
	}
	g.Go(func() error {
		<-gctx.Done()
		return srv.Stop()
	})

	if store != nil && autosave > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(autosave)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					err := loop.Do(gctx, func() error { return store.Save(sc.Snapshot()) })
					if err != nil && gctx.Err() == nil {
						log.Warn("autosave failed", "error", err)
					}
				}
			}
		})
	}

	err = g.Wait()

	// The loop has exited, so the scene can be read directly.
	if store != nil {
		if serr := store.Save(sc.Snapshot()); serr != nil {
			log.Error("failed to save scene", "error", serr)
		} else {
			log.Info("scene saved")
		}
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openSceneStore(cfg *config.Config, sc *scene.Memory, log *slog.Logger) (*scene.Store, error) {
	path, err := cfg.SceneStorePath()
	if err != nil {
		return nil, err
	}
	store, err := scene.OpenStore(path)
	if err != nil {
		return nil, err
	}

	snap, err := store.Load()
	switch {
	case errors.Is(err, scene.ErrNoSnapshot):
		log.Info("no saved scene, starting with the default scene", "store", path)
	case err != nil:
		log.Warn("failed to load saved scene, starting with the default scene", "store", path, "error", err)
	default:
		if err := sc.Restore(snap); err != nil {
			store.Close()
			return nil, err
		}
		log.Info("restored scene", "store", path, "saved_at", snap.SavedAt)
	}
	return store, nil
}

// searchCache returns the Redis cache when configured and reachable, or an
// in-process cache otherwise.
func searchCache(ctx context.Context, cfg *config.Config, log *slog.Logger) (csm.Cache, func()) {
	if cfg.RedisURL == "" {
		return csm.NewMemoryCache(), func() {}
	}
	rc, err := csm.NewRedisCache(ctx, cfg.RedisURL)
	if err != nil {
		log.Warn("redis unavailable, using in-memory search cache", "error", err)
		return csm.NewMemoryCache(), func() {}
	}
	return rc, func() { rc.Close() }
}
