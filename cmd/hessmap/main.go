// Package main is the entry point for the HessMap server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/hessmap/server/internal/api"
	"github.com/hessmap/server/internal/cache"
	"github.com/hessmap/server/internal/catalog"
	"github.com/hessmap/server/internal/config"
	"github.com/hessmap/server/internal/controller"
	"github.com/hessmap/server/internal/params"
	"github.com/hessmap/server/internal/query"
	"github.com/hessmap/server/internal/render"
	"github.com/hessmap/server/web"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "hessmap",
	Short: "Interactive SDSS sky explorer with a linked Hess diagram",
	Long: `HessMap serves a local session that renders a spatial scatter plot and a
color-magnitude (Hess) diagram of SDSS stars around a sky position, and
re-renders both whenever a control changes.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, newLogger(logLevel))
	},
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Print the catalog query for the configured session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		snap := cfg.Session.Snapshot()
		q, err := query.Build(snap.Position, snap.Radius)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), q)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config/server.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().String("addr", "", "HTTP listen address (overrides server.addr)")
	rootCmd.Flags().String("source", "", "Catalog source: skyserver or synthetic (overrides catalog.source)")

	viper.SetEnvPrefix("HESSMAP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.BindPFlag("server.addr", rootCmd.Flags().Lookup("addr"))
	viper.BindPFlag("catalog.source", rootCmd.Flags().Lookup("source"))

	rootCmd.AddCommand(queryCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the YAML file and applies flag and HESSMAP_* env
// overrides on top of it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if v := viper.GetString("server.addr"); v != "" {
		cfg.Server.Addr = v
	}
	if v := viper.GetString("catalog.source"); v != "" {
		cfg.Catalog.Source = v
	}
	if v := viper.GetString("catalog.url"); v != "" {
		cfg.Catalog.URL = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

func newClient(cfg config.CatalogConfig, logger *slog.Logger) catalog.Client {
	if cfg.Source == "synthetic" {
		voids := make([]catalog.Void, 0, len(cfg.Synthetic.Voids))
		for _, v := range cfg.Synthetic.Voids {
			voids = append(voids, catalog.Void{
				Position: params.SkyPosition{RA: v.RA, Dec: v.Dec},
				Radius:   v.Radius,
			})
		}
		return catalog.NewSynthetic(catalog.SyntheticConfig{
			Seed:    cfg.Synthetic.Seed,
			Density: cfg.Synthetic.Density,
			MaxRows: cfg.Synthetic.MaxRows,
			Latency: cfg.Synthetic.Latency(),
			Voids:   voids,
			Logger:  logger,
		})
	}
	return catalog.NewSkyServer(catalog.SkyServerConfig{
		URL:    cfg.URL,
		Logger: logger,
	})
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting HessMap server",
		"addr", cfg.Server.Addr,
		"catalog", cfg.Catalog.Source,
		"timeout_s", cfg.Catalog.TimeoutSeconds,
	)

	cacheManager, err := cache.NewManager(cache.Config{
		PanelCacheSizeMB: cfg.Cache.PanelSizeMB,
		PanelTTL:         time.Duration(cfg.Cache.PanelTTLMinutes) * time.Minute,
		LUTCacheSize:     cfg.Cache.LUTSize,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheManager.Close()

	set, err := params.New(cfg.Session.Snapshot())
	if err != nil {
		return fmt.Errorf("failed to initialize parameters: %w", err)
	}

	surface := controller.NewSurface()
	ctrl, err := controller.New(controller.Config{
		Params: set,
		Client: newClient(cfg.Catalog, logger),
		Pipeline: render.NewPipeline(render.Config{
			DefaultColormap: cfg.Render.DefaultColormap,
			Logger:          logger,
		}),
		Surface: surface,
		Timeout: cfg.Catalog.Timeout(),
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize controller: %w", err)
	}

	router := api.NewRouter(api.RouterConfig{
		Params:  set,
		Surface: surface,
		Rasterizer: render.NewRasterizer(render.RasterConfig{
			Width:       cfg.Render.Width,
			Height:      cfg.Render.Height,
			MarkerScale: cfg.Render.MarkerScale,
			Cache:       cacheManager,
		}),
		Cache:       cacheManager,
		Refresher:   ctrl,
		CORSOrigins: cfg.Server.CORSOrigins,
		Title:       cfg.Server.Title,
		Static:      web.Content,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctrl.Start(ctx)
	defer ctrl.Stop()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "url", "http://"+cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down server")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server forced to shutdown", "error", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}
