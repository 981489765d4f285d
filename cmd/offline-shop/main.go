package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xumingyi/offline-shop-ionic3/internal/app"
	"github.com/xumingyi/offline-shop-ionic3/internal/config"
	httpx "github.com/xumingyi/offline-shop-ionic3/internal/http"
	"github.com/xumingyi/offline-shop-ionic3/internal/observability/logger"
)

// version se pisa con -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	configPath string
	envFile    string
	cfg        *config.Config
	log        *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "offline-shop",
		Short:         "Motor offline-first de clientes y pedidos (replicación + envío al ERP)",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", envOr("OFFLINE_SHOP_CONFIG", "config.yaml"), "Archivo YAML de configuración (env OFFLINE_SHOP_CONFIG)")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "Archivo .env opcional")

	root.AddCommand(
		c.runCmd(),
		c.reconcileCmd(),
		c.searchCmd(),
		c.indexCmd(),
		c.resetCmd(),
		versionCmd(),
	)
	return root
}

// setup carga .env, config y logger. Un config.yaml inexistente solo es
// error si se pidió explícitamente con --config.
func (c *cli) setup(cmd *cobra.Command) error {
	if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", c.envFile, err)
	}
	path := c.configPath
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if cfg.App.Version == "dev" && version != "dev" {
		cfg.App.Version = version
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.App.LogLevel,
		ServiceName: "offline-shop",
		Version:     cfg.App.Version,
		OutputPath:  cfg.App.LogFile,
	})
	c.cfg, c.log = cfg, logger.L()
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Replica clientes y pedidos, envía pendientes al ERP y expone la API de estado",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(cmd); err != nil {
				return err
			}
			defer logger.Sync()
			ctx, stop := signalContext()
			defer stop()

			for {
				err := c.runOnce(ctx)
				if !errors.Is(err, app.ErrReload) {
					return err
				}
				c.log.Warn("reloading engine")
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(c.cfg.Replication.RetryInitial):
				}
			}
		},
	}
}

func (c *cli) runOnce(ctx context.Context) error {
	e, err := app.New(ctx, c.cfg, app.Deps{Logger: c.log})
	if err != nil {
		return err
	}
	defer e.Close()

	metricsHandler, err := httpx.RegisterMetrics(nil, nil)
	if err != nil {
		return err
	}
	router := httpx.NewRouter(httpx.Deps{
		Clients:    e.Clients(),
		Orders:     e.Orders(),
		Reconciler: e.Scheduler(),
		Status:     e.Status,
		Metrics:    metricsHandler,
		Logger:     c.log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.Run(gctx) })
	g.Go(func() error { return httpx.Serve(gctx, c.cfg.HTTP.Addr, router, c.log) })
	return g.Wait()
}

// withEngine abre el motor sin arrancar la replicación.
func (c *cli) withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *app.Engine) error) error {
	if err := c.setup(cmd); err != nil {
		return err
	}
	defer logger.Sync()
	ctx, stop := signalContext()
	defer stop()
	e, err := app.New(ctx, c.cfg, app.Deps{Logger: c.log})
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e)
}

func (c *cli) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Envía una vez las órdenes pendientes al ERP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				sum, outcomes, err := e.Scheduler().Trigger(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"summary": sum, "outcomes": outcomes})
			})
		},
	}
}

func (c *cli) searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <texto>",
		Short: "Busca clientes del asesor (online, con fallback al índice local)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				res, err := e.Clients().Search(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
}

func (c *cli) indexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Reconstruye el índice de búsqueda local de clientes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				if err := e.Clients().IndexLocal(ctx); err != nil {
					return err
				}
				cmd.Println("ok")
				return nil
			})
		},
	}
}

func (c *cli) resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Borra las bases locales y los flags de sincronización",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset borra las órdenes no enviadas; confirme con --yes")
			}
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				return errors.Join(e.Clients().Destroy(ctx), e.Orders().Destroy(ctx))
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirmar el borrado")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Muestra la versión",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
