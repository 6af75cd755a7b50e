package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agendahub/config/database"
	"agendahub/internal/actor"
	"agendahub/internal/visibility"
	"agendahub/pkg/attachment"
	"agendahub/pkg/logger"
	"agendahub/router"
	"agendahub/socket"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var skipMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and websocket hub",
	Long: `Run the HTTP API and the websocket push hub.

Pending migrations are applied on startup unless --skip-migrate is set.
SIGHUP drops the cached actor catalog so role and name changes are picked up.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply pending migrations on startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseDSN == "" {
		return errors.New("no database configured: set DATABASE_URL")
	}
	db, err := database.Connect(ctx, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if !skipMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
	}

	resolver := visibility.NewResolver(cfg.AdminRoles...)
	hub := socket.NewHub(resolver)
	catalog := actor.NewCatalog(actor.NewRepository(db)).Acquire()
	defer catalog.Release()

	var presigner *attachment.Presigner
	if cfg.S3Enabled() {
		presigner, err = attachment.NewPresigner(ctx, attachment.Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			TTL:       cfg.AttachmentURLTTL,
		})
		if err != nil {
			return err
		}
	} else {
		logger.Sugar.Info("S3_BUCKET not set, attachment uploads disabled")
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: router.Setup(router.Deps{
			DB:        db,
			Hub:       hub,
			Resolver:  resolver,
			Catalog:   catalog,
			Presigner: presigner,
			Config:    cfg,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Sugar.Infof("Go Backend listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				logger.Sugar.Info("Reloading actor catalog")
				catalog.Invalidate()
			}
		}
	})

	return g.Wait()
}
