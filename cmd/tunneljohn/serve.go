package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/tunneljohn/internal/audit"
	"github.com/dropDatabas3/tunneljohn/internal/cache"
	cachemem "github.com/dropDatabas3/tunneljohn/internal/cache/memory"
	cacheredis "github.com/dropDatabas3/tunneljohn/internal/cache/redis"
	"github.com/dropDatabas3/tunneljohn/internal/config"
	"github.com/dropDatabas3/tunneljohn/internal/domain/repository"
	httpserver "github.com/dropDatabas3/tunneljohn/internal/http"
	"github.com/dropDatabas3/tunneljohn/internal/metrics"
	"github.com/dropDatabas3/tunneljohn/internal/notify"
	"github.com/dropDatabas3/tunneljohn/internal/observability/logger"
	"github.com/dropDatabas3/tunneljohn/internal/provision/openvpn"
	"github.com/dropDatabas3/tunneljohn/internal/reconcile"
	"github.com/dropDatabas3/tunneljohn/internal/store"
	"github.com/dropDatabas3/tunneljohn/internal/telemetry"
)

func serveCmd(loadCfg func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Corre el servicio: reconciler, telemetría, sweeper y HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.Named("serve")

	stores, err := store.Open(ctx, store.Config{
		Driver: cfg.Storage.Driver,
		DSN:    cfg.Storage.DSN,
	})
	if err != nil {
		return err
	}
	defer stores.Close()
	log.Info("store open", logger.String("driver", cfg.Storage.Driver))

	var c cache.Cache
	switch cfg.Cache.Kind {
	case "redis":
		c = cacheredis.New(cfg.Cache.Redis.Addr, cfg.Cache.Redis.DB, cfg.Cache.Redis.Prefix)
	default:
		c = cachemem.New(cfg.Cache.Memory.DefaultTTL.Std())
	}

	prov := openvpn.New(openvpn.Config{
		ServerIP:       cfg.VPN.ServerIP,
		Port:           cfg.VPN.Port,
		Proto:          cfg.VPN.Proto,
		ConfigDir:      cfg.VPN.ConfigDir,
		CACertPath:     cfg.VPN.CACertPath,
		TLSAuthKeyPath: cfg.VPN.TLSAuthKeyPath,
		StatusLogPath:  cfg.VPN.StatusLogPath,
		UserGroup:      cfg.VPN.UserGroup,
		ServiceName:    cfg.VPN.ServiceName,
	})

	sink := &audit.StoreSink{Repo: stores.Audit}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.SMTP.Enabled {
		notifier = &notify.SMTPNotifier{
			Host:    cfg.SMTP.Host,
			Port:    cfg.SMTP.Port,
			From:    cfg.SMTP.From,
			User:    cfg.SMTP.User,
			Pass:    cfg.SMTP.Pass,
			AdminTo: cfg.SMTP.AdminEmail,
		}
	}

	if err := ensureAdminAccount(ctx, stores.Accounts, cfg); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return err
	}

	reconciler := reconcile.New(stores.Accounts, prov, sink, notifier, cfg.Reconcile.Interval.Std())

	sweeper := reconcile.NewSweeper(stores.Accounts, stores.ConnectionLogs)
	sweeper.ArtifactDir = cfg.VPN.ConfigDir
	sweeper.TempDir = cfg.VPN.TempDir
	sweeper.ArtifactMaxAge = cfg.Reconcile.ArtifactMaxAge.Std()
	sweeper.LogRetention = cfg.Reconcile.LogRetention.Std()

	poller := telemetry.New(stores.Accounts, stores.ConnectionLogs, prov, c, cfg.Telemetry.Interval.Std())

	srv := &httpserver.Server{
		Accounts:    stores.Accounts,
		ConnLogs:    stores.ConnectionLogs,
		AuditRepo:   stores.Audit,
		Sink:        sink,
		Cache:       c,
		Status:      prov,
		APIKey:      cfg.Server.AdminAPIKey,
		TokenSecret: []byte(cfg.Server.ProfileTokenSecret),
		TokenTTL:    cfg.Server.ProfileTokenTTL.Std(),
		Gatherer:    reg,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { reconciler.Run(gctx); return nil })
	g.Go(func() error { sweeper.Run(gctx); return nil })
	g.Go(func() error { poller.Run(gctx); return nil })
	g.Go(func() error { return srv.Run(gctx, cfg.Server.Addr) })

	log.Info("service up", logger.String("addr", cfg.Server.Addr))
	err = g.Wait()
	log.Info("service stopped")
	return err
}

// ensureAdminAccount garantiza la fila admin del deployment. No lleva
// credencial de SO: es la identidad administrativa, no una cuenta VPN.
func ensureAdminAccount(ctx context.Context, accounts repository.AccountRepository, cfg *config.Config) error {
	if cfg.Accounts.AdminRequesterID == 0 {
		return nil
	}
	if _, err := accounts.FindByRequester(ctx, cfg.Accounts.AdminRequesterID); err == nil {
		return nil
	} else if !repository.IsNotFound(err) {
		return err
	}

	_, err := accounts.Create(ctx, repository.CreateAccountInput{
		RequesterID:    cfg.Accounts.AdminRequesterID,
		Name:           "admin",
		SecretHash:     "!locked", // sin secreto utilizable
		IsAdmin:        true,
		ExpiresAt:      farFuture(),
		MaxConnections: cfg.Accounts.MaxConnections,
		Notes:          "deployment admin identity",
	})
	if repository.IsConflict(err) {
		// El nombre admin ya existe de un deployment previo.
		return nil
	}
	if err == nil {
		logger.Named("serve").Info("admin account bootstrapped",
			logger.Requester(cfg.Accounts.AdminRequesterID))
	}
	return err
}

// farFuture es la expiración nominal de la identidad admin.
func farFuture() time.Time {
	return time.Now().UTC().AddDate(100, 0, 0)
}
