package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/tunneljohn/internal/audit"
	"github.com/dropDatabas3/tunneljohn/internal/config"
	"github.com/dropDatabas3/tunneljohn/internal/domain/repository"
	"github.com/dropDatabas3/tunneljohn/internal/lifecycle"
	"github.com/dropDatabas3/tunneljohn/internal/notify"
	"github.com/dropDatabas3/tunneljohn/internal/provision/openvpn"
	"github.com/dropDatabas3/tunneljohn/internal/secrets"
	"github.com/dropDatabas3/tunneljohn/internal/store"
)

// adminEnv agrupa las dependencias que los subcomandos one-shot comparten.
type adminEnv struct {
	stores *store.Stores
	orch   *lifecycle.Orchestrator
}

func openAdminEnv(ctx context.Context, cfg *config.Config) (*adminEnv, func(), error) {
	stores, err := store.Open(ctx, store.Config{
		Driver: cfg.Storage.Driver,
		DSN:    cfg.Storage.DSN,
	})
	if err != nil {
		return nil, nil, err
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
	orch := lifecycle.New(stores.Accounts, prov, &audit.StoreSink{Repo: stores.Audit}, lifecycle.Config{
		Validity:       cfg.Accounts.Validity.Std(),
		MaxConnections: cfg.Accounts.MaxConnections,
		BcryptCost:     cfg.Accounts.BcryptCost,
	})
	if cfg.SMTP.Enabled {
		orch.SetNotifier(&notify.SMTPNotifier{
			Host:    cfg.SMTP.Host,
			Port:    cfg.SMTP.Port,
			From:    cfg.SMTP.From,
			User:    cfg.SMTP.User,
			Pass:    cfg.SMTP.Pass,
			AdminTo: cfg.SMTP.AdminEmail,
		})
	}
	env := &adminEnv{stores: stores, orch: orch}
	return env, func() { _ = stores.Close() }, nil
}

// byName resuelve una cuenta por nombre o falla con un mensaje usable.
func (e *adminEnv) byName(ctx context.Context, name string) (*repository.Account, error) {
	acc, err := e.stores.Accounts.FindByName(ctx, name)
	if repository.IsNotFound(err) {
		return nil, fmt.Errorf("no account named %q", name)
	}
	return acc, err
}

func accountCmd(loadCfg func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Operaciones administrativas sobre cuentas",
	}

	run := func(fn func(ctx context.Context, env *adminEnv, args []string) error) func(*cobra.Command, []string) error {
		return func(c *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			env, closeEnv, err := openAdminEnv(c.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeEnv()
			return fn(c.Context(), env, args)
		}
	}

	var createSecret string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Crea y provisiona una cuenta",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, env *adminEnv, args []string) error {
			secret := createSecret
			if secret == "" {
				generated, err := secrets.GeneratePassword(14)
				if err != nil {
					return err
				}
				secret = generated
				fmt.Printf("generated secret: %s\n", secret)
			}
			acc, err := env.orch.Create(ctx, lifecycle.CreateParams{
				Name:   args[0],
				Secret: secret,
				Actor:  audit.ActorAdmin,
			})
			if err != nil {
				return err
			}
			fmt.Printf("created %s (expires %s)\nprofile: %s\n",
				acc.Name, acc.ExpiresAt.Format(time.RFC3339), acc.ProfilePath)
			return nil
		}),
	}
	create.Flags().StringVar(&createSecret, "secret", "", "secreto de la cuenta (vacío = generar)")

	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Elimina la cuenta y sus recursos",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, env *adminEnv, args []string) error {
			acc, err := env.byName(ctx, args[0])
			if err != nil {
				return err
			}
			if err := env.orch.Delete(ctx, acc.ID, audit.ActorAdmin); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", acc.Name)
			return nil
		}),
	}

	setActive := func(use, short string, active bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <name>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: run(func(ctx context.Context, env *adminEnv, args []string) error {
				acc, err := env.byName(ctx, args[0])
				if err != nil {
					return err
				}
				updated, err := env.orch.SetActive(ctx, acc.ID, active, audit.ActorAdmin)
				if err != nil {
					return err
				}
				fmt.Printf("%s active=%v\n", updated.Name, updated.Active)
				return nil
			}),
		}
	}

	var extendBy time.Duration
	extend := &cobra.Command{
		Use:   "extend <name>",
		Short: "Corre la expiración hacia adelante",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, env *adminEnv, args []string) error {
			acc, err := env.byName(ctx, args[0])
			if err != nil {
				return err
			}
			updated, err := env.orch.Extend(ctx, acc.ID, extendBy, audit.ActorAdmin)
			if err != nil {
				return err
			}
			fmt.Printf("%s expires %s\n", updated.Name, updated.ExpiresAt.Format(time.RFC3339))
			return nil
		}),
	}
	extend.Flags().DurationVar(&extendBy, "by", 30*24*time.Hour, "cuánto extender (ej: 720h)")

	regen := &cobra.Command{
		Use:   "regen <name>",
		Short: "Regenera el artefacto de perfil",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, env *adminEnv, args []string) error {
			acc, err := env.byName(ctx, args[0])
			if err != nil {
				return err
			}
			updated, prev, err := env.orch.Regenerate(ctx, acc.ID, audit.ActorAdmin)
			if err != nil {
				return err
			}
			fmt.Printf("profile: %s (was %s)\n", updated.ProfilePath, prev)
			return nil
		}),
	}

	var finishSecret string
	finish := &cobra.Command{
		Use:   "finish <name>",
		Short: "Retoma un provisioning que quedó a medias",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, env *adminEnv, args []string) error {
			if finishSecret == "" {
				return fmt.Errorf("--secret es obligatorio: el secreto original no se guarda")
			}
			acc, err := env.byName(ctx, args[0])
			if err != nil {
				return err
			}
			updated, err := env.orch.FinishProvisioning(ctx, acc.ID, finishSecret, audit.ActorAdmin)
			if err != nil {
				return err
			}
			fmt.Printf("%s active=%v profile=%s\n", updated.Name, updated.Active, updated.ProfilePath)
			return nil
		}),
	}
	finish.Flags().StringVar(&finishSecret, "secret", "", "secreto nuevo de la cuenta")

	list := &cobra.Command{
		Use:   "list",
		Short: "Lista las cuentas",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, env *adminEnv, args []string) error {
			accounts, err := env.stores.Accounts.List(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tACTIVE\tEXPIRES\tLAST SEEN\tBYTES IN/OUT")
			for _, a := range accounts {
				lastSeen := "-"
				if a.LastSeenAt != nil {
					lastSeen = a.LastSeenAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%v\t%s\t%s\t%d/%d\n",
					a.Name, a.Active, a.ExpiresAt.Format("2006-01-02"), lastSeen, a.BytesIn, a.BytesOut)
			}
			return w.Flush()
		}),
	}

	cmd.AddCommand(
		create,
		del,
		setActive("enable", "Habilita la cuenta y su credencial", true),
		setActive("disable", "Deshabilita la cuenta y su credencial", false),
		extend,
		regen,
		finish,
		list,
	)
	return cmd
}
