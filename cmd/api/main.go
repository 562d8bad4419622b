package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"estateflow/audit"
	"estateflow/config"
	"estateflow/db"
	"estateflow/directory"
	"estateflow/notary"
	"estateflow/outbox"
	"estateflow/sale"
	"estateflow/subscription"
)

type app struct {
	log  *zap.Logger
	pool *pgxpool.Pool
	dir  *directory.Directory
	subs *subscription.Service
}

func main() {
	root := &cobra.Command{
		Use:           "estateflow",
		Short:         "Real-estate transaction lifecycle service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), sweepCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Bootstrap the transaction directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			a.log.Info("transaction directory ready")
			<-cmd.Context().Done()
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one subscription expiration sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			swept, err := a.subs.SweepExpirations(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep expirations: %w", err)
			}
			a.log.Info("expiration sweep complete", zap.Int("swept", swept))
			return nil
		},
	}
}

func bootstrap(ctx context.Context) (*app, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database pool: %w", err)
	}

	trail := audit.NewRecorder()
	out := outbox.NewWriter()

	subs := subscription.NewService(pool, subscription.NewRepository(pool), trail, out,
		cfg.SubscriptionDurationDays, cfg.ExpiringSoonHorizonDays)
	cases := notary.NewService(pool, notary.NewRepository(pool), trail, out, notary.NewLeastLoadedAssigner())
	sales := sale.NewService(pool, sale.NewRepository(pool), trail, out, subs, cases,
		cfg.DefaultCommissionPercentage)

	return &app{
		log:  logger,
		pool: pool,
		dir:  directory.New(sales, cases, subs, logger),
		subs: subs,
	}, nil
}

func (a *app) close() {
	a.pool.Close()
	_ = a.log.Sync()
}
