// Package platform assembles the card core from configuration. Both the
// HTTP service and the admin CLI start from here.
package platform

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/rfidpay/cardcore/backend/pkg/card"
	"github.com/rfidpay/cardcore/backend/pkg/common"
	"github.com/rfidpay/cardcore/backend/pkg/common/db"
	"github.com/rfidpay/cardcore/backend/pkg/common/migrations"
	"github.com/rfidpay/cardcore/backend/pkg/fabricclient"
	"github.com/rfidpay/cardcore/backend/pkg/ledger"
	"github.com/rfidpay/cardcore/backend/pkg/notify"
	"github.com/rfidpay/cardcore/backend/pkg/stats"
	"github.com/rfidpay/cardcore/backend/pkg/store/sqlstore"
	"github.com/rfidpay/cardcore/backend/pkg/terminal"
	"github.com/rfidpay/cardcore/backend/pkg/transfer"
)

type Platform struct {
	DB        *sql.DB
	Store     *sqlstore.Store
	Ledger    *ledger.Ledger
	Transfers *transfer.Orchestrator
	Stats     *stats.Reporter
	Terminals *terminal.Registry
	Location  *time.Location

	closers []func()
}

// Ceilings converts the configured per-type defaults.
func Ceilings(cfg common.LimitsConfig) map[card.Type]card.Ceilings {
	conv := func(c common.CardCeilings) card.Ceilings {
		return card.Ceilings{DailyLimit: c.DailyLimit, MonthlyLimit: c.MonthlyLimit, MaxBalance: c.MaxBalance}
	}
	return map[card.Type]card.Ceilings{
		card.TypeStandard:   conv(cfg.Standard),
		card.TypePremium:    conv(cfg.Premium),
		card.TypeEntreprise: conv(cfg.Entreprise),
	}
}

func FabricOptions(cfg common.FabricConfig) fabricclient.Options {
	return fabricclient.Options{
		ConfigPath: cfg.ConfigPath,
		WalletPath: cfg.WalletPath,
		Channel:    cfg.Channel,
		Chaincode:  cfg.Chaincode,
		MSPID:      cfg.MSP,
		CertPath:   cfg.CertPath,
		KeyPath:    cfg.KeyPath,
	}
}

// Migrate applies the embedded schema.
func Migrate(conn *sql.DB) ([]string, error) {
	return migrations.RunMigrations(conn, sqlstore.Migrations, sqlstore.MigrationsDir)
}

// Open connects to the database, applies migrations and builds the ledger
// with its event publishers. Close releases everything Open started.
func Open(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*Platform, error) {
	loc, err := cfg.Limits.Location()
	if err != nil {
		return nil, err
	}

	conn, err := db.Connect(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	p := &Platform{DB: conn, Location: loc}
	p.closers = append(p.closers, func() { conn.Close() })

	if _, err := Migrate(conn); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	p.Store = sqlstore.New(conn, cfg.DB.Driver)

	publishers := notify.Multi{notify.NewLogPublisher(logger)}
	if cfg.Webhook.URL != "" {
		wh := notify.NewWebhook(notify.WebhookConfig{
			URL:       cfg.Webhook.URL,
			Timeout:   cfg.Webhook.Timeout,
			QueueSize: cfg.Webhook.QueueSize,
		}, logger)
		wh.Start(context.WithoutCancel(ctx))
		publishers = append(publishers, wh)
		p.closers = append(p.closers, wh.Close)
	}
	if cfg.Fabric.Enabled {
		fc, err := fabricclient.NewClient(FabricOptions(cfg.Fabric))
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to connect to fabric: %w", err)
		}
		anchor := fabricclient.NewAnchor(fc, 0, logger)
		publishers = append(publishers, anchor)
		// anchor drains before the gateway closes
		p.closers = append(p.closers, fc.Close, anchor.Close)
	}

	p.Ledger = ledger.New(p.Store, ledger.Config{
		Location: loc,
		Ceilings: Ceilings(cfg.Limits),
		Validity: cfg.Limits.CardValidity,
		Events:   publishers,
		Logger:   logger,
	})
	p.Transfers = transfer.NewOrchestrator(p.Ledger, logger)
	p.Stats = stats.NewReporter(p.Store, loc)
	p.Terminals = terminal.NewRegistry(p.Ledger, p.Ledger, terminal.Config{
		Timeout: cfg.Terminal.Timeout,
		Logger:  logger,
	})
	return p, nil
}

// Close runs the registered closers in reverse order.
func (p *Platform) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
}
