package dedup

import (
	"log/slog"

	"github.com/foxseedlab/circles/internal/circle"
	"github.com/foxseedlab/circles/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*BadgerLedger, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.DedupPath == "" {
			slog.Info("webhook dedup ledger is in memory")
		}
		return OpenBadgerLedger(cfg.DedupPath, cfg.WebhookDedupTTL)
	})
	do.Provide(injector, func(i do.Injector) (circle.EventLedger, error) {
		return do.MustInvoke[*BadgerLedger](i), nil
	})
}
