package circle

import (
	"github.com/foxseedlab/circles/internal/announce"
	"github.com/foxseedlab/circles/internal/clock"
	"github.com/foxseedlab/circles/internal/config"
	"github.com/foxseedlab/circles/internal/schedule"
	"github.com/foxseedlab/circles/internal/store"
	"github.com/foxseedlab/circles/internal/token"
	"github.com/foxseedlab/circles/internal/userdir"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (clock.Clock, error) {
		return clock.Real(), nil
	})
	do.Provide(injector, func(i do.Injector) (*schedule.Scheduler, error) {
		return schedule.New(do.MustInvoke[clock.Clock](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*FailureDetector, error) {
		return NewFailureDetector(deps(i), options(i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*LifecycleManager, error) {
		return NewLifecycleManager(deps(i), options(i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*MembershipCoordinator, error) {
		detector := do.MustInvoke[*FailureDetector](i)
		return NewMembershipCoordinator(deps(i), options(i), detector), nil
	})
	do.Provide(injector, func(i do.Injector) (*EventReconciler, error) {
		ledger := do.MustInvoke[EventLedger](i)
		detector := do.MustInvoke[*FailureDetector](i)
		return NewEventReconciler(deps(i), options(i), ledger, detector), nil
	})
}

func deps(i do.Injector) Deps {
	return Deps{
		Store:     do.MustInvoke[store.Store](i),
		Tokens:    do.MustInvoke[token.Issuer](i),
		Users:     do.MustInvoke[userdir.Directory](i),
		Notifier:  do.MustInvoke[announce.Notifier](i),
		Scheduler: do.MustInvoke[*schedule.Scheduler](i),
		Clock:     do.MustInvoke[clock.Clock](i),
	}
}

func options(i do.Injector) Options {
	return OptionsFromConfig(do.MustInvoke[*config.Config](i))
}
