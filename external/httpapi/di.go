package httpapi

import (
	"net/http"
	"time"

	"github.com/foxseedlab/circles/internal/circle"
	"github.com/foxseedlab/circles/internal/config"
	"github.com/foxseedlab/circles/internal/identity"
	"github.com/foxseedlab/circles/internal/webhook"
	"github.com/samber/do/v2"
)

const readHeaderTimeout = 10 * time.Second

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Handler, error) {
		return NewHandler(
			do.MustInvoke[*circle.LifecycleManager](i),
			do.MustInvoke[*circle.MembershipCoordinator](i),
			do.MustInvoke[*circle.EventReconciler](i),
			do.MustInvoke[identity.Verifier](i),
			do.MustInvoke[webhook.Receiver](i),
		), nil
	})
	do.Provide(injector, func(i do.Injector) (*http.Server, error) {
		c := do.MustInvoke[*config.Config](i)
		router := NewRouter(do.MustInvoke[*Handler](i), c.IsDevelopment())
		return &http.Server{
			Addr:              c.HTTPAddr,
			Handler:           router,
			ReadHeaderTimeout: readHeaderTimeout,
		}, nil
	})
}
