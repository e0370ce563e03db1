package userdir

import (
	"github.com/foxseedlab/circles/internal/config"
	"github.com/foxseedlab/circles/internal/store"
	"github.com/foxseedlab/circles/internal/userdir"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (userdir.Directory, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewStoreDirectory(do.MustInvoke[store.Store](i), c.UserCacheTTL)
	})
}
