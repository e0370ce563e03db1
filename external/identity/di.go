package identity

import (
	"github.com/foxseedlab/circles/internal/config"
	"github.com/foxseedlab/circles/internal/identity"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (identity.Verifier, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewJWTVerifier(c.IdentityJWTSecret), nil
	})
}
