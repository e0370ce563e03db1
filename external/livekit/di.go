package livekit

import (
	"github.com/foxseedlab/circles/internal/config"
	"github.com/foxseedlab/circles/internal/token"
	"github.com/foxseedlab/circles/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (token.Issuer, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewTokenIssuer(c.LiveKitAPIKey, c.LiveKitAPISecret, c.TokenTTL), nil
	})
	do.Provide(injector, func(i do.Injector) (webhook.Receiver, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewWebhookReceiver(c.LiveKitAPIKey, c.LiveKitAPISecret), nil
	})
}
