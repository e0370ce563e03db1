package announce

import (
	"log/slog"

	"github.com/foxseedlab/circles/internal/announce"
	"github.com/foxseedlab/circles/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (announce.Notifier, error) {
		c := do.MustInvoke[*config.Config](i)
		var notifiers Multi
		if c.AnnounceWebhookURL != "" {
			notifiers = append(notifiers, NewHTTPAnnouncer(c.AnnounceWebhookURL))
		}
		if c.DiscordBotToken != "" {
			d, err := NewDiscordAnnouncer(c.DiscordBotToken, c.DiscordAnnounceChannelID)
			if err != nil {
				return nil, err
			}
			notifiers = append(notifiers, d)
		}
		switch len(notifiers) {
		case 0:
			slog.Info("no announcement targets configured")
			return announce.Nop{}, nil
		case 1:
			return notifiers[0], nil
		}
		return notifiers, nil
	})
}
