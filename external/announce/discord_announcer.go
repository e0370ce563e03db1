package announce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/foxseedlab/circles/internal/announce"
)

const (
	colorLive  = 0x2ecc71
	colorEnded = 0x95a5a6
)

// DiscordAnnouncer posts an embed to one channel over the REST API. It
// never opens a gateway connection.
type DiscordAnnouncer struct {
	session   *discordgo.Session
	channelID string
}

func NewDiscordAnnouncer(token, channelID string) (*DiscordAnnouncer, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	return &DiscordAnnouncer{session: s, channelID: channelID}, nil
}

func (a *DiscordAnnouncer) CircleLive(ctx context.Context, ann announce.Announcement) error {
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("%s is live", ann.Title),
		Description: fmt.Sprintf("Hosted by %s", hostLabel(ann)),
		Color:       colorLive,
		Timestamp:   ann.At.Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Category", Value: ann.Category, Inline: true},
			{Name: "Circle", Value: ann.CircleID, Inline: true},
		},
	}
	return a.send(ctx, embed)
}

func (a *DiscordAnnouncer) CircleEnded(ctx context.Context, ann announce.Announcement) error {
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("%s has ended", ann.Title),
		Description: fmt.Sprintf("Reason: %s", endReasonLabel(ann.EndReason)),
		Color:       colorEnded,
		Timestamp:   ann.At.Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Participants", Value: fmt.Sprint(ann.ParticipantCount), Inline: true},
			{Name: "Speaking time", Value: (time.Duration(ann.TotalSpeakTimeMs) * time.Millisecond).Round(time.Second).String(), Inline: true},
			{Name: "Hands raised", Value: fmt.Sprint(ann.HandRaiseCount), Inline: true},
			{Name: "Role changes", Value: fmt.Sprint(ann.RoleChangeCount), Inline: true},
		},
	}
	return a.send(ctx, embed)
}

func (a *DiscordAnnouncer) send(ctx context.Context, embed *discordgo.MessageEmbed) error {
	_, err := a.session.ChannelMessageSendEmbed(a.channelID, embed, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to post discord announcement: %w", err)
	}
	return nil
}

func hostLabel(ann announce.Announcement) string {
	if ann.HostName != "" {
		return ann.HostName
	}
	return ann.HostUID
}

func endReasonLabel(reason string) string {
	if reason == "" {
		return "unknown"
	}
	return strings.ReplaceAll(reason, "_", " ")
}
