package discord

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gw2clears/clearoor/pkg/config"
	"github.com/gw2clears/clearoor/pkg/rank"
	"github.com/gw2clears/clearoor/pkg/store"
)

var medalEmotes = map[string]string{
	rank.MedalGold:         "\U0001F947",
	rank.MedalSilver:       "\U0001F948",
	rank.MedalBronze:       "\U0001F949",
	rank.MedalAboveAverage: "\U0001F4AA",
	rank.MedalAverage:      "\U0001F642",
	rank.MedalBelowAverage: "\U0001F40C",
	rank.MedalEmboldened:   "\U0001F479",
	"percentile_100":       "\U0001F680",
	"percentile_90":        "\U0001F525",
	"percentile_80":        "\U0001F60E",
	"percentile_70":        "\U0001F600",
	"percentile_60":        "\U0001F642",
	"percentile_50":        "\U0001F610",
	"percentile_40":        "\U0001F40C",
	"percentile_20":        "\U0001F422",
}

// Emote renders a medal bucket; invalid subjects get a warning prefix
// so undersized groups stay visually distinct.
func Emote(r rank.Result) string {
	emote, ok := medalEmotes[r.Medal]
	if !ok {
		emote = medalEmotes[rank.MedalAverage]
	}

	if r.Invalid {
		return "❕" + emote
	}

	return emote
}

// FormatDuration renders a millisecond duration as mm:ss, or h:mm:ss
// past the hour.
func FormatDuration(ms int64) string {
	total := ms / 1000
	if total >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", total/3600, total%3600/60, total%60)
	}

	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// Publisher renders clear groups into webhook messages. Each group
// owns one summary message that is edited in place as the day
// progresses.
type Publisher struct {
	log    logrus.FieldLogger
	cfg    *config.DiscordConfig
	client *Client
	store  store.Store
	rank   *rank.Engine
}

// NewPublisher creates a publisher.
func NewPublisher(log logrus.FieldLogger, cfg *config.DiscordConfig, client *Client, s store.Store, engine *rank.Engine) *Publisher {
	return &Publisher{
		log:    log.WithField("component", "publisher"),
		cfg:    cfg,
		client: client,
		store:  s,
		rank:   engine,
	}
}

// PublishGroup sends or edits the day summary for a clear group.
func (p *Publisher) PublishGroup(ctx context.Context, group *store.InstanceClearGroup) error {
	if !p.cfg.Enabled {
		return nil
	}

	webhookURL, ok := p.cfg.Webhooks[group.Type]
	if !ok || webhookURL == "" {
		p.log.WithField("type", group.Type).Debug("No webhook configured")

		return nil
	}

	msg, err := p.render(ctx, group)
	if err != nil {
		return err
	}

	record, err := p.store.GetOrCreateMessage(ctx,
		group.Name+"__summary", "clear_group", group.Name)
	if err != nil {
		return fmt.Errorf("loading message record: %w", err)
	}

	if record.ExternalID == "" {
		id, err := p.client.Send(ctx, webhookURL, msg)
		if err != nil {
			return fmt.Errorf("sending summary: %w", err)
		}

		record.ExternalID = id
	} else {
		if err := p.client.Edit(ctx, webhookURL, record.ExternalID, msg); err != nil {
			return fmt.Errorf("editing summary: %w", err)
		}
	}

	record.UpdateCount++

	return p.store.SaveMessage(ctx, record)
}

// render builds the summary embed: one field per instance clear plus
// the group total when complete.
func (p *Publisher) render(ctx context.Context, group *store.InstanceClearGroup) (*Message, error) {
	clears, err := p.store.ClearsForGroup(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("loading clears: %w", err)
	}

	sort.Slice(clears, func(i, j int) bool {
		return clears[i].Instance.Nr < clears[j].Instance.Nr
	})

	embed := Embed{
		Title:     fmt.Sprintf("%s %s", titleFor(group.Type), group.StartTime.Format("Mon 2 Jan 2006")),
		Color:     colorProgress,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	for i := range clears {
		c := &clears[i]

		result, err := p.rank.RankClear(ctx, c, group.Type)
		if err != nil {
			return nil, err
		}

		value := FormatDuration(c.DurationMS)
		if c.Success {
			value = Emote(result) + " " + value
		} else {
			value = "in progress, " + value
		}

		name := c.Instance.Name
		if c.Instance.Emoji != "" {
			name = c.Instance.Emoji + " " + name
		}

		embed.Fields = append(embed.Fields, EmbedField{
			Name:   name,
			Value:  value,
			Inline: true,
		})
	}

	if group.Success && group.DurationMS != nil {
		result, err := p.rank.RankGroup(ctx, group)
		if err != nil {
			return nil, err
		}

		embed.Color = colorSuccess
		embed.Description = fmt.Sprintf("Full clear %s %s",
			Emote(result), FormatDuration(*group.DurationMS))
	}

	return &Message{Embeds: []Embed{embed}}, nil
}

func titleFor(groupType string) string {
	switch groupType {
	case store.GroupRaid:
		return "Raid clears"
	case store.GroupStrike:
		return "Strike clears"
	case store.GroupFractal:
		return "Fractal clears"
	default:
		return "Golem sessions"
	}
}
