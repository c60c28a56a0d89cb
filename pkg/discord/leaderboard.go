package discord

import (
	"context"
	"fmt"
	"strings"
)

// leaderboardDepth is how many historical kills are listed per boss.
const leaderboardDepth = 3

// PublishLeaderboard sends or edits the per-boss fastest-kill board
// for one instance group type.
func (p *Publisher) PublishLeaderboard(ctx context.Context, groupType string) error {
	if !p.cfg.Enabled {
		return nil
	}

	webhookURL, ok := p.cfg.Webhooks[groupType]
	if !ok || webhookURL == "" {
		return nil
	}

	msg, err := p.renderLeaderboard(ctx, groupType)
	if err != nil {
		return err
	}

	if msg == nil {
		return nil
	}

	record, err := p.store.GetOrCreateMessage(ctx,
		"leaderboard__"+groupType, "leaderboard", groupType)
	if err != nil {
		return fmt.Errorf("loading leaderboard record: %w", err)
	}

	if record.ExternalID == "" {
		id, err := p.client.Send(ctx, webhookURL, msg)
		if err != nil {
			return fmt.Errorf("sending leaderboard: %w", err)
		}

		record.ExternalID = id
	} else {
		if err := p.client.Edit(ctx, webhookURL, record.ExternalID, msg); err != nil {
			return fmt.Errorf("editing leaderboard: %w", err)
		}
	}

	record.UpdateCount++

	return p.store.SaveMessage(ctx, record)
}

func (p *Publisher) renderLeaderboard(ctx context.Context, groupType string) (*Message, error) {
	encounters, err := p.store.DurationEncounters(ctx, groupType)
	if err != nil {
		return nil, fmt.Errorf("loading encounters: %w", err)
	}

	embed := Embed{
		Title: titleFor(groupType) + " leaderboard",
		Color: colorSuccess,
	}

	for i := range encounters {
		enc := &encounters[i]

		cm, lcm := enc.LeaderboardFlavor()

		logs, err := p.store.SuccessfulLogsForEncounter(ctx, enc.ID, cm, lcm)
		if err != nil {
			return nil, err
		}

		if len(logs) == 0 {
			continue
		}

		if len(logs) > leaderboardDepth {
			logs = logs[:leaderboardDepth]
		}

		var lines []string

		for pos, l := range logs {
			line := fmt.Sprintf("%s %s", podiumEmote(pos), FormatDuration(l.DurationMS))
			if l.URL != "" {
				line = fmt.Sprintf("%s [%s](%s)", podiumEmote(pos), FormatDuration(l.DurationMS), l.URL)
			}

			lines = append(lines, line)
		}

		name := enc.Name
		if enc.Emoji != "" {
			name = enc.Emoji + " " + name
		}

		embed.Fields = append(embed.Fields, EmbedField{
			Name:   name,
			Value:  strings.Join(lines, "\n"),
			Inline: true,
		})
	}

	if len(embed.Fields) == 0 {
		return nil, nil
	}

	return &Message{Embeds: []Embed{embed}}, nil
}

func podiumEmote(position int) string {
	switch position {
	case 0:
		return medalEmotes["gold"]
	case 1:
		return medalEmotes["silver"]
	default:
		return medalEmotes["bronze"]
	}
}
