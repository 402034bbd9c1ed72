package payload

import (
	"time"

	"crashrelay/internal/report"
)

// Discord caps embed field values at 1024 characters; the limit leaves room
// for the code fence.
const DiscordTextLimit = 1000

const (
	discordColorCrash   = 0xE74C3C
	discordColorEvent   = 0x3498DB
	discordColorStartup = 0x2ECC71
)

type DiscordMessage struct {
	Username  string         `json:"username"`
	Embeds    []DiscordEmbed `json:"embeds"`
	AvatarURL string         `json:"avatar_url,omitempty"`
}

type DiscordEmbed struct {
	Title     string         `json:"title"`
	Color     int            `json:"color"`
	Fields    []DiscordField `json:"fields"`
	Timestamp string         `json:"timestamp"`
}

type DiscordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type DiscordMeta struct {
	Username  string
	AvatarURL string
}

func (m DiscordMeta) message(color int, title string, fields []DiscordField, at time.Time) DiscordMessage {
	return DiscordMessage{
		Username:  m.Username,
		AvatarURL: m.AvatarURL,
		Embeds: []DiscordEmbed{{
			Title:     title,
			Color:     color,
			Fields:    fields,
			Timestamp: at.UTC().Format(time.RFC3339),
		}},
	}
}

func discordCode(s string) string { return "```\n" + Truncate(orDash(s), DiscordTextLimit) + "\n```" }

func discordExtra(fields []DiscordField, x report.Extra) []DiscordField {
	for _, p := range x {
		fields = append(fields, DiscordField{Name: orDash(p.Key), Value: orDash(Truncate(p.Value, DiscordTextLimit)), Inline: true})
	}
	return fields
}

func DiscordCrash(m DiscordMeta, c report.Crash) DiscordMessage {
	fields := make([]DiscordField, 0, 5+len(c.Extra))
	if c.Context != "" {
		fields = append(fields, DiscordField{Name: "Context", Value: c.Context, Inline: true})
	}
	fields = append(fields,
		DiscordField{Name: "Platform", Value: orDash(c.Platform), Inline: true},
		DiscordField{Name: "Debug Mode", Value: yesNo(c.DebugMode), Inline: true},
		DiscordField{Name: "Error", Value: discordCode(c.Error)},
		DiscordField{Name: "Stack Trace", Value: discordCode(c.StackTrace)},
	)
	return m.message(discordColorCrash, crashTitle(c.Fatal), discordExtra(fields, c.Extra), c.CreatedAt)
}

func DiscordEvent(m DiscordMeta, e report.Event) DiscordMessage {
	fields := make([]DiscordField, 0, 4+len(e.Extra))
	if e.Context != "" {
		fields = append(fields, DiscordField{Name: "Context", Value: e.Context, Inline: true})
	}
	fields = append(fields,
		DiscordField{Name: "Platform", Value: orDash(e.Platform), Inline: true},
		DiscordField{Name: "Debug Mode", Value: yesNo(e.DebugMode), Inline: true},
		DiscordField{Name: "Message", Value: orDash(Truncate(e.Message, DiscordTextLimit))},
	)
	return m.message(discordColorEvent, "📢 Event", discordExtra(fields, e.Extra), e.CreatedAt)
}

func DiscordStartup(m DiscordMeta, s report.Startup) DiscordMessage {
	fields := []DiscordField{
		{Name: "Platform", Value: orDash(s.Platform), Inline: true},
		{Name: "Debug Mode", Value: yesNo(s.DebugMode), Inline: true},
	}
	if s.Hostname != "" {
		fields = append(fields, DiscordField{Name: "Host", Value: s.Hostname, Inline: true})
	}
	if s.Version != "" {
		fields = append(fields, DiscordField{Name: "Version", Value: s.Version, Inline: true})
	}
	return m.message(discordColorStartup, "🚀 App Started", fields, s.CreatedAt)
}

func DiscordTest(m DiscordMeta, platform string, at time.Time) DiscordMessage {
	fields := []DiscordField{
		{Name: "Platform", Value: orDash(platform), Inline: true},
		{Name: "Status", Value: "Crash notifications are configured correctly."},
	}
	return m.message(discordColorEvent, "✅ Test Connection", fields, at)
}
