package payload

import (
	"time"

	"crashrelay/internal/report"
)

const SlackTextLimit = 1500

const (
	slackColorCrash   = "danger"
	slackColorEvent   = "#439FE0"
	slackColorStartup = "good"
)

type SlackMessage struct {
	Channel     string            `json:"channel"`
	Username    string            `json:"username"`
	Attachments []SlackAttachment `json:"attachments"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
}

type SlackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Fields []SlackField `json:"fields"`
	Ts     int64        `json:"ts"`
}

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// SlackMeta is the delivery shaping taken from the channel config.
type SlackMeta struct {
	Channel   string
	Username  string
	IconEmoji string
}

func (m SlackMeta) message(color, title string, fields []SlackField, at time.Time) SlackMessage {
	return SlackMessage{
		Channel:   m.Channel,
		Username:  m.Username,
		IconEmoji: m.IconEmoji,
		Attachments: []SlackAttachment{{
			Color:  color,
			Title:  title,
			Fields: fields,
			Ts:     at.Unix(),
		}},
	}
}

func slackExtra(fields []SlackField, x report.Extra) []SlackField {
	for _, p := range x {
		fields = append(fields, SlackField{Title: escapeSlack(p.Key), Value: escapeSlack(Truncate(p.Value, SlackTextLimit)), Short: true})
	}
	return fields
}

func slackCode(s string) string { return "```" + escapeSlack(Truncate(s, SlackTextLimit)) + "```" }

func SlackCrash(m SlackMeta, c report.Crash) SlackMessage {
	fields := make([]SlackField, 0, 5+len(c.Extra))
	if c.Context != "" {
		fields = append(fields, SlackField{Title: "Context", Value: escapeSlack(c.Context), Short: true})
	}
	fields = append(fields,
		SlackField{Title: "Platform", Value: escapeSlack(c.Platform), Short: true},
		SlackField{Title: "Debug Mode", Value: yesNo(c.DebugMode), Short: true},
		SlackField{Title: "Error", Value: slackCode(c.Error)},
		SlackField{Title: "Stack Trace", Value: slackCode(orDash(c.StackTrace))},
	)
	return m.message(slackColorCrash, crashTitle(c.Fatal), slackExtra(fields, c.Extra), c.CreatedAt)
}

func SlackEvent(m SlackMeta, e report.Event) SlackMessage {
	fields := make([]SlackField, 0, 4+len(e.Extra))
	if e.Context != "" {
		fields = append(fields, SlackField{Title: "Context", Value: escapeSlack(e.Context), Short: true})
	}
	fields = append(fields,
		SlackField{Title: "Platform", Value: escapeSlack(e.Platform), Short: true},
		SlackField{Title: "Debug Mode", Value: yesNo(e.DebugMode), Short: true},
		SlackField{Title: "Message", Value: escapeSlack(Truncate(e.Message, SlackTextLimit))},
	)
	return m.message(slackColorEvent, "📢 Event", slackExtra(fields, e.Extra), e.CreatedAt)
}

func SlackStartup(m SlackMeta, s report.Startup) SlackMessage {
	fields := []SlackField{
		{Title: "Platform", Value: escapeSlack(s.Platform), Short: true},
		{Title: "Debug Mode", Value: yesNo(s.DebugMode), Short: true},
	}
	if s.Hostname != "" {
		fields = append(fields, SlackField{Title: "Host", Value: escapeSlack(s.Hostname), Short: true})
	}
	if s.Version != "" {
		fields = append(fields, SlackField{Title: "Version", Value: escapeSlack(s.Version), Short: true})
	}
	return m.message(slackColorStartup, "🚀 App Started", fields, s.CreatedAt)
}

func SlackTest(m SlackMeta, platform string, at time.Time) SlackMessage {
	fields := []SlackField{
		{Title: "Platform", Value: escapeSlack(platform), Short: true},
		{Title: "Status", Value: "Crash notifications are configured correctly.", Short: false},
	}
	return m.message(slackColorEvent, "✅ Test Connection", fields, at)
}
