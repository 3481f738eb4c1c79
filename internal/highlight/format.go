package highlight

import (
	"fmt"
	"strings"

	"highlight_bot/internal/model"
)

// FormatNotification builds the direct-message body for a delivered
// highlight: a header naming the keyword and place, the surrounding messages
// oldest first with the trigger visually distinguished, and a jump link.
// The trigger line always shows the content captured when the highlight
// fired, even if the source message was edited afterwards.
func FormatNotification(keyword string, trigger model.Message, around []model.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "In <#%s> for server %s, you were mentioned with highlight word **%s**\n\n",
		trigger.ChannelID, trigger.GuildName, keyword)

	if len(around) == 0 {
		around = []model.Message{trigger}
	}
	for _, m := range around {
		b.WriteString(formatContextLine(trigger, m))
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n[Original message](https://discord.com/channels/%s/%s/%s)",
		trigger.GuildID, trigger.ChannelID, trigger.ID)
	return b.String()
}

func formatContextLine(trigger, m model.Message) string {
	date := m.CreatedAt.UTC().Format("[03:04:05 PM UTC]")
	content := m.Content
	if m.ID == trigger.ID {
		date = "**" + date + "**"
		content = trigger.Content
	}
	return fmt.Sprintf("%s %s: %s", date, m.AuthorName, content)
}
