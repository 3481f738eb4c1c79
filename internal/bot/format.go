package bot

import (
	"fmt"
	"strings"

	"highlight_bot/internal/model"
)

// FormatHighlightList formats a user's registered keywords for display.
func FormatHighlightList(keywords []string) string {
	if len(keywords) == 0 {
		return "You do not have any highlight words or phrases set up."
	}
	var b strings.Builder
	b.WriteString("Your highlights:\n")
	for _, k := range keywords {
		fmt.Fprintf(&b, "• %s\n", k)
	}
	fmt.Fprintf(&b, "\n%d trigger(s)", len(keywords))
	return b.String()
}

// FormatBlockList formats a user's blocked entities for display.
func FormatBlockList(blocks []model.Block) string {
	if len(blocks) == 0 {
		return "You have not blocked anyone or anything."
	}
	var b strings.Builder
	b.WriteString("Blocked:\n")
	for _, bl := range blocks {
		switch bl.Kind {
		case model.EntityCategory:
			fmt.Fprintf(&b, "📂 %s\n", bl.EntityID)
		case model.EntityChannel:
			fmt.Fprintf(&b, "🗨️ <#%s>\n", bl.EntityID)
		default:
			fmt.Fprintf(&b, "👤 <@%s>\n", bl.EntityID)
		}
	}
	fmt.Fprintf(&b, "\n%d entities blocked", len(blocks))
	return b.String()
}
