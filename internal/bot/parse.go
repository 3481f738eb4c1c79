package bot

import (
	"fmt"
	"regexp"
	"strings"

	"highlight_bot/internal/index"
)

var channelMentionRE = regexp.MustCompile(`^<#(\d+)>$`)

// parseCommand splits a message into command and arguments when it starts
// with the bot's prefix. A bare prefix maps to the empty command (help).
func parseCommand(prefix, content string) (cmd, args string, ok bool) {
	if !strings.HasPrefix(content, prefix) {
		return "", "", false
	}
	rest := content[len(prefix):]
	if rest != "" && !strings.HasPrefix(rest, " ") {
		// Part of a longer word, not our prefix.
		return "", "", false
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", "", true
	}
	cmd = strings.ToLower(fields[0])
	args = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), fields[0]))
	return cmd, args, true
}

// channelMentionID extracts the ID from a channel mention token, or "".
func channelMentionID(s string) string {
	m := channelMentionRE.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}

// parseUserID accepts a user mention or a bare snowflake ID.
func parseUserID(args string) (string, error) {
	ref := strings.TrimSpace(args)
	if id := index.MentionID(ref); id != "" {
		return id, nil
	}
	if isSnowflake(ref) {
		return ref, nil
	}
	return "", fmt.Errorf("could not parse %q as a user", ref)
}

// parseEntityID accepts a user mention, channel mention, or bare ID.
func parseEntityID(args string) (string, error) {
	ref := strings.TrimSpace(args)
	if id := index.MentionID(ref); id != "" {
		return id, nil
	}
	if id := channelMentionID(ref); id != "" {
		return id, nil
	}
	if isSnowflake(ref) {
		return ref, nil
	}
	return "", fmt.Errorf("could not parse %q as a user or channel", ref)
}

func isSnowflake(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
