// Package formatter converts platform-agnostic markdown into each platform's
// markup dialect and splits long text into size-bounded chunks.
package formatter

import (
	"regexp"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
)

// Default per-message size limits in bytes.
const (
	DiscordChunkLimit  = 2000
	SlackChunkLimit    = 4000
	TelegramChunkLimit = 4096
)

var (
	fencedCodeRe = regexp.MustCompile("(?s)```([A-Za-z0-9_+#.-]*)[ \\t]*\\n?(.*?)```")
	inlineCodeRe = regexp.MustCompile("`([^`\\n]+)`")
	htmlTagRe    = regexp.MustCompile(`</?[a-zA-Z][a-zA-Z0-9-]*(\s[^<>]*)?/?>`)
	linkRe       = regexp.MustCompile(`\[([^\]\n]+)\]\(([^)\s]+)\)`)
	headingRe    = regexp.MustCompile(`(?m)^#{1,6}[ \t]+(.+?)[ \t]*#*[ \t]*$`)
	boldItalicRe = regexp.MustCompile(`\*\*\*(.+?)\*\*\*|___(.+?)___`)
	boldStarRe   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldUnderRe  = regexp.MustCompile(`__(.+?)__`)
	strikeRe     = regexp.MustCompile(`~~(.+?)~~`)
	italicStarRe = regexp.MustCompile(`(^|[^*\w])\*([^*\s](?:[^*\n]*[^*\s])?)\*($|[^*\w])`)
	italicUndRe  = regexp.MustCompile(`(^|[^_\w])_([^_\s](?:[^_\n]*[^_\s])?)_($|[^_\w])`)
)

// FormatForPlatform converts markdown into the target platform's markup.
func FormatForPlatform(markdown string, platform bus.Platform) string {
	switch platform {
	case bus.PlatformDiscord:
		return FormatDiscord(markdown)
	case bus.PlatformSlack:
		return FormatSlack(markdown)
	case bus.PlatformTelegram:
		return FormatTelegram(markdown)
	default:
		return PlainText(markdown)
	}
}

// ChunkLimit returns the default message size limit for platform.
func ChunkLimit(platform bus.Platform) int {
	switch platform {
	case bus.PlatformDiscord:
		return DiscordChunkLimit
	case bus.PlatformSlack:
		return SlackChunkLimit
	case bus.PlatformTelegram:
		return TelegramChunkLimit
	default:
		return DiscordChunkLimit
	}
}

// FormatDiscord leaves markdown as-is (Discord renders it natively) and strips
// raw HTML tags outside code.
func FormatDiscord(markdown string) string {
	p, text := newProtector(markdown)
	text = fencedCodeRe.ReplaceAllStringFunc(text, p.protect)
	text = inlineCodeRe.ReplaceAllStringFunc(text, p.protect)
	text = htmlTagRe.ReplaceAllString(text, "")
	return p.restore(text)
}

// replaceBounded applies a boundary-capturing regex until the text stops
// changing. Matches that share a boundary character are picked up by the
// next pass.
// emphasisBody returns the text inside a boldItalicRe match, whichever
// delimiter matched.
func emphasisBody(re *regexp.Regexp, m string) string {
	sub := re.FindStringSubmatch(m)
	if sub[1] != "" {
		return sub[1]
	}
	return sub[2]
}

func replaceBounded(re *regexp.Regexp, s, repl string) string {
	for i := 0; i < 4; i++ {
		next := re.ReplaceAllString(s, repl)
		if next == s {
			break
		}
		s = next
	}
	return s
}
