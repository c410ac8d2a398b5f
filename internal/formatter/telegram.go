package formatter

import (
	"regexp"
	"strings"
)

var (
	telegramEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrQuoter      = strings.NewReplacer(`"`, "&quot;")
)

// FormatTelegram converts markdown to the HTML subset accepted by the
// Telegram Bot API (parse_mode=HTML). Code is extracted and escaped on its
// own; the remaining text is escaped before any tag is inserted so injected
// markup is never escaped twice.
func FormatTelegram(markdown string) string {
	p, text := newProtector(markdown)

	text = fencedCodeRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := fencedCodeRe.FindStringSubmatch(m)
		lang, body := sub[1], strings.TrimSuffix(sub[2], "\n")
		if lang == "" {
			return p.protect("<pre><code>" + telegramEscaper.Replace(body) + "</code></pre>")
		}
		return p.protect(`<pre><code class="language-` + attrQuoter.Replace(telegramEscaper.Replace(lang)) + `">` +
			telegramEscaper.Replace(body) + "</code></pre>")
	})
	text = inlineCodeRe.ReplaceAllStringFunc(text, func(m string) string {
		return p.protect("<code>" + telegramEscaper.Replace(inlineCodeRe.FindStringSubmatch(m)[1]) + "</code>")
	})

	text = telegramEscaper.Replace(text)

	// The opening tag is protected so italic passes never see underscores in URLs.
	text = linkRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := linkRe.FindStringSubmatch(m)
		return p.protect(`<a href="`+attrQuoter.Replace(sub[2])+`">`) + sub[1] + "</a>"
	})
	text = headingRe.ReplaceAllString(text, "<b>$1</b>")

	// Each finished tag pair is protected before the next pass so later
	// substitutions cannot open a tag inside it and close it outside.
	italic := func(s string) string {
		s = replaceBounded(italicStarRe, s, "${1}<i>${2}</i>${3}")
		return replaceBounded(italicUndRe, s, "${1}<i>${2}</i>${3}")
	}
	strike := func(s string) string {
		return strikeRe.ReplaceAllStringFunc(s, func(m string) string {
			return p.protect("<s>" + italic(strikeRe.FindStringSubmatch(m)[1]) + "</s>")
		})
	}
	text = boldItalicRe.ReplaceAllStringFunc(text, func(m string) string {
		return p.protect("<b><i>" + strike(emphasisBody(boldItalicRe, m)) + "</i></b>")
	})
	bold := func(re *regexp.Regexp) {
		text = re.ReplaceAllStringFunc(text, func(m string) string {
			return p.protect("<b>" + italic(strike(re.FindStringSubmatch(m)[1])) + "</b>")
		})
	}
	bold(boldStarRe)
	bold(boldUnderRe)
	text = italic(strike(text))

	return p.restore(text)
}
