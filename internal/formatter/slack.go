package formatter

import "strings"

var slackEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// FormatSlack converts markdown to Slack mrkdwn.
func FormatSlack(markdown string) string {
	p, text := newProtector(markdown)

	text = fencedCodeRe.ReplaceAllStringFunc(text, func(m string) string {
		body := fencedCodeRe.FindStringSubmatch(m)[2]
		return p.protect("```" + slackEscaper.Replace(body) + "```")
	})
	text = inlineCodeRe.ReplaceAllStringFunc(text, func(m string) string {
		body := inlineCodeRe.FindStringSubmatch(m)[1]
		return p.protect("`" + slackEscaper.Replace(body) + "`")
	})

	text = slackEscaper.Replace(text)

	text = linkRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := linkRe.FindStringSubmatch(m)
		return p.protect("<" + sub[2] + "|" + sub[1] + ">")
	})
	text = headingRe.ReplaceAllStringFunc(text, func(m string) string {
		title := headingRe.FindStringSubmatch(m)[1]
		title = strings.NewReplacer("**", "", "__", "").Replace(title)
		return p.protect("*" + title + "*")
	})
	text = boldItalicRe.ReplaceAllStringFunc(text, func(m string) string {
		return p.protect("*_" + emphasisBody(boldItalicRe, m) + "_*")
	})
	text = boldStarRe.ReplaceAllStringFunc(text, func(m string) string {
		return p.protect("*" + boldStarRe.FindStringSubmatch(m)[1] + "*")
	})
	text = boldUnderRe.ReplaceAllStringFunc(text, func(m string) string {
		return p.protect("*" + boldUnderRe.FindStringSubmatch(m)[1] + "*")
	})
	text = strikeRe.ReplaceAllString(text, "~$1~")
	text = replaceBounded(italicStarRe, text, "${1}_${2}_${3}")

	return p.restore(text)
}
