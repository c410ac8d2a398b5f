package pipeline

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
)

// Metadata keys read by the normalizer.
const (
	MetaMentions    = "mentions"
	MetaAttachments = "attachments"
)

// ErrMalformedMessage wraps every normalization failure.
var ErrMalformedMessage = errors.New("malformed message")

var (
	discordMentionRe  = regexp.MustCompile(`<@!?(\d+)>`)
	slackMentionRe    = regexp.MustCompile(`<@([UW][A-Z0-9]+)(?:\|[^>]*)?>`)
	telegramMentionRe = regexp.MustCompile(`(?:^|[^\w@])@([A-Za-z][A-Za-z0-9_]{3,31})\b`)
)

// Normalize converts a GatewayMessage into its platform-independent form.
// Missing required fields and malformed attachment metadata are reported
// as errors wrapping ErrMalformedMessage.
func Normalize(msg bus.GatewayMessage) (bus.NormalizedMessage, error) {
	switch {
	case strings.TrimSpace(msg.ID) == "":
		return bus.NormalizedMessage{}, fmt.Errorf("%w: missing id", ErrMalformedMessage)
	case strings.TrimSpace(msg.UserID) == "":
		return bus.NormalizedMessage{}, fmt.Errorf("%w: message %s: missing user_id", ErrMalformedMessage, msg.ID)
	case strings.TrimSpace(msg.ChannelID) == "":
		return bus.NormalizedMessage{}, fmt.Errorf("%w: message %s: missing channel_id", ErrMalformedMessage, msg.ID)
	case msg.Timestamp <= 0:
		return bus.NormalizedMessage{}, fmt.Errorf("%w: message %s: invalid timestamp %d", ErrMalformedMessage, msg.ID, msg.Timestamp)
	}

	attachments, err := parseAttachments(msg.Metadata[MetaAttachments])
	if err != nil {
		return bus.NormalizedMessage{}, fmt.Errorf("%w: message %s: %v", ErrMalformedMessage, msg.ID, err)
	}

	platform := msg.Platform
	if platform == "" {
		platform = bus.PlatformUnknown
	}

	return bus.NormalizedMessage{
		ID:          msg.ID,
		Platform:    platform,
		UserID:      msg.UserID,
		ChannelID:   msg.ChannelID,
		Text:        strings.TrimSpace(msg.Content),
		Mentions:    extractMentions(msg),
		Attachments: attachments,
		Timestamp:   msg.Timestamp,
	}, nil
}

// extractMentions collects mention ids from the content (platform syntax)
// and from metadata, deduplicated in first-seen order.
func extractMentions(msg bus.GatewayMessage) []string {
	seen := make(map[string]bool)
	out := []string{}
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}

	var re *regexp.Regexp
	switch msg.Platform {
	case bus.PlatformDiscord:
		re = discordMentionRe
	case bus.PlatformSlack:
		re = slackMentionRe
	case bus.PlatformTelegram:
		re = telegramMentionRe
	}
	if re != nil {
		for _, m := range re.FindAllStringSubmatch(msg.Content, -1) {
			add(m[1])
		}
	}

	if extra, ok := metaStrings(msg.Metadata, MetaMentions); ok {
		for _, id := range extra {
			add(strings.TrimPrefix(id, "@"))
		}
	}
	return out
}

// parseAttachments accepts the attachment list in the shapes producers use:
// []bus.Attachment, or a JSON-decoded []any of objects.
func parseAttachments(v any) ([]bus.Attachment, error) {
	out := []bus.Attachment{}
	switch list := v.(type) {
	case nil:
		return out, nil
	case []bus.Attachment:
		for i, a := range list {
			if a.URL == "" {
				return nil, fmt.Errorf("attachment %d: missing url", i)
			}
		}
		return append(out, list...), nil
	case []any:
		for i, item := range list {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("attachment %d: expected object, got %T", i, item)
			}
			a, err := attachmentFromMap(obj)
			if err != nil {
				return nil, fmt.Errorf("attachment %d: %w", i, err)
			}
			out = append(out, a)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("attachments: expected list, got %T", v)
	}
}

func attachmentFromMap(obj map[string]any) (bus.Attachment, error) {
	var a bus.Attachment
	url, ok := obj["url"].(string)
	if !ok || url == "" {
		return a, errors.New("missing url")
	}
	a.URL = url
	a.Type, _ = obj["type"].(string)
	a.Name, _ = obj["name"].(string)

	switch size := obj["size"].(type) {
	case nil:
	case float64:
		if size < 0 {
			return a, fmt.Errorf("negative size %v", size)
		}
		a.Size = int64(size)
	case int:
		a.Size = int64(size)
	case int64:
		a.Size = size
	default:
		return a, fmt.Errorf("size: expected number, got %T", size)
	}
	if a.Size < 0 {
		return a, fmt.Errorf("negative size %d", a.Size)
	}
	return a, nil
}
