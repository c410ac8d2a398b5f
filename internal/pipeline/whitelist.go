// Package pipeline turns raw inbound messages into processable ones:
// whitelist check, normalization and thread preparation.
package pipeline

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/config"
)

// MetaRoles is the metadata key carrying the sender's role ids ([]string or []any).
const MetaRoles = "roles"

// regexMeta are the characters that make a whitelist entry a pattern.
const regexMeta = `.*+?[](){}|^$\`

// WhitelistResult is the outcome of a whitelist check. Reason is set only
// when the message is rejected.
type WhitelistResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// patternCache holds compiled whitelist patterns. Invalid patterns are
// cached as nil so they are not recompiled per message.
var patternCache sync.Map // string → *regexp.Regexp

// ValidateWhitelist decides whether msg may be processed. Dimensions are
// checked in order user, channel, guild (only when the message has one),
// role (only when the message carries role metadata); the first failing
// dimension decides the reason. An empty list places no restriction.
func ValidateWhitelist(msg bus.GatewayMessage, cfg config.WhitelistConfig) WhitelistResult {
	if !cfg.Enabled {
		return WhitelistResult{Allowed: true}
	}

	if !listAllows(cfg.UserIDs, msg.UserID) {
		return reject("User %s not in whitelist", msg.UserID)
	}
	if !listAllows(cfg.ChannelIDs, msg.ChannelID) {
		return reject("Channel %s not in whitelist", msg.ChannelID)
	}
	if msg.GuildID != "" && !listAllows(cfg.GuildIDs, msg.GuildID) {
		return reject("Guild %s not in whitelist", msg.GuildID)
	}
	if roles, ok := metaStrings(msg.Metadata, MetaRoles); ok && len(cfg.RoleIDs) > 0 {
		matched := false
		for _, r := range roles {
			if listAllows(cfg.RoleIDs, r) {
				matched = true
				break
			}
		}
		if !matched {
			return reject("Roles [%s] not in whitelist", strings.Join(roles, ", "))
		}
	}
	return WhitelistResult{Allowed: true}
}

func reject(format string, id string) WhitelistResult {
	return WhitelistResult{Reason: fmt.Sprintf(format, id)}
}

func listAllows(list []string, value string) bool {
	if len(list) == 0 {
		return true
	}
	for _, entry := range list {
		if entryMatches(entry, value) {
			return true
		}
	}
	return false
}

// entryMatches reports whether a whitelist entry accepts value: exact match,
// or, when the entry looks like a regular expression, a full-string match.
func entryMatches(entry, value string) bool {
	if entry == value {
		return true
	}
	if !IsPattern(entry) {
		return false
	}
	re := compilePattern(entry)
	return re != nil && re.MatchString(value)
}

// IsPattern reports whether a whitelist entry contains regex metacharacters.
func IsPattern(entry string) bool {
	return strings.ContainsAny(entry, regexMeta)
}

func compilePattern(entry string) *regexp.Regexp {
	if v, ok := patternCache.Load(entry); ok {
		re, _ := v.(*regexp.Regexp)
		return re
	}
	re, err := regexp.Compile("^(?:" + entry + ")$")
	if err != nil {
		slog.Warn("whitelist: invalid pattern, treating as literal", "pattern", entry, "error", err)
		re = nil
	}
	patternCache.Store(entry, re)
	return re
}

// metaStrings reads a string list from metadata, accepting []string and []any.
func metaStrings(meta map[string]any, key string) ([]string, bool) {
	v, ok := meta[key]
	if !ok {
		return nil, false
	}
	switch vals := v.(type) {
	case []string:
		return vals, true
	case []any:
		out := make([]string, 0, len(vals))
		for _, x := range vals {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	case string:
		return []string{vals}, true
	}
	return nil, false
}
