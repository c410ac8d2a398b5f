// Package sessions derives session keys, resolves routes and owns the
// thread mapping table.
//
// A SessionKey describes one inbound conversation at every granularity the
// router can bind on. Its canonical string form is
//
//	{platform}:{accountId}:{peerKind}:{peerId}
//
// Examples:
//
//	discord:default:group:1129384756
//	telegram:support:direct:386246614
package sessions

import (
	"fmt"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
)

// PeerKind distinguishes DM from group conversations.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// DefaultAccountID is used when a message carries no account id.
const DefaultAccountID = "default"

// Metadata keys read from GatewayMessage.Metadata.
const (
	MetaAccountID = "account_id"
	MetaParentID  = "parent_id"
	MetaTeamID    = "team_id"
	MetaIsDM      = "is_dm"
)

// SessionKey addresses a conversation at every routing granularity.
type SessionKey struct {
	Platform  bus.Platform `json:"platform"`
	AccountID string       `json:"account_id,omitempty"`
	PeerKind  PeerKind     `json:"peer_kind"`
	PeerID    string       `json:"peer_id"`
	ParentID  string       `json:"parent_id,omitempty"`
	GuildID   string       `json:"guild_id,omitempty"`
	TeamID    string       `json:"team_id,omitempty"`
	ChannelID string       `json:"channel_id,omitempty"`
}

// String returns the canonical key.
func (k SessionKey) String() string {
	return BuildSessionKey(k.Platform, k.AccountID, k.PeerKind, k.PeerID)
}

// BuildSessionKey builds the canonical session key.
//
//	{platform}:{accountId}:{peerKind}:{peerId}
func BuildSessionKey(platform bus.Platform, accountID string, kind PeerKind, peerID string) string {
	if accountID == "" {
		accountID = DefaultAccountID
	}
	return fmt.Sprintf("%s:%s:%s:%s", platform, accountID, kind, peerID)
}

// SessionKeyFromMessage derives the routing key of an inbound message.
// Direct messages are keyed by sender, everything else by channel.
func SessionKeyFromMessage(msg bus.GatewayMessage) SessionKey {
	k := SessionKey{
		Platform:  msg.Platform,
		AccountID: msg.MetaString(MetaAccountID),
		ParentID:  msg.MetaString(MetaParentID),
		GuildID:   msg.GuildID,
		TeamID:    msg.MetaString(MetaTeamID),
		ChannelID: msg.ChannelID,
	}
	if k.AccountID == "" {
		k.AccountID = DefaultAccountID
	}

	direct := msg.GuildID == ""
	if v, ok := msg.Metadata[MetaIsDM].(bool); ok {
		direct = v
	}
	if direct {
		k.PeerKind = PeerDirect
		k.PeerID = msg.UserID
	} else {
		k.PeerKind = PeerGroup
		k.PeerID = msg.ChannelID
	}
	return k
}
