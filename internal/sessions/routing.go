package sessions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/config"
)

// Priority orders bindings from most to least specific. Higher wins.
type Priority int

const (
	PriorityFallback Priority = iota
	PriorityDefault
	PriorityChannel
	PriorityAccount
	PriorityTeam
	PriorityGuild
	PriorityPeerParent
	PriorityPeer
)

var priorityNames = [...]string{
	PriorityFallback:   "fallback",
	PriorityDefault:    "default",
	PriorityChannel:    "channel",
	PriorityAccount:    "account",
	PriorityTeam:       "team",
	PriorityGuild:      "guild",
	PriorityPeerParent: "peer_parent",
	PriorityPeer:       "peer",
}

func (p Priority) String() string {
	if p < 0 || int(p) >= len(priorityNames) {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// ParsePriority maps a priority name (case-insensitive, "-" or "_") to a Priority.
func ParsePriority(s string) (Priority, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for i, name := range priorityNames {
		if name == norm {
			return Priority(i), nil
		}
	}
	return 0, fmt.Errorf("unknown route priority %q", s)
}

func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// AgentBinding routes messages matching one granularity to an assistant.
type AgentBinding struct {
	AgentID  string       `json:"agent_id"`
	Priority Priority     `json:"priority"`
	Platform bus.Platform `json:"platform,omitempty"` // empty = any platform
	Match    string       `json:"match,omitempty"`
}

// Matches reports whether the binding applies to k. Each priority compares
// exactly one key field; default and fallback match everything.
func (b AgentBinding) Matches(k SessionKey) bool {
	if b.Platform != "" && b.Platform != k.Platform {
		return false
	}
	switch b.Priority {
	case PriorityPeer:
		return b.Match != "" && b.Match == k.PeerID
	case PriorityPeerParent:
		return b.Match != "" && b.Match == k.ParentID
	case PriorityGuild:
		return b.Match != "" && b.Match == k.GuildID
	case PriorityTeam:
		return b.Match != "" && b.Match == k.TeamID
	case PriorityAccount:
		return b.Match != "" && b.Match == k.AccountID
	case PriorityChannel:
		if b.Match == "" {
			return b.Platform != ""
		}
		return bus.ParsePlatform(b.Match) == k.Platform
	case PriorityDefault, PriorityFallback:
		return true
	}
	return false
}

// RouteResolver picks the most specific binding for a session key.
// It is immutable once built and safe for concurrent use.
type RouteResolver struct {
	bindings []AgentBinding
}

// NewRouteResolver keeps bindings in configuration order.
func NewRouteResolver(bindings []AgentBinding) *RouteResolver {
	return &RouteResolver{bindings: append([]AgentBinding(nil), bindings...)}
}

// NewDefaultResolver is NewRouteResolver plus a trailing fallback binding to
// fallbackAgentID, so every key resolves.
func NewDefaultResolver(bindings []AgentBinding, fallbackAgentID string) *RouteResolver {
	all := append(append([]AgentBinding(nil), bindings...), AgentBinding{
		AgentID:  fallbackAgentID,
		Priority: PriorityFallback,
	})
	return &RouteResolver{bindings: all}
}

// Resolve returns the highest-priority matching binding. Among bindings of
// equal priority the first configured wins.
func (r *RouteResolver) Resolve(k SessionKey) (AgentBinding, bool) {
	var (
		best  AgentBinding
		found bool
	)
	for _, b := range r.bindings {
		if !b.Matches(k) {
			continue
		}
		if !found || b.Priority > best.Priority {
			best, found = b, true
		}
	}
	return best, found
}

// Bindings returns a copy of the configured bindings.
func (r *RouteResolver) Bindings() []AgentBinding {
	return append([]AgentBinding(nil), r.bindings...)
}

// BindingsFromConfig converts configured routes, rejecting unknown priorities
// and bindings that could never match.
func BindingsFromConfig(routes []config.RouteBinding) ([]AgentBinding, error) {
	out := make([]AgentBinding, 0, len(routes))
	for i, r := range routes {
		p, err := ParsePriority(r.Priority)
		if err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
		if r.AgentID == "" {
			return nil, fmt.Errorf("route %d: agentId is required", i)
		}
		if p > PriorityChannel && r.Match == "" {
			return nil, fmt.Errorf("route %d: priority %s requires match", i, p)
		}
		b := AgentBinding{AgentID: r.AgentID, Priority: p, Match: r.Match}
		if r.Platform != "" {
			b.Platform = bus.ParsePlatform(r.Platform)
		}
		out = append(out, b)
	}
	return out, nil
}
