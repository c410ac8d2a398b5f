package sessions

import (
	"encoding/json"
	"testing"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/config"
)

func TestResolve_PeerBeatsDefault(t *testing.T) {
	r := NewRouteResolver([]AgentBinding{
		{AgentID: "general", Priority: PriorityDefault},
		{AgentID: "vip", Priority: PriorityPeer, Match: "u42"},
	})
	key := SessionKey{Platform: bus.PlatformDiscord, PeerKind: PeerDirect, PeerID: "u42"}

	got, ok := r.Resolve(key)
	if !ok || got.AgentID != "vip" {
		t.Errorf("Resolve = %+v, %v; want vip", got, ok)
	}
}

func TestResolve_PriorityOrder(t *testing.T) {
	bindings := []AgentBinding{
		{AgentID: "fallback", Priority: PriorityFallback},
		{AgentID: "default", Priority: PriorityDefault},
		{AgentID: "channel", Priority: PriorityChannel, Match: "discord"},
		{AgentID: "account", Priority: PriorityAccount, Match: "acct"},
		{AgentID: "team", Priority: PriorityTeam, Match: "T1"},
		{AgentID: "guild", Priority: PriorityGuild, Match: "G1"},
		{AgentID: "parent", Priority: PriorityPeerParent, Match: "P1"},
		{AgentID: "peer", Priority: PriorityPeer, Match: "C1"},
	}
	full := SessionKey{
		Platform: bus.PlatformDiscord, AccountID: "acct", PeerKind: PeerGroup, PeerID: "C1",
		ParentID: "P1", GuildID: "G1", TeamID: "T1", ChannelID: "C1",
	}

	tests := []struct {
		name string
		drop func(*SessionKey)
		want string
	}{
		{"peer", func(*SessionKey) {}, "peer"},
		{"peer parent", func(k *SessionKey) { k.PeerID = "x" }, "parent"},
		{"guild", func(k *SessionKey) { k.PeerID, k.ParentID = "x", "" }, "guild"},
		{"team", func(k *SessionKey) { k.PeerID, k.ParentID, k.GuildID = "x", "", "" }, "team"},
		{"account", func(k *SessionKey) { k.PeerID, k.ParentID, k.GuildID, k.TeamID = "x", "", "", "" }, "account"},
		{"channel", func(k *SessionKey) { k.PeerID, k.ParentID, k.GuildID, k.TeamID, k.AccountID = "x", "", "", "", "" }, "channel"},
		{"default", func(k *SessionKey) {
			k.PeerID, k.ParentID, k.GuildID, k.TeamID, k.AccountID = "x", "", "", "", ""
			k.Platform = bus.PlatformSlack
		}, "default"},
	}
	r := NewRouteResolver(bindings)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := full
			tt.drop(&k)
			got, ok := r.Resolve(k)
			if !ok || got.AgentID != tt.want {
				t.Errorf("Resolve(%+v) = %q, want %q", k, got.AgentID, tt.want)
			}
		})
	}
}

func TestResolve_FirstConfiguredWinsTies(t *testing.T) {
	r := NewRouteResolver([]AgentBinding{
		{AgentID: "first", Priority: PriorityDefault},
		{AgentID: "second", Priority: PriorityDefault},
	})
	got, _ := r.Resolve(SessionKey{Platform: bus.PlatformTelegram})
	if got.AgentID != "first" {
		t.Errorf("Resolve = %q, want first", got.AgentID)
	}
}

func TestResolve_PlatformRestriction(t *testing.T) {
	r := NewRouteResolver([]AgentBinding{
		{AgentID: "tg-only", Priority: PriorityPeer, Platform: bus.PlatformTelegram, Match: "42"},
	})
	if _, ok := r.Resolve(SessionKey{Platform: bus.PlatformDiscord, PeerID: "42"}); ok {
		t.Error("telegram-only binding matched a discord key")
	}
	if got, ok := r.Resolve(SessionKey{Platform: bus.PlatformTelegram, PeerID: "42"}); !ok || got.AgentID != "tg-only" {
		t.Errorf("Resolve = %+v, %v", got, ok)
	}
}

func TestNewDefaultResolver_AlwaysResolves(t *testing.T) {
	r := NewDefaultResolver(nil, "jan")
	got, ok := r.Resolve(SessionKey{Platform: bus.PlatformUnknown})
	if !ok || got.AgentID != "jan" || got.Priority != PriorityFallback {
		t.Errorf("Resolve = %+v, %v; want fallback jan", got, ok)
	}
}

func TestPriorityJSON(t *testing.T) {
	data, err := json.Marshal(AgentBinding{AgentID: "a", Priority: PriorityPeerParent})
	if err != nil {
		t.Fatal(err)
	}
	var back AgentBinding
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Priority != PriorityPeerParent {
		t.Errorf("priority after JSON = %v, want peer_parent (json %s)", back.Priority, data)
	}
	if err := json.Unmarshal([]byte(`{"priority":"nonsense"}`), &back); err == nil {
		t.Error("unknown priority name should fail to decode")
	}
}

func TestBindingsFromConfig(t *testing.T) {
	got, err := BindingsFromConfig([]config.RouteBinding{
		{AgentID: "a", Priority: "PEER", Match: "u1", Platform: "slack"},
		{AgentID: "b", Priority: "peer-parent", Match: "p1"},
		{AgentID: "c", Priority: "default"},
	})
	if err != nil {
		t.Fatalf("BindingsFromConfig: %v", err)
	}
	if got[0].Priority != PriorityPeer || got[0].Platform != bus.PlatformSlack {
		t.Errorf("binding 0 = %+v", got[0])
	}
	if got[1].Priority != PriorityPeerParent {
		t.Errorf("binding 1 = %+v", got[1])
	}

	bad := [][]config.RouteBinding{
		{{AgentID: "a", Priority: "sometimes"}},
		{{Priority: "default"}},
		{{AgentID: "a", Priority: "guild"}},
	}
	for i, routes := range bad {
		if _, err := BindingsFromConfig(routes); err == nil {
			t.Errorf("bad routes #%d accepted", i)
		}
	}
}

func TestSessionKeyFromMessage(t *testing.T) {
	tests := []struct {
		name     string
		msg      bus.GatewayMessage
		wantKind PeerKind
		wantPeer string
		wantAcct string
	}{
		{
			name:     "guild message is group",
			msg:      bus.GatewayMessage{Platform: bus.PlatformDiscord, UserID: "u", ChannelID: "c", GuildID: "g"},
			wantKind: PeerGroup, wantPeer: "c", wantAcct: DefaultAccountID,
		},
		{
			name:     "no guild is direct",
			msg:      bus.GatewayMessage{Platform: bus.PlatformTelegram, UserID: "u", ChannelID: "c"},
			wantKind: PeerDirect, wantPeer: "u", wantAcct: DefaultAccountID,
		},
		{
			name: "metadata overrides",
			msg: bus.GatewayMessage{Platform: bus.PlatformSlack, UserID: "u", ChannelID: "c", GuildID: "T1",
				Metadata: map[string]any{MetaIsDM: true, MetaAccountID: "work"}},
			wantKind: PeerDirect, wantPeer: "u", wantAcct: "work",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := SessionKeyFromMessage(tt.msg)
			if k.PeerKind != tt.wantKind || k.PeerID != tt.wantPeer || k.AccountID != tt.wantAcct {
				t.Errorf("key = %+v", k)
			}
		})
	}
}

func TestBuildSessionKey(t *testing.T) {
	got := BuildSessionKey(bus.PlatformTelegram, "", PeerDirect, "386246614")
	if want := "telegram:default:direct:386246614"; got != want {
		t.Errorf("BuildSessionKey = %q, want %q", got, want)
	}
}
