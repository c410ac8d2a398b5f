package pipeline

import (
	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/config"
)

// Stage names a pipeline step, used in results and logs.
type Stage string

const (
	StageWhitelist Stage = "whitelist"
	StageNormalize Stage = "normalize"
	StageRoute     Stage = "route"
)

// ProcessingResult reports how far a message got through the pipeline so
// callers can tell why it did not reach delivery.
type ProcessingResult struct {
	Whitelisted bool                   `json:"whitelisted"`
	Normalized  bool                   `json:"normalized"`
	Routed      bool                   `json:"routed"`
	Success     bool                   `json:"success"`
	Message     *bus.NormalizedMessage `json:"message,omitempty"`
	ThreadID    string                 `json:"thread_id,omitempty"` // always empty here; resolved by the caller
	FailedAt    Stage                  `json:"failed_at,omitempty"`
	Error       string                 `json:"error,omitempty"`

	// AutoCreate echoes the caller's auto-create setting so a caller that
	// resolves threads later does not have to carry it separately.
	AutoCreate bool `json:"auto_create,omitempty"`
}

// ProcessMessage runs whitelist then normalization. Thread resolution is
// left to the caller: a successful result has Routed=false and no ThreadID.
func ProcessMessage(msg bus.GatewayMessage, whitelist config.WhitelistConfig, autoCreateThreads bool) ProcessingResult {
	res := ProcessingResult{AutoCreate: autoCreateThreads}

	wl := ValidateWhitelist(msg, whitelist)
	if !wl.Allowed {
		res.FailedAt = StageWhitelist
		res.Error = wl.Reason
		return res
	}
	res.Whitelisted = true

	norm, err := Normalize(msg)
	if err != nil {
		res.FailedAt = StageNormalize
		res.Error = err.Error()
		return res
	}
	res.Normalized = true
	res.Message = &norm
	res.Success = true
	return res
}
