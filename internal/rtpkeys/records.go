package rtpkeys

// Location is a world-relative position. ComputeResponse, PendingTeleport
// and SpawnPoint embed it for a destination or candidate spawn point.
type Location struct {
	World string  `json:"world"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Yaw   float32 `json:"yaw"`
	Pitch float32 `json:"pitch"`
}

// ComputeRequest is published on the compute channel by an origin backend
// asking some target backend to find a safe location.
type ComputeRequest struct {
	RequestID    string `json:"requestId"`
	PlayerUUID   string `json:"playerUuid"`
	TargetServer string `json:"targetServer"`
	World        string `json:"world"`
	CreatedAtMs  int64  `json:"createdAtMs"`
}

// ComputeResponse is written by the target backend in response to a
// ComputeRequest. Location is meaningful only when Ok is true.
type ComputeResponse struct {
	RequestID string   `json:"requestId"`
	Ok        bool     `json:"ok"`
	Server    string   `json:"server"`
	World     string   `json:"world"`
	Location  Location `json:"location"`
	Error     string   `json:"error,omitempty"`
}

// PendingTeleport instructs the destination backend to finalize a
// teleport the next time the named player joins.
type PendingTeleport struct {
	Server   string   `json:"server"`
	Location Location `json:"location"`
	AtMs     int64    `json:"atMs"`
	Attempts uint32   `json:"attempts"`
}

// SpawnPoint records a player's shared bed/anchor spawn, written by
// whichever backend observed the bed-enter or anchor-charge event.
type SpawnPoint struct {
	Server   string   `json:"server"`
	Location Location `json:"location"`
	AtMs     int64    `json:"atMs"`
	// Type is "BED", "ANCHOR", or "UNKNOWN" (empty reads as unknown).
	// Left optional per the open question in spec.md §9. No code in this
	// repository re-infers an unknown type from the destination blocks;
	// the Death Pipeline only acts on "ANCHOR".
	Type string `json:"type,omitempty"`
}
