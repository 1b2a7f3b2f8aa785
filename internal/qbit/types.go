package qbit

// Upstream state tags with classification meaning. Any other value is
// passed through to the progress event verbatim.
const (
	StateStalled = "stalled"
	StatePaused  = "paused"
)

// AddRequest describes a torrent submission. The fields arrive from an
// already-validated inbound command.
type AddRequest struct {
	RequestID string
	MagnetURI string
	Category  string
}

// Snapshot is one torrent's status as reported by the WebUI info endpoint.
// Transient: consumed once per poll cycle.
type Snapshot struct {
	Hash          string  `json:"hash"`
	Name          string  `json:"name"`
	Progress      float64 `json:"progress"`
	DownloadSpeed int64   `json:"dlspeed"`
	ETA           int64   `json:"eta"`
	State         string  `json:"state"`
	Category      string  `json:"category"`
	Size          int64   `json:"size"`
}
