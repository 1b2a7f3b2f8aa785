// Package events defines the outbound event payloads and their routing
// keys. The reconciliation engine decides kind and payload; the transport
// layer owns delivery.
package events

// Routing keys on the main event exchange, one per classification.
const (
	RoutingProgress = "torrent.progress"
	RoutingStalled  = "torrent.stalled"
	RoutingPaused   = "torrent.paused"
	RoutingComplete = "torrent.complete"
	RoutingRemoved  = "torrent.removed"
)

// RoutingPollingFailure is published to the notification exchange, not the
// main event stream.
const RoutingPollingFailure = "notification.polling-failure"

// Progress reports a torrent still in flight. The same shape is used for
// the stalled and paused classifications; only the routing key differs, and
// State carries the upstream tag verbatim.
type Progress struct {
	RequestID     string  `json:"id"`
	Hash          string  `json:"hash"`
	Name          string  `json:"name"`
	Progress      float64 `json:"progress"`
	DownloadSpeed int64   `json:"downloadSpeed"`
	ETA           int64   `json:"eta"`
	State         string  `json:"state"`
	Category      string  `json:"category"`
}

// Complete reports a finished download. Size comes from the final status
// snapshot, never recomputed.
type Complete struct {
	RequestID string `json:"id"`
	Hash      string `json:"hash"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Category  string `json:"category"`
}

// Removed reports a torrent deleted outside this service. Name and Category
// fall back to "unknown" when no metadata was ever cached.
type Removed struct {
	RequestID string `json:"id"`
	Hash      string `json:"hash"`
	Name      string `json:"name"`
	Category  string `json:"category"`
}

// PollingFailure is the one-shot alert for a sustained upstream outage.
// FailingSinceMs is the elapsed length of the failure window in
// milliseconds at the moment the alert fired.
type PollingFailure struct {
	Service        string `json:"service"`
	Error          string `json:"error"`
	FailingSinceMs int64  `json:"failingSinceMs"`
	Timestamp      int64  `json:"timestamp"`
}
