// Package domain contains core domain types for the quire engine.
package domain

// Fragment is one persisted content block of a document. A fragment with
// a remote ID always has a known version; until the first successful
// create it exists only locally.
type Fragment struct {
	ID          int64  `json:"id,omitempty"`
	ContainerID int64  `json:"container_id,omitempty"`
	Version     int64  `json:"version,omitempty"`
	Content     string `json:"content"`
	OrderIndex  int    `json:"order_index"`
	Kind        string `json:"kind,omitempty"`
	Depth       int    `json:"depth,omitempty"`
}

// FragmentRef is returned by the remote store when a fragment is created.
type FragmentRef struct {
	ID      int64 `json:"id"`
	Version int64 `json:"version"`
}

// FragmentState is the authoritative remote state of a fragment.
type FragmentState struct {
	Version int64  `json:"version"`
	Content string `json:"content"`
}

// FragmentPosition places a new fragment inside its container.
type FragmentPosition struct {
	OrderIndex int    `json:"order_index"`
	Kind       string `json:"kind,omitempty"`
	Depth      int    `json:"depth,omitempty"`
}

// SaveState is the bounded save indicator surfaced to the UI layer.
type SaveState string

const (
	// SaveIdle means no save activity is displayed.
	SaveIdle SaveState = "idle"
	// SaveInFlight means a save attempt is running.
	SaveInFlight SaveState = "saving"
	// SaveDone means the last attempt was accepted by the remote store.
	SaveDone SaveState = "saved"
	// SaveFailed means the last attempt failed and will be retried on the
	// next content change.
	SaveFailed SaveState = "error"
	// SaveNotReady means no save is possible yet (container unknown).
	SaveNotReady SaveState = "not_ready"
)

// SaveStatus is published on the event bus whenever a fragment's save
// indicator changes.
type SaveStatus struct {
	DocID       string    `json:"doc_id"`
	FragmentKey string    `json:"fragment_key"`
	State       SaveState `json:"state"`
	Version     int64     `json:"version,omitempty"`
}
