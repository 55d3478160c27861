package ws

import (
	"log"

	"certhub/internal/renewal"
)

// ProgressBroadcaster pushes renewal progress changes to all connected
// clients. It implements renewal.ProgressSink; broadcast failures never
// affect the renewal pipeline.
type ProgressBroadcaster struct{}

// NewProgressBroadcaster creates the broadcaster
func NewProgressBroadcaster() *ProgressBroadcaster {
	return &ProgressBroadcaster{}
}

// Report implements renewal.ProgressSink
func (b *ProgressBroadcaster) Report(state renewal.RequestProgressState) {
	if Server == nil {
		return
	}

	BroadcastToAll("renewal:progress", map[string]interface{}{
		"found": true,
		"state": state,
	})

	if state.IsTerminal() {
		log.Printf("[WebSocket] Renewal %s for %s finished: %s", state.AttemptID, state.ManagedCertificateID, state.CurrentState)
	}
}
