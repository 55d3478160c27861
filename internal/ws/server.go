package ws

import (
	"log"
	"net/http"

	socketio "github.com/googollee/go-socket.io"

	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"

	"certhub/internal/renewal"
)

var (
	// Server is the global Socket.IO server instance
	Server *socketio.Server
)

// ProgressLookup resolves the current progress state for a certificate id
type ProgressLookup func(certID string) (renewal.RequestProgressState, bool)

// InitServer initializes the Socket.IO server. lookup answers client
// request:progress queries; a nil lookup disables them.
func InitServer(lookup ProgressLookup) error {
	// Create server with custom transport options
	server := socketio.NewServer(&engineio.Options{
		Transports: []transport.Transport{
			&polling.Transport{
				CheckOrigin: func(r *http.Request) bool {
					// Allow all origins for now (can be restricted later)
					return true
				},
			},
			&websocket.Transport{
				CheckOrigin: func(r *http.Request) bool {
					// Allow all origins for now (can be restricted later)
					return true
				},
			},
		},
	})

	// Handle connection event
	server.OnConnect("/", func(s socketio.Conn) error {
		// JWT authentication is handled during the handshake
		log.Printf("[WebSocket] Client connected: %s", s.ID())

		// Send connected confirmation
		s.Emit("connected", map[string]interface{}{
			"ok": true,
		})

		return nil
	})

	// Handle disconnection event
	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		log.Printf("[WebSocket] Client disconnected: %s, reason: %s", s.ID(), reason)
	})

	// Handle error event
	server.OnError("/", func(s socketio.Conn, e error) {
		log.Printf("[WebSocket] Error for client %s: %v", s.ID(), e)
	})

	// request:progress answers with the current state of one renewal
	server.OnEvent("/", "request:progress", func(s socketio.Conn, data interface{}) {
		certID := ""
		if dataMap, ok := data.(map[string]interface{}); ok {
			certID, _ = dataMap["certificateId"].(string)
		}

		if certID == "" || lookup == nil {
			s.Emit("renewal:progress", map[string]interface{}{"found": false})
			return
		}

		state, found := lookup(certID)
		if !found {
			s.Emit("renewal:progress", map[string]interface{}{
				"found":         false,
				"certificateId": certID,
			})
			return
		}

		s.Emit("renewal:progress", map[string]interface{}{
			"found": true,
			"state": state,
		})
	})

	// Start server goroutine
	go func() {
		if err := server.Serve(); err != nil {
			log.Fatalf("[WebSocket] Server error: %v", err)
		}
	}()

	Server = server
	log.Println("[WebSocket] Socket.IO server initialized")
	return nil
}

// BroadcastToAll broadcasts a message to all connected clients
func BroadcastToAll(event string, data interface{}) {
	if Server != nil {
		Server.BroadcastToNamespace("/", event, data)
	}
}
