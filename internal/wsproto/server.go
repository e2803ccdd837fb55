package wsproto

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Shashank188/CanvasCollab/internal/canvasstore"
	"github.com/Shashank188/CanvasCollab/internal/room"
	"github.com/Shashank188/CanvasCollab/internal/worker"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Server upgrades incoming HTTP requests to WebSocket connections and
// runs the liveness heartbeat over the attached sessions, per §4.E/§5.
type Server struct {
	Manager   *room.Manager
	Store     canvasstore.Store
	Compactor *worker.CompactionWorker
	Logger    *slog.Logger
	upgrader  websocket.Upgrader
}

// NewServer constructs a Server sharing the given room manager, event
// store, and (optionally nil) compaction worker with the rest of the
// process.
func NewServer(manager *room.Manager, store canvasstore.Store, compactor *worker.CompactionWorker, logger *slog.Logger) *Server {
	return &Server{
		Manager:   manager,
		Store:     store,
		Compactor: compactor,
		Logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs its session until it
// disconnects. The session ID is an opaque per-connection UUID; userId
// is sourced from the `userId` query parameter or minted afresh (§4.F).
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = uuid.NewString()
	}
	username := r.URL.Query().Get("username")
	if username == "" {
		username = "Anonymous"
	}

	sess := newSession(uuid.NewString(), userID, username, conn, srv.Manager, srv.Store, srv.Compactor, srv.Logger)
	sess.run()
}

// RunHeartbeat runs the ~30s ping/pong liveness loop of §4.E until ctx
// is cancelled. Intended to be started once, in its own goroutine, by
// the process that owns the Server.
func (srv *Server) RunHeartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(room.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			terminated := srv.Manager.Tick()
			if len(terminated) > 0 && srv.Logger != nil {
				srv.Logger.Info("wsproto: terminated unresponsive sessions", "count", len(terminated))
			}
		}
	}
}
