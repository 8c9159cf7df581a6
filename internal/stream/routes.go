package stream

import (
	_ "embed"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

//go:embed static/index.html
var viewerHTML []byte

// Routes returns the HTTP surface for the live stream: the viewer page at
// the root and the websocket feed at /ws.
func (b *Broadcaster) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", b.servePage)
	r.Get("/ws", b.serveWS)
	return r
}

func (b *Broadcaster) servePage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(viewerHTML)
}

func (b *Broadcaster) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	frames, cancel := b.Subscribe()
	c := &client{
		conn:        conn,
		frames:      frames,
		cancel:      cancel,
		log:         b.log,
		connectedAt: time.Now(),
	}
	b.log.Info("viewer connected", "remote", r.RemoteAddr, "viewers", b.Subscribers())

	go c.readPump()
	go c.writePump()
}
