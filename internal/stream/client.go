package stream

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sys/unix"

	"github.com/thelolagemann/gameport/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const writeWait = 10 * time.Second

// client is one attached websocket viewer. Viewers are passive: the read
// pump only watches for disconnection, the write pump relays frames from
// the broadcaster subscription.
type client struct {
	conn   *websocket.Conn
	frames <-chan session.Frame
	cancel func()
	log    *slog.Logger

	connectedAt time.Time
	avgLatency  uint32 // ms, smoothed
}

func (c *client) readPump() {
	defer func() {
		c.cancel()
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		// inbound messages from viewers are ignored
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for frame := range c.frames {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, frame.PNG); err != nil {
			c.cancel()
			c.log.Debug("viewer write failed", "err", err)
			return
		}
		c.sampleLatency()
	}
	// frame channel closed: stream stopped or we fell too far behind
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream stopped"))
	c.log.Debug("viewer disconnected",
		"duration", time.Since(c.connectedAt).Round(time.Second),
		"latency_ms", c.avgLatency)
}

// sampleLatency folds the kernel's RTT estimate for the underlying TCP
// connection into a smoothed per-viewer latency figure.
func (c *client) sampleLatency() {
	tcp, ok := c.conn.UnderlyingConn().(*net.TCPConn)
	if !ok {
		return
	}
	info, err := tcpInfo(tcp)
	if err != nil {
		return
	}
	c.avgLatency = ((c.avgLatency * 9) + info.Rtt/1000) / 10
}

func tcpInfo(conn *net.TCPConn) (*unix.TCPInfo, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}

	var info *unix.TCPInfo
	ctrlErr := raw.Control(func(fd uintptr) {
		info, err = unix.GetsockoptTCPInfo(int(fd), unix.IPPROTO_TCP, unix.TCP_INFO)
	})
	switch {
	case ctrlErr != nil:
		return nil, ctrlErr
	case err != nil:
		return nil, err
	}
	return info, nil
}
