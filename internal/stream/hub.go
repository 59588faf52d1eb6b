// Package stream broadcasts rendered frames to browser clients over
// WebSocket and forwards their pointer splats back to the simulation.
//
// A Hub is an http.Handler. Every client receives the most recent frame on
// connect and each published frame afterwards as a binary PNG message.
// Clients may send JSON splat messages:
//
//	{"x": 0.5, "y": 0.25, "dx": 0.01, "dy": 0, "amount": 10}
//
// Positions are normalized to [0, 1) of the frame.
package stream

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/image/draw"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("stream: hub closed")

const writeWait = 2 * time.Second

// Splat is a pointer splat sent by a client.
type Splat struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	DX     float64 `json:"dx"`
	DY     float64 `json:"dy"`
	Amount float64 `json:"amount"`
}

// client serializes writes to one connection.
type client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *client) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Hub is a frame broadcaster. The zero value is not usable; call NewHub.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*websocket.Conn]*client
	last     []byte
	closed   bool
	upgrader websocket.Upgrader
	scale    int
	onSplat  func(Splat)
	log      *slog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithScale upscales published frames by an integer factor.
func WithScale(factor int) Option {
	return func(h *Hub) {
		if factor > 0 {
			h.scale = factor
		}
	}
}

// WithSplatHandler sets the function called for every splat a client
// sends. It runs on the client's read goroutine.
func WithSplatHandler(fn func(Splat)) Option {
	return func(h *Hub) {
		h.onSplat = fn
	}
}

// WithLogger sets the hub logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// NewHub returns a hub with no clients.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients: make(map[*websocket.Conn]*client),
		scale:   1,
		log:     slog.New(slog.DiscardHandler),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			// Frames are public; any page may watch.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handler returns a mux serving a viewer page at / and the socket at /ws.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(viewerPage))
	})
	mux.Handle("/ws", h)
	return mux
}

// ServeHTTP upgrades the request and serves the client until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("stream: upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close()

	c := &client{conn: conn}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.clients[conn] = c
	last := h.last
	n := len(h.clients)
	h.mu.Unlock()
	defer h.remove(conn)

	h.log.Info("stream: client connected", "remote", r.RemoteAddr, "clients", n)
	if last != nil {
		if err := c.write(last); err != nil {
			return
		}
	}

	for {
		var s Splat
		if err := conn.ReadJSON(&s); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("stream: read failed", "remote", r.RemoteAddr, "err", err)
			}
			return
		}
		if h.onSplat != nil {
			h.onSplat(s)
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.log.Info("stream: client disconnected", "clients", n)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish encodes img as PNG, remembers it for new clients and sends it to
// every connected client. Clients that fail to receive it are dropped.
func (h *Hub) Publish(img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, Scale(img, h.scale)); err != nil {
		return err
	}
	frame := buf.Bytes()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	h.last = frame
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	var failed []*websocket.Conn
	for _, c := range targets {
		if err := c.write(frame); err != nil {
			h.log.Debug("stream: write failed", "err", err)
			failed = append(failed, c.conn)
		}
	}
	for _, conn := range failed {
		conn.Close()
		h.remove(conn)
	}
	return nil
}

// Close disconnects all clients. Later Publish calls return ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = make(map[*websocket.Conn]*client)
	h.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "simulation finished")
	for conn, c := range clients {
		c.mu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		c.mu.Unlock()
		conn.Close()
	}
}

// Scale returns img enlarged by an integer factor with nearest-neighbor
// sampling, which keeps grid cells crisp. A factor of 1 or less returns
// img unchanged.
func Scale(img image.Image, factor int) image.Image {
	if factor <= 1 {
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

const viewerPage = `<!DOCTYPE html>
<html>
<head><title>fluidsim</title>
<style>body{margin:0;background:#000}img{display:block;margin:auto;image-rendering:pixelated;max-height:100vh}</style>
</head>
<body>
<img id="frame" alt="">
<script>
const img = document.getElementById("frame");
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.binaryType = "blob";
ws.onmessage = (ev) => {
  const url = URL.createObjectURL(ev.data);
  img.onload = () => URL.revokeObjectURL(url);
  img.src = url;
};
let last = null;
img.onpointermove = (ev) => {
  if (!(ev.buttons & 1)) { last = null; return; }
  const r = img.getBoundingClientRect();
  const x = (ev.clientX - r.left) / r.width, y = (ev.clientY - r.top) / r.height;
  const dx = last ? x - last.x : 0, dy = last ? y - last.y : 0;
  last = {x, y};
  ws.send(JSON.stringify({x, y, dx, dy, amount: 10}));
};
</script>
</body>
</html>
`
