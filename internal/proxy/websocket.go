package proxy

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

func deadlineNow() time.Time { return time.Now().Add(time.Second) }

// wsUpgrader accepts the client-side handshake. Auth on function virtual
// hosts is delegated entirely to the function itself; the platform
// forwards frames verbatim (§6 "on virtual hosts it is forwarded
// verbatim"), so any origin is accepted here.
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// proxyWebSocket implements the state machine of §4.6: Negotiating ->
// Proxying -> Draining -> Closed. After accepting the client upgrade, it
// opens an outbound WebSocket to addr and runs two independent
// forwarding tasks; either side closing tears down both.
func (p *Proxy) proxyWebSocket(w http.ResponseWriter, r *http.Request, addr string) {
	// Negotiating: accept the client side first so a failure to reach
	// the target can still be reported as a clean close rather than a
	// half-open client socket.
	client, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		p.log.Warn("client upgrade failed", "error", err)
		return
	}
	defer client.Close()

	targetURL := url.URL{Scheme: "ws", Host: addr, Path: r.URL.Path, RawQuery: r.URL.RawQuery}
	target, _, err := websocket.DefaultDialer.Dial(targetURL.String(), nil)
	if err != nil {
		p.log.Warn("target dial failed", "addr", addr, "error", err)
		_ = client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "upstream unreachable"),
			deadlineNow())
		return
	}
	defer target.Close()

	// Proxying: two independent, order-preserving forwarding loops.
	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			_ = client.Close()
			_ = target.Close()
		})
	}

	// gorilla answers pings and swallows pongs locally unless overridden;
	// §4.6 requires them proxied end-to-end like any other frame.
	client.SetPingHandler(forwardControl(target, websocket.PingMessage))
	client.SetPongHandler(forwardControl(target, websocket.PongMessage))
	target.SetPingHandler(forwardControl(client, websocket.PingMessage))
	target.SetPongHandler(forwardControl(client, websocket.PongMessage))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer closeBoth()
		forward(p, client, target)
	}()
	go func() {
		defer wg.Done()
		defer closeBoth()
		forward(p, target, client)
	}()
	// Draining: wait for both directions to observe the close (or
	// error) before returning, which is Closed.
	wg.Wait()
}

// forwardControl returns a gorilla control-frame handler that relays the
// frame to dst as-is instead of gorilla's default local auto-response.
func forwardControl(dst *websocket.Conn, messageType int) func(string) error {
	return func(appData string) error {
		return dst.WriteControl(messageType, []byte(appData), deadlineNow())
	}
}

// forward reads frames from src and writes them to dst until either side
// closes or errors, backpressured by awaiting each write before the next
// read (§4.6). Ping/pong/close control frames are proxied as-is; a
// protocol violation surfaces to the peer as close code 1002.
func forward(p *Proxy, dst, src *websocket.Conn) {
	for {
		mt, data, err := src.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				_ = dst.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(ce.Code, ce.Text), deadlineNow())
			} else {
				_ = dst.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseProtocolError, ""), deadlineNow())
			}
			return
		}
		if err := dst.WriteMessage(mt, data); err != nil {
			return
		}
	}
}
