// Package proxy implements C6: classify each inbound function-host
// request, resolve its target via the router, and forward HTTP or
// duplex-proxy WebSocket traffic to it (§4.6).
package proxy

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/agentsh/yfass/internal/router"
)

// Proxy demultiplexes function-host traffic by hostname prefix.
type Proxy struct {
	router *router.Router
	log    *slog.Logger
}

func New(rt *router.Router, log *slog.Logger) *Proxy {
	if log == nil {
		log = slog.Default()
	}
	return &Proxy{router: rt, log: log.With("component", "proxy")}
}

// ServeHTTP is the entrypoint mounted for all function virtual hosts.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	prefix, ok := router.PrefixFromHost(r.Host)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	target, ok := p.router.Lookup(prefix)
	if !ok {
		// For a WS upgrade this refuses before the handshake completes,
		// matching §4.5's "closes the upgrade" for a missing route.
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if isWebSocketUpgrade(r) {
		p.proxyWebSocket(w, r, target.Addr)
		return
	}
	p.proxyHTTP(w, r, target.Addr)
}

func (p *Proxy) proxyHTTP(w http.ResponseWriter, r *http.Request, addr string) {
	targetURL := &url.URL{Scheme: "http", Host: addr}
	rp := httputil.NewSingleHostReverseProxy(targetURL)

	origDirector := rp.Director
	rp.Director = func(req *http.Request) {
		origDirector(req)
		stripHopByHopHeaders(req.Header)
		req.Host = addr
	}
	rp.ModifyResponse = func(resp *http.Response) error {
		stripHopByHopHeaders(resp.Header)
		return nil
	}
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		p.log.Warn("upstream error", "addr", addr, "path", r.URL.Path, "error", err)
		// httputil.ReverseProxy only invokes ErrorHandler for errors
		// that occur before or during the response is written; once
		// headers are flushed to the client Go has already committed a
		// 200, so this always safely maps to 502 per §4.6.
		w.WriteHeader(http.StatusBadGateway)
	}
	rp.ServeHTTP(w, r)
}
