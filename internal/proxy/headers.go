package proxy

import (
	"net/http"
	"net/textproto"
	"strings"
)

// hopByHopHeaders are stripped from every forwarded request/response per
// §4.6 and the GLOSSARY's "Header defined to apply only on the single
// link it arrives over".
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// stripHopByHopHeaders removes the fixed hop-by-hop set from h, plus any
// header named in a Connection header (per RFC 7230 §6.1), and returns
// the mutated header for convenience.
func stripHopByHopHeaders(h http.Header) http.Header {
	for _, extra := range strings.Split(h.Get("Connection"), ",") {
		name := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(extra))
		if name != "" {
			h.Del(name)
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
	return h
}

// isWebSocketUpgrade classifies a request per §4.6: Upgrade: websocket,
// Connection mentioning upgrade, version 13, and a key present.
func isWebSocketUpgrade(r *http.Request) bool {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	if !connectionHasToken(r.Header.Get("Connection"), "upgrade") {
		return false
	}
	if r.Header.Get("Sec-WebSocket-Version") != "13" {
		return false
	}
	return strings.TrimSpace(r.Header.Get("Sec-WebSocket-Key")) != ""
}

func connectionHasToken(header, token string) bool {
	for _, part := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
