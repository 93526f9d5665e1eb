package pool

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// Protocol identifies the transport capability negotiated for a connection.
type Protocol string

const (
	ProtocolHTTP1 Protocol = "http/1.1"
	ProtocolHTTP2 Protocol = "h2"
)

// Transport is the capability a pooled connection carries. The protocol is
// chosen once at connection creation and never re-checked per request.
type Transport interface {
	RoundTrip(req *http.Request) (*http.Response, error)
	Protocol() Protocol
	Close()
}

type http1Transport struct {
	transport *http.Transport
}

func (t *http1Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.transport.RoundTrip(req)
}

func (t *http1Transport) Protocol() Protocol { return ProtocolHTTP1 }

func (t *http1Transport) Close() { t.transport.CloseIdleConnections() }

type http2Transport struct {
	transport *http2.Transport
}

func (t *http2Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.transport.RoundTrip(req)
}

func (t *http2Transport) Protocol() Protocol { return ProtocolHTTP2 }

func (t *http2Transport) Close() { t.transport.CloseIdleConnections() }

// newHTTP1Transport builds a keep-alive HTTP/1.1 agent for one host.
func newHTTP1Transport(insecureSkipVerify bool) Transport {
	return &http1Transport{transport: &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConnsPerHost:   1,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     false,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{InsecureSkipVerify: insecureSkipVerify}, // #nosec G402 -- test endpoints only
	}}
}

func newHTTP2Transport(insecureSkipVerify bool) Transport {
	return &http2Transport{transport: &http2.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: insecureSkipVerify}, // #nosec G402 -- test endpoints only
	}}
}

// negotiateALPN probes the host with a TLS handshake advertising h2 and
// reports whether the server selected it. The probe connection is discarded;
// the chosen transport redials with its own pooling.
func negotiateALPN(host string, insecureSkipVerify bool, timeout time.Duration) (bool, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", host, &tls.Config{
		NextProtos:         []string{"h2", "http/1.1"},
		InsecureSkipVerify: insecureSkipVerify, // #nosec G402 -- test endpoints only
	})
	if err != nil {
		return false, err
	}
	negotiated := conn.ConnectionState().NegotiatedProtocol == "h2"
	_ = conn.Close()
	return negotiated, nil
}
