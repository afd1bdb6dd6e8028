package fetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	tls "github.com/refraction-networking/utls"
)

const maxRedirects = 10

// DialControl matches net.Dialer.Control. It runs after DNS resolution with
// the concrete address about to be connected.
type DialControl func(network, address string, c syscall.RawConn) error

var (
	chromeSpecOnce sync.Once
	chromeSpec     *tls.ClientHelloSpec
)

// chromeH1Spec returns a Chrome ClientHello with ALPN restricted to
// http/1.1, since net/http cannot speak h2 over a utls connection.
func chromeH1Spec() *tls.ClientHelloSpec {
	chromeSpecOnce.Do(func() {
		spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
		if err != nil {
			return
		}
		for i, ext := range spec.Extensions {
			if alpn, ok := ext.(*tls.ALPNExtension); ok {
				alpn.AlpnProtocols = []string{"http/1.1"}
				spec.Extensions[i] = alpn
				break
			}
		}
		chromeSpec = &spec
	})
	return chromeSpec
}

func newTransport(chromeTLS bool, control DialControl) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   control,
	}
	t := &http.Transport{
		// Proxies are never used: the dial guard must see the target address.
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     !chromeTLS,
	}
	if chromeTLS && chromeH1Spec() != nil {
		t.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
			if err := tlsConn.ApplyPreset(chromeH1Spec()); err != nil {
				conn.Close()
				return nil, fmt.Errorf("fetcher: apply tls spec: %w", err)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		}
	}
	return t
}

func newClient(chromeTLS bool, control DialControl) *http.Client {
	return &http.Client{
		Transport:     newTransport(chromeTLS, control),
		CheckRedirect: checkRedirect,
	}
}

// redirectError is a redirect refused by policy. It is never retried.
type redirectError struct{ reason string }

func (e *redirectError) Error() string { return e.reason }

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return &redirectError{reason: fmt.Sprintf("stopped after %d redirects", maxRedirects)}
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return &redirectError{reason: fmt.Sprintf("redirect to unsupported scheme %q", req.URL.Scheme)}
	}
	return nil
}
