package agent

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// EgressDialer routes the control-channel dial through a socks5 or
// http connect proxy. agents on locked-down networks often have no
// direct egress path to the relay.
type EgressDialer struct {
	proxyURL *url.URL
	timeout  time.Duration
}

// NewEgressDialer parses the proxy url and returns a dialer.
// supported schemes: socks5, socks5h, http, https.
func NewEgressDialer(rawURL string, timeout time.Duration) (*EgressDialer, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing egress proxy url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "socks5", "socks5h", "http", "https":
	default:
		return nil, fmt.Errorf("unsupported egress proxy scheme: %s", u.Scheme)
	}
	return &EgressDialer{proxyURL: u, timeout: timeout}, nil
}

// DialContext establishes a connection to addr through the proxy.
func (d *EgressDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if strings.HasPrefix(strings.ToLower(d.proxyURL.Scheme), "socks5") {
		return d._dial_socks5(ctx, network, addr)
	}
	return d._dial_connect(ctx, addr)
}

// _dial_socks5 connects through a socks5 proxy with optional authentication.
func (d *EgressDialer) _dial_socks5(ctx context.Context, network, addr string) (net.Conn, error) {
	var auth *proxy.Auth
	if d.proxyURL.User != nil {
		password, _ := d.proxyURL.User.Password()
		auth = &proxy.Auth{User: d.proxyURL.User.Username(), Password: password}
	}

	dialer, err := proxy.SOCKS5("tcp", d.proxyURL.Host, auth, &net.Dialer{Timeout: d.timeout})
	if err != nil {
		return nil, fmt.Errorf("creating socks5 dialer: %w", err)
	}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, addr)
	}
	return dialer.Dial(network, addr)
}

// _dial_connect tunnels through an http proxy with a connect request.
func (d *EgressDialer) _dial_connect(ctx context.Context, addr string) (net.Conn, error) {
	host := d.proxyURL.Host
	if !strings.Contains(host, ":") {
		if d.proxyURL.Scheme == "https" {
			host += ":443"
		} else {
			host += ":80"
		}
	}

	dialer := &net.Dialer{Timeout: d.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("connecting to egress proxy: %w", err)
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if d.proxyURL.User != nil {
		password, _ := d.proxyURL.User.Password()
		creds := base64.StdEncoding.EncodeToString([]byte(d.proxyURL.User.Username() + ":" + password))
		req.Header.Set("Proxy-Authorization", "Basic "+creds)
	}

	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending connect request: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading connect response: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("egress proxy refused connect: %s", resp.Status)
	}
	return conn, nil
}
