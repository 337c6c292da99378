package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// newDialer returns a dialer going direct or through a socks5:// proxy.
func newDialer(proxyURL string, timeout time.Duration) (dialFunc, error) {
	direct := &net.Dialer{Timeout: timeout}
	if proxyURL == "" {
		return direct.DialContext, nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("proxy_url: %v", err)
	}
	d, err := proxy.FromURL(u, direct)
	if err != nil {
		return nil, fmt.Errorf("proxy_url: %v", err)
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		return d.Dial(network, address)
	}, nil
}
