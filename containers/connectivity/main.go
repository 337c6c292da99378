package main

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/refractionPOINT/syslog-generator/transport"
	"golang.org/x/net/proxy"
)

type target struct {
	host       string
	port       int
	timeout    time.Duration
	proxyURL   string
	serverName string
}

func main() {
	host := flag.String("host", "", "syslog receiver host")
	port := flag.Int("port", 514, "syslog receiver port")
	useTLS := flag.Bool("tls", false, "check the tls handshake")
	trustStore := flag.String("trust-store", "", "PEM or PKCS#12 trust store used to verify the receiver")
	password := flag.String("trust-store-password", "", "PKCS#12 trust store password")
	serverName := flag.String("server-name", "", "override the tls server name")
	proxyURL := flag.String("proxy", "", "socks5 proxy url")
	timeout := flag.Duration("timeout", 5*time.Second, "connect timeout")
	flag.Parse()

	if *host == "" {
		fmt.Fprintln(os.Stderr, "usage: connectivity --host <host> [--port 514] [--tls --trust-store <path>] [--proxy socks5://...]")
		os.Exit(2)
	}
	t := target{
		host:       *host,
		port:       *port,
		timeout:    *timeout,
		proxyURL:   *proxyURL,
		serverName: *serverName,
	}
	if t.serverName == "" {
		t.serverName = t.host
	}
	addr := net.JoinHostPort(t.host, strconv.Itoa(t.port))
	fmt.Printf("target: %s\n", addr)

	ok := true
	if t.proxyURL == "" {
		// Through a proxy the name is resolved remotely.
		recs, err := net.LookupIP(t.host)
		if err != nil {
			fmt.Printf("!!    failed looking up %q: %v\n", t.host, err)
			os.Exit(1)
		}
		if len(recs) == 0 {
			fmt.Printf("!!    no IPs for %q\n", t.host)
			os.Exit(1)
		}
		fmt.Printf("\nHOST %q: ", t.host)
		for _, rec := range recs {
			fmt.Printf("%v  ", rec)
		}
		fmt.Printf("\n---------------------------------\n")
	}

	if err := testTCPConnect(t, addr); err != nil {
		fmt.Printf("!!    failed TCP connect to %s: %v\n", addr, err)
		os.Exit(1)
	}
	fmt.Printf("OK    TCP connect to %s succeeded\n", addr)

	if !*useTLS {
		return
	}

	certs, err := testSSLConnect(t, addr, false, nil)
	if err != nil {
		fmt.Printf("!!    failed SSL connect to %s: %v\n", addr, err)
		os.Exit(1)
	}
	fmt.Printf("OK    SSL connect to %s succeeded\n", addr)
	if len(certs) == 0 {
		fmt.Printf("!!    no SSL certificates from %s\n", addr)
		os.Exit(1)
	}
	for _, cert := range certs {
		fingerprint := sha256.Sum256(cert.Raw)
		fmt.Printf("OK    SSL certificate %q: %s\n", cert.Subject.CommonName, hex.EncodeToString(fingerprint[:]))
	}

	var pool *x509.CertPool
	if *trustStore != "" {
		if pool, err = transport.LoadTrustStore(*trustStore, *password); err != nil {
			fmt.Printf("!!    failed loading trust store %q: %v\n", *trustStore, err)
			os.Exit(1)
		}
	} else {
		fmt.Printf("??    no trust store given, verifying against system roots\n")
	}
	if _, err := testSSLConnect(t, addr, true, pool); err != nil {
		fmt.Printf("!!    failed SSL verify %s: %v\n", addr, err)
		ok = false
	} else {
		fmt.Printf("OK    SSL connect to %s verified as %q\n", addr, t.serverName)
	}
	if !ok {
		os.Exit(1)
	}
}

func dial(t target, addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: t.timeout}
	if t.proxyURL == "" {
		return d.Dial("tcp", addr)
	}
	u, err := url.Parse(t.proxyURL)
	if err != nil {
		return nil, err
	}
	p, err := proxy.FromURL(u, d)
	if err != nil {
		return nil, err
	}
	return p.Dial("tcp", addr)
}

func testTCPConnect(t target, addr string) error {
	c, err := dial(t, addr)
	if err != nil {
		return err
	}
	defer c.Close()
	return nil
}

// A nil pool verifies against the system roots.
func testSSLConnect(t target, addr string, isVerify bool, pool *x509.CertPool) ([]*x509.Certificate, error) {
	raw, err := dial(t, addr)
	if err != nil {
		return nil, err
	}
	c := tls.Client(raw, &tls.Config{
		ServerName:         t.serverName,
		RootCAs:            pool,
		InsecureSkipVerify: !isVerify,
	})
	defer c.Close()
	c.SetDeadline(time.Now().Add(t.timeout))
	if err := c.Handshake(); err != nil {
		return nil, err
	}
	return c.ConnectionState().PeerCertificates, nil
}
