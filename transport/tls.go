package transport

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"software.sslmate.com/src/go-pkcs12"
)

func buildTLSConfig(conf TLSConfig, host string) (*tls.Config, error) {
	pool, err := LoadTrustStore(conf.TrustStorePath, conf.TrustStorePassword)
	if err != nil {
		return nil, err
	}
	serverName := conf.ServerName
	if serverName == "" {
		serverName = host
	}
	return &tls.Config{
		RootCAs:    pool,
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// LoadTrustStore reads the certificates servers are verified against. The
// file is either a PEM bundle or a PKCS#12 archive, a Java-style trust
// store or a regular certificate chain. Without a path the system pool is
// used.
func LoadTrustStore(path string, password string) (*x509.CertPool, error) {
	if path == "" {
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("x509.SystemCertPool(): %v", err)
		}
		return pool, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("trust store: %v", err)
	}

	pool := x509.NewCertPool()
	if block, _ := pem.Decode(bytes.TrimSpace(data)); block != nil {
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("trust store %s: no certificates found", path)
		}
		return pool, nil
	}

	certs, err := pkcs12.DecodeTrustStore(data, password)
	if err != nil {
		_, cert, caCerts, chainErr := pkcs12.DecodeChain(data, password)
		if chainErr != nil {
			return nil, fmt.Errorf("trust store %s: %v", path, errors.Join(err, chainErr))
		}
		certs = append([]*x509.Certificate{cert}, caCerts...)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("trust store %s: no certificates found", path)
	}
	for _, c := range certs {
		pool.AddCert(c)
	}
	return pool, nil
}
