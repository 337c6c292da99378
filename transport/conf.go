package transport

import (
	"time"

	"github.com/refractionPOINT/syslog-generator/utils"
)

const (
	PacingBurst  = "burst"
	PacingSmooth = "smooth"
)

type TransportConfig struct {
	LogOptions     utils.LogOptions `json:"-" yaml:"-"`
	Host           string           `json:"host" yaml:"host"`
	Port           uint16           `json:"port" yaml:"port"`
	EPS            uint32           `json:"eps" yaml:"eps"`
	SendBufferSize int              `json:"send_buffer_size" yaml:"send_buffer_size"`
	SendEncoding   string           `json:"send_encoding" yaml:"send_encoding"`
	Pacing         string           `json:"pacing" yaml:"pacing"`
	WriteTimeout   time.Duration    `json:"-" yaml:"-"`
	ConnectTimeout time.Duration    `json:"-" yaml:"-"`

	// TCP only.
	TLS              TLSConfig `json:"tls" yaml:"tls"`
	ProxyURL         string    `json:"proxy_url" yaml:"proxy_url"`
	DisableReconnect bool      `json:"disable_reconnect" yaml:"disable_reconnect"`
}

type TLSConfig struct {
	Enabled            bool   `json:"enabled" yaml:"enabled"`
	TrustStorePath     string `json:"trust_store_path" yaml:"trust_store_path"`
	TrustStorePassword string `json:"trust_store_password" yaml:"trust_store_password"`
	// ServerName overrides the name verified against the server
	// certificate, defaults to the host.
	ServerName string `json:"server_name" yaml:"server_name"`
}
