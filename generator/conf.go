package generator

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/refractionPOINT/syslog-generator/codepage"
	"github.com/refractionPOINT/syslog-generator/source"
	"github.com/refractionPOINT/syslog-generator/staging"
	"github.com/refractionPOINT/syslog-generator/transport"
	"github.com/refractionPOINT/syslog-generator/utils"
)

const (
	ModeUDP = "UDP"
	ModeTCP = "TCP"

	defaultSendBufferSize    = 65535
	defaultConnectTimeoutSec = 10
	defaultReportIntervalSec = 10
	defaultSenderCount       = 1
)

var ErrInvalidConfig = errors.New("invalid config")

type GeneratorConfig struct {
	LogOptions utils.LogOptions `json:"-" yaml:"-"`

	Mode           string `json:"mode" yaml:"mode"`
	Host           string `json:"host" yaml:"host"`
	Port           uint16 `json:"port" yaml:"port"`
	EPS            uint32 `json:"eps" yaml:"eps"`
	SenderCount    uint32 `json:"sender_count" yaml:"sender_count"`
	Partition      uint32 `json:"partition,omitempty" yaml:"partition,omitempty"`
	FilePath       string `json:"file_path" yaml:"file_path"`
	SendBufferSize int    `json:"send_buffer_size" yaml:"send_buffer_size"`
	FileEncoding   string `json:"file_encoding" yaml:"file_encoding"`
	SendEncoding   string `json:"send_encoding" yaml:"send_encoding"`
	Count          uint64 `json:"count" yaml:"count"`

	TLS               transport.TLSConfig `json:"tls" yaml:"tls"`
	ProxyURL          string              `json:"proxy_url" yaml:"proxy_url"`
	DisableReconnect  bool                `json:"disable_reconnect" yaml:"disable_reconnect"`
	Pacing            string              `json:"pacing" yaml:"pacing"`
	WriteTimeoutMs    uint32              `json:"write_timeout_ms" yaml:"write_timeout_ms"`
	ConnectTimeoutSec uint32              `json:"connect_timeout_sec" yaml:"connect_timeout_sec"`

	StateFile      string `json:"state_file" yaml:"state_file"`
	DisableWatcher bool   `json:"disable_watcher" yaml:"disable_watcher"`

	StagingDir     string `json:"staging_dir" yaml:"staging_dir"`
	AWSAccessKey   string `json:"aws_access_key" yaml:"aws_access_key"`
	AWSSecretKey   string `json:"aws_secret_key" yaml:"aws_secret_key"`
	GCSCredentials string `json:"gcs_credentials" yaml:"gcs_credentials"`

	MaxConcurrentTicks int    `json:"max_concurrent_ticks" yaml:"max_concurrent_ticks"`
	ReportIntervalSec  uint32 `json:"report_interval_sec" yaml:"report_interval_sec"`
	Healthcheck        int    `json:"healthcheck" yaml:"healthcheck"`
	LogLevel           string `json:"log_level" yaml:"log_level"`
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate applies defaults and checks the configuration. It must be called
// before the config is used, NewGenerator does so.
func (c *GeneratorConfig) Validate() error {
	c.Mode = strings.ToUpper(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = ModeUDP
	}
	if c.Mode != ModeUDP && c.Mode != ModeTCP {
		return invalid("mode must be UDP or TCP, got %q", c.Mode)
	}
	if c.Host == "" {
		return invalid("host missing")
	}
	if c.Port == 0 {
		return invalid("port missing")
	}
	if c.EPS == 0 {
		return invalid("eps must be greater than 0")
	}
	if c.SenderCount == 0 {
		c.SenderCount = c.Partition
	}
	if c.SenderCount == 0 {
		c.SenderCount = defaultSenderCount
	}
	if c.FilePath == "" {
		return invalid("file_path missing")
	}
	if c.SendBufferSize == 0 {
		c.SendBufferSize = defaultSendBufferSize
	}
	if c.SendBufferSize < 0 {
		return invalid("send_buffer_size must be positive")
	}
	if c.FileEncoding == "" {
		c.FileEncoding = codepage.DefaultCodePage
	}
	if c.SendEncoding == "" {
		c.SendEncoding = codepage.DefaultCodePage
	}
	if _, err := codepage.Resolve(c.FileEncoding); err != nil {
		return invalid("file_encoding: %v", err)
	}
	if _, err := codepage.Resolve(c.SendEncoding); err != nil {
		return invalid("send_encoding: %v", err)
	}

	if c.Mode == ModeUDP {
		if c.TLS.Enabled {
			return invalid("tls cannot be enabled for udp")
		}
		if c.ProxyURL != "" {
			return invalid("proxy_url cannot be used with udp")
		}
	}
	if c.ProxyURL != "" {
		u, err := url.Parse(c.ProxyURL)
		if err != nil {
			return invalid("proxy_url: %v", err)
		}
		if u.Scheme != "socks5" && u.Scheme != "socks5h" {
			return invalid("proxy_url: unsupported scheme %q", u.Scheme)
		}
	}

	c.Pacing = strings.ToLower(strings.TrimSpace(c.Pacing))
	if c.Pacing == "" {
		c.Pacing = transport.PacingBurst
	}
	if c.Pacing != transport.PacingBurst && c.Pacing != transport.PacingSmooth {
		return invalid("pacing must be %s or %s, got %q", transport.PacingBurst, transport.PacingSmooth, c.Pacing)
	}
	if c.ConnectTimeoutSec == 0 {
		c.ConnectTimeoutSec = defaultConnectTimeoutSec
	}
	if c.ReportIntervalSec == 0 {
		c.ReportIntervalSec = defaultReportIntervalSec
	}
	if c.MaxConcurrentTicks < 0 {
		return invalid("max_concurrent_ticks must be positive")
	}
	return nil
}

func (c *GeneratorConfig) transportConfig() transport.TransportConfig {
	return transport.TransportConfig{
		LogOptions:       c.LogOptions,
		Host:             c.Host,
		Port:             c.Port,
		EPS:              c.EPS,
		SendBufferSize:   c.SendBufferSize,
		SendEncoding:     c.SendEncoding,
		Pacing:           c.Pacing,
		WriteTimeout:     time.Duration(c.WriteTimeoutMs) * time.Millisecond,
		ConnectTimeout:   time.Duration(c.ConnectTimeoutSec) * time.Second,
		TLS:              c.TLS,
		ProxyURL:         c.ProxyURL,
		DisableReconnect: c.DisableReconnect,
	}
}

func (c *GeneratorConfig) sourceConfig(localPath string) source.FileSourceConfig {
	sc := source.FileSourceConfig{
		LogOptions:     c.LogOptions,
		FilePath:       localPath,
		EPS:            c.EPS,
		Count:          c.Count,
		FileEncoding:   c.FileEncoding,
		StateFile:      c.StateFile,
		DisableWatcher: c.DisableWatcher,
	}
	// Staged copies get a new name every run, the checkpoint follows the URL.
	if staging.IsRemote(c.FilePath) {
		sc.CheckpointKey = c.FilePath
	}
	return sc
}

func (c *GeneratorConfig) stagingConfig() staging.StagingConfig {
	return staging.StagingConfig{
		LogOptions:     c.LogOptions,
		Dir:            c.StagingDir,
		AWSAccessKey:   c.AWSAccessKey,
		AWSSecretKey:   c.AWSSecretKey,
		GCSCredentials: c.GCSCredentials,
	}
}
