// Package sink is a syslog receiver used to observe what the generator
// sends. TCP streams are expected to be octet-count framed.
package sink

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/refractionPOINT/syslog-generator/framing"
	"github.com/refractionPOINT/syslog-generator/utils"
)

const (
	udpBufferSize  = 64 * 1024
	readBufferSize = 16 * 1024
)

type SinkConfig struct {
	LogOptions   utils.LogOptions `json:"-" yaml:"-"`
	Interface    string           `json:"iface" yaml:"iface"`
	Port         uint16           `json:"port" yaml:"port"`
	IsUDP        bool             `json:"is_udp" yaml:"is_udp"`
	SslCertPath  string           `json:"ssl_cert" yaml:"ssl_cert"`
	SslKeyPath   string           `json:"ssl_key" yaml:"ssl_key"`
	MaxFrameSize int              `json:"max_frame_size" yaml:"max_frame_size"`
}

type Sink struct {
	conf        SinkConfig
	onMessage   func([]byte)
	listener    net.Listener
	udpListener *net.UDPConn
	connMutex   sync.Mutex
	conns       map[net.Conn]struct{}
	wg          sync.WaitGroup
	isRunning   uint32

	messages uint64
	bytes    uint64
}

// NewSink starts listening right away. onMessage, if set, is called for
// every received message from the connection's goroutine. The returned
// channel is closed once the sink stopped listening.
func NewSink(conf SinkConfig, onMessage func([]byte)) (*Sink, chan struct{}, error) {
	s := &Sink{
		conf:      conf,
		onMessage: onMessage,
		conns:     map[net.Conn]struct{}{},
		isRunning: 1,
	}

	if conf.IsUDP && (conf.SslCertPath != "" || conf.SslKeyPath != "") {
		return nil, nil, errors.New("ssl cannot be enabled for udp")
	}

	addr := net.JoinHostPort(conf.Interface, fmt.Sprintf("%d", conf.Port))
	var err error
	if conf.SslCertPath != "" && conf.SslKeyPath != "" {
		var cert tls.Certificate
		cert, err = tls.LoadX509KeyPair(conf.SslCertPath, conf.SslKeyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("error loading certificate with cert path '%s' and key path '%s': %s", conf.SslCertPath, conf.SslKeyPath, err)
		}
		s.listener, err = tls.Listen("tcp", addr, &tls.Config{
			Certificates: []tls.Certificate{cert},
		})
	} else if conf.IsUDP {
		var udpAddr *net.UDPAddr
		if udpAddr, err = net.ResolveUDPAddr("udp", addr); err != nil {
			return nil, nil, err
		}
		s.udpListener, err = net.ListenUDP("udp", udpAddr)
		if err == nil {
			s.udpListener.SetReadBuffer(udpBufferSize)
		}
	} else {
		s.listener, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, nil, err
	}

	chStopped := make(chan struct{})
	go func() {
		defer close(chStopped)
		if conf.IsUDP {
			s.handleDatagrams()
		} else {
			s.handleTCPConnections()
		}
		s.wg.Wait()
	}()

	return s, chStopped, nil
}

// Addr is the address the sink listens on.
func (s *Sink) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return s.udpListener.LocalAddr()
}

// Port is the port the sink listens on, useful when configured with 0.
func (s *Sink) Port() uint16 {
	switch a := s.Addr().(type) {
	case *net.TCPAddr:
		return uint16(a.Port)
	case *net.UDPAddr:
		return uint16(a.Port)
	}
	return 0
}

func (s *Sink) Messages() uint64 {
	return atomic.LoadUint64(&s.messages)
}

func (s *Sink) Bytes() uint64 {
	return atomic.LoadUint64(&s.bytes)
}

func (s *Sink) Close() error {
	s.conf.LogOptions.Debug("closing")
	atomic.StoreUint32(&s.isRunning, 0)
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	} else {
		err = s.udpListener.Close()
	}
	s.connMutex.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.connMutex.Unlock()
	return err
}

// CloseConnections drops every active TCP connection while still accepting
// new ones.
func (s *Sink) CloseConnections() {
	s.connMutex.Lock()
	defer s.connMutex.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

func (s *Sink) handleTCPConnections() {
	s.conf.LogOptions.Debug(fmt.Sprintf("listening for connections on %s", s.listener.Addr()))

	var err error

	defer func() {
		s.conf.LogOptions.Debug(fmt.Sprintf("stopped listening for connections on %s (%v)", s.listener.Addr(), err))
	}()

	for atomic.LoadUint32(&s.isRunning) == 1 {
		var conn net.Conn
		conn, err = s.listener.Accept()
		if err != nil {
			break
		}
		s.connMutex.Lock()
		if atomic.LoadUint32(&s.isRunning) == 0 {
			s.connMutex.Unlock()
			conn.Close()
			break
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.connMutex.Unlock()
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *Sink) handleConnection(conn net.Conn) {
	s.conf.LogOptions.Debug(fmt.Sprintf("handling new connection from %+v", conn.RemoteAddr()))
	defer func() {
		s.conf.LogOptions.Debug(fmt.Sprintf("connection from %+v leaving", conn.RemoteAddr()))
		s.connMutex.Lock()
		delete(s.conns, conn)
		s.connMutex.Unlock()
		conn.Close()
	}()

	d := framing.Decoder{
		MaxSize: s.conf.MaxFrameSize,
	}

	readBuffer := make([]byte, readBufferSize)
	for atomic.LoadUint32(&s.isRunning) == 1 {
		sizeRead, err := conn.Read(readBuffer)
		if sizeRead > 0 {
			frames, derr := d.Add(readBuffer[:sizeRead])
			for _, frame := range frames {
				s.handleMessage(frame)
			}
			if derr != nil {
				s.conf.LogOptions.Error(fmt.Errorf("framing from %v: %v", conn.RemoteAddr(), derr))
				return
			}
		}
		if err != nil {
			if err != io.EOF && atomic.LoadUint32(&s.isRunning) == 1 {
				s.conf.LogOptions.Warn(fmt.Sprintf("conn.Read(): %v", err))
			}
			return
		}
	}
}

func (s *Sink) handleDatagrams() {
	s.conf.LogOptions.Debug(fmt.Sprintf("listening for datagrams on %s", s.udpListener.LocalAddr()))
	readBuffer := make([]byte, udpBufferSize)
	for atomic.LoadUint32(&s.isRunning) == 1 {
		sizeRead, _, err := s.udpListener.ReadFromUDP(readBuffer)
		if err != nil {
			if atomic.LoadUint32(&s.isRunning) == 1 {
				s.conf.LogOptions.Warn(fmt.Sprintf("ReadFromUDP(): %v", err))
			}
			return
		}
		msg := make([]byte, sizeRead)
		copy(msg, readBuffer[:sizeRead])
		s.handleMessage(msg)
	}
}

func (s *Sink) handleMessage(msg []byte) {
	atomic.AddUint64(&s.messages, 1)
	atomic.AddUint64(&s.bytes, uint64(len(msg)))
	if s.onMessage != nil {
		s.onMessage(msg)
	}
}
