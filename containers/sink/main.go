package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/refractionPOINT/syslog-generator/sink"
	"github.com/refractionPOINT/syslog-generator/utils"
	"github.com/rs/zerolog"
)

var logger = zerolog.New(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: time.Stamp,
}).With().Timestamp().Logger()

func main() {
	mode := flag.String("mode", "udp", "udp or tcp")
	iface := flag.String("iface", "", "interface address to listen on")
	port := flag.Uint("port", 514, "port to listen on")
	certPath := flag.String("tls-cert", "", "tls certificate, enables tls on tcp")
	keyPath := flag.String("tls-key", "", "tls private key")
	selfSigned := flag.String("self-signed", "", "generate a self-signed certificate for this host and enable tls")
	maxFrame := flag.Int("max-frame", 0, "largest accepted tcp frame, 0 for unlimited")
	printMsgs := flag.Bool("print", false, "print every received message")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *mode != "udp" && *mode != "tcp" {
		logger.Fatal().Str("mode", *mode).Msg("mode must be udp or tcp")
	}
	if *port > 65535 {
		logger.Fatal().Uint("port", *port).Msg("invalid port")
	}

	if *selfSigned != "" {
		dir, err := os.MkdirTemp("", "syslog-sink")
		if err != nil {
			logger.Fatal().Err(err).Msg("os.MkdirTemp()")
		}
		defer os.RemoveAll(dir)
		if *certPath, *keyPath, err = sink.WriteSelfSigned(dir, *selfSigned); err != nil {
			logger.Fatal().Err(err).Msg("WriteSelfSigned()")
		}
		logger.Info().Str("cert", *certPath).Msg("self-signed certificate written, use it as the generator trust store")
	}

	var onMessage func([]byte)
	if *printMsgs {
		onMessage = func(msg []byte) {
			fmt.Println(string(msg))
		}
	}

	s, chStopped, err := sink.NewSink(sink.SinkConfig{
		LogOptions: utils.LogOptions{
			DebugLog: func(msg string) {
				logger.Debug().Msg(msg)
			},
			OnWarning: func(msg string) {
				logger.Warn().Msg(msg)
			},
			OnError: func(err error) {
				logger.Error().Err(err).Send()
			},
		},
		Interface:    *iface,
		Port:         uint16(*port),
		IsUDP:        *mode == "udp",
		SslCertPath:  *certPath,
		SslKeyPath:   *keyPath,
		MaxFrameSize: *maxFrame,
	}, onMessage)
	if err != nil {
		logger.Fatal().Err(err).Msg("NewSink()")
	}
	logger.Info().Str("mode", *mode).Str("addr", s.Addr().String()).Msg("listening")

	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var lastMessages, lastBytes uint64
	for {
		select {
		case <-osSignals:
			logger.Info().Msg("received signal to exit")
			s.Close()
			<-chStopped
			logger.Info().Uint64("messages", s.Messages()).Uint64("bytes", s.Bytes()).Msg("exited")
			return
		case <-chStopped:
			logger.Error().Msg("sink stopped")
			os.Exit(1)
		case <-ticker.C:
			m, b := s.Messages(), s.Bytes()
			if m != lastMessages {
				logger.Info().
					Uint64("messages", m).
					Uint64("per_sec", m-lastMessages).
					Uint64("bytes_per_sec", b-lastBytes).
					Msg("received")
			}
			lastMessages, lastBytes = m, b
		}
	}
}
