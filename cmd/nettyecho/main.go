// Command nettyecho is a runnable demonstration of the framed RPC
// transport: a gateway serving one echo service, and a bridge that
// discovers it, calls it, and prints the round trip. It exists to exercise
// bridge, gateway, trace, service, and router end-to-end over a real
// net.Conn pipe, not as a production server.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rasata/nettybridge/bridge"
	"github.com/rasata/nettybridge/gateway"
	"github.com/rasata/nettybridge/router"
	"github.com/rasata/nettybridge/service"
	"github.com/rasata/nettybridge/trace"
)

const echoProtocol = `{"protocol":"nettyecho.Echo","messages":{"echo":{"request":[],"response":"bytes"}}}`

func main() {
	cfgPath := flag.String("config", "", "path to a nettyecho.toml config file")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("app", "nettyecho").Logger()

	echoSvc := service.New(echoProtocol)
	r := router.NewStaticRouter(func(tr trace.Trace, req []byte) ([]byte, error) {
		return append([]byte("echo: "), req...), nil
	}, echoSvc)

	gw := gateway.New(r)
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("listen failed")
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("listening")

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go gw.Accept(conn)
		}
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		log.Fatal().Err(err).Msg("dial failed")
	}

	b := bridge.New(conn, echoSvc, bridge.Options{Timeout: cfg.DiscoveryTimeout})

	correlationID := uuid.New().String()
	// no deadline set here: bridge.Options.Timeout above supplies it.
	discTrace := trace.New(map[string]any{
		"correlation_id": correlationID,
	})

	done := make(chan struct{})
	b.Ping(discTrace, service.Discovery, func(protocols []string, err error) {
		defer close(done)
		if err != nil {
			log.Error().Err(err).Msg("discovery failed")
			return
		}
		log.Info().Strs("protocols", protocols).Msg("discovered services")

		callTrace := trace.NewWithDeadline(time.Now().Add(5*time.Second), map[string]any{
			"correlation_id": correlationID,
		})
		b.Call(callTrace, []byte("hello"), func(resp []byte, err error) {
			if err != nil {
				log.Error().Err(err).Msg("call failed")
				return
			}
			log.Info().Str("response", string(resp)).Msg("call succeeded")
		})
	})
	<-done

	time.Sleep(100 * time.Millisecond)
	b.Close()
}
