// Package main implements fakehub, a small stand-in for the console's event
// stream server. It authenticates /ws connections by token, broadcasts
// anything POSTed to /publish to every connected client, and can drop
// connections on a timer to exercise client reconnection.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

var (
	flagAddr      = flag.String("addr", "127.0.0.1:18080", "listen address")
	flagTokens    = flag.String("tokens", "", "comma-separated accepted tokens (empty accepts any non-empty token)")
	flagEcho      = flag.Bool("echo", false, "rebroadcast well-formed client envelopes to every client")
	flagDropAfter = flag.Duration("drop-after", 0, "close each stream connection after this long (0 disables)")
	flagOutDepth  = flag.Int("out-depth", defaultOutSize, "per-connection outbound queue depth")
	flagLogConn   = flag.Bool("log-conn", true, "log connect/disconnect events")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var tokens []string
	if *flagTokens != "" {
		tokens = strings.Split(*flagTokens, ",")
	}

	h := newHub(*flagOutDepth, *flagEcho, *flagDropAfter, *flagLogConn)
	srv := &http.Server{
		Handler:           newServer(h, tokens).routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", *flagAddr)
	if err != nil {
		log.Fatalf("fakehub: listen %s: %v", *flagAddr, err)
	}
	log.Printf("fakehub: listening on %s", listener.Addr())

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("fakehub: serve: %v", err)
			os.Exit(1)
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Printf("fakehub: stopped after %d connections, %d publishes", h.accepted.Load(), h.published.Load())
}
