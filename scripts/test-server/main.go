// Command test-server runs a minimal RESP server for trying fanout locally
// without a real Redis.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wesleyorama2/fanout/internal/resp"
	"github.com/wesleyorama2/fanout/internal/resptest"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6379", "listen address")
	delay := flag.Duration("delay", 0, "artificial latency added to every reply")
	flag.Parse()

	handler := resptest.PingEcho
	if *delay > 0 {
		handler = func(args []string) resp.Reply {
			time.Sleep(*delay)
			return resptest.PingEcho(args)
		}
	}

	srv, err := resptest.Listen(*addr, handler)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("RESP test server listening on %s (delay %v)", srv.Addr, *delay)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	srv.Close()
	log.Printf("served %d commands over %d connections", srv.Commands(), srv.Connections())
}
