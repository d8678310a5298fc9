// Command client sends one recording command to a running spectrod and
// prints whatever the daemon broadcasts for a short while afterwards.
//
//	client -addr localhost:8080 "record=on:ExpA:Cygnus:scan1"
package main

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "spectrod host:port")
	listenFor := flag.Duration("listen", 3*time.Second, "How long to print broadcasts before exiting")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [options] <command>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	command := flag.Arg(0)

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("dial %s: %v", u.String(), err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(command)); err != nil {
		log.Fatalf("send: %v", err)
	}
	log.Printf("sent %q", command)

	conn.SetReadDeadline(time.Now().Add(*listenFor))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		fmt.Println(string(msg))
	}
}
