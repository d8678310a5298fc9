package main

import (
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Client is one connected websocket peer. Text frames it sends are queued
// as recording commands; everything pushed to send goes out as JSON.
type Client struct {
	conn *websocket.Conn
	send chan interface{}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		switch v := msg.(type) {
		case []byte:
			if err := c.conn.WriteMessage(websocket.TextMessage, v); err != nil {
				return
			}
		default:
			if err := c.conn.WriteJSON(v); err != nil {
				return
			}
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// CommandServer accepts recording commands over websockets and fans
// monitor broadcasts back out. Commands queue up in a bounded channel the
// control loop drains one per tick; overflow is dropped with a log line,
// never blocking a client read.
type CommandServer struct {
	addr     string
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*Client]bool

	commands chan string
	httpSrv  *http.Server
}

func NewCommandServer(port int, gatherer prometheus.Gatherer) *CommandServer {
	s := &CommandServer{
		addr: fmt.Sprintf(":%d", port),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients:  make(map[*Client]bool),
		commands: make(chan string, 64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	s.httpSrv = &http.Server{Addr: s.addr, Handler: mux}
	return s
}

// Run serves until Close. It returns http.ErrServerClosed on a clean
// shutdown.
func (s *CommandServer) Run() error {
	log.Printf("[server] listening on %s", s.addr)
	return s.httpSrv.ListenAndServe()
}

func (s *CommandServer) Close() error {
	return s.httpSrv.Close()
}

func (s *CommandServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade:", err)
		return
	}
	log.Println("Client connected")

	client := &Client{conn: conn, send: make(chan interface{}, 256)}
	s.clientsMu.Lock()
	s.clients[client] = true
	s.clientsMu.Unlock()

	go client.writePump()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client)
		s.clientsMu.Unlock()
		close(client.send)
		log.Println("Client disconnected")
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.Submit(string(msg))
	}
}

// Submit queues one command string for the control loop. Commands beyond
// the queue capacity are dropped.
func (s *CommandServer) Submit(command string) {
	select {
	case s.commands <- command:
	default:
		log.Printf("[server] command queue full, dropping %q", command)
	}
}

// PopCommand takes the oldest queued command without blocking.
func (s *CommandServer) PopCommand() (string, bool) {
	select {
	case cmd := <-s.commands:
		return cmd, true
	default:
		return "", false
	}
}

// BroadcastJSON pushes msg to every connected client, skipping any whose
// send queue is full.
func (s *CommandServer) BroadcastJSON(msg interface{}) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for client := range s.clients {
		select {
		case client.send <- msg:
		default:
		}
	}
}
