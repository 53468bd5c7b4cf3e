// Conversation Viewer - live view of avatar conversations
// Consumes the state and transcript topics and relays them to the browser
// over a WebSocket.
package main

import (
	"context"
	"embed"
	"encoding/json"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
)

//go:embed static/*
var staticFiles embed.FS

// envelope is what the browser receives.
type envelope struct {
	Topic     string          `json:"topic"`
	EventType string          `json:"eventType"`
	SessionID string          `json:"sessionId"`
	Event     json.RawMessage `json:"event"`
}

// Hub fans events out to every connected browser.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan envelope
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan envelope, 100),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("Client connected. Total: %d", n)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("Client disconnected. Total: %d", n)

		case event := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteJSON(event); err != nil {
					log.Printf("Write error: %v", err)
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev
	},
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade error: %v", err)
			return
		}
		hub.register <- conn

		// Keep connection alive, handle disconnects
		go func() {
			defer func() {
				hub.unregister <- conn
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

func consumeKafka(ctx context.Context, hub *Hub, brokers []string, topic string, since time.Duration) {
	// Partition reader without a consumer group; the service keys by session
	// so a single-partition topic keeps each conversation in order.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
		log.Printf("Could not rewind %s: %v", topic, err)
	}

	log.Printf("Consuming from Kafka topic: %s partition 0 (last %v)", topic, since)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Kafka read error on %s: %v", topic, err)
			time.Sleep(time.Second)
			continue
		}

		var head struct {
			EventType string `json:"eventType"`
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(msg.Value, &head); err != nil {
			log.Printf("JSON unmarshal error on %s: %v", topic, err)
			continue
		}

		log.Printf("Received %s (session: %s)", head.EventType, head.SessionID)
		select {
		case hub.broadcast <- envelope{Topic: topic, EventType: head.EventType, SessionID: head.SessionID, Event: msg.Value}:
		case <-ctx.Done():
			return
		}
	}
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicState := flag.String("topic-state", "avatar.conversation.state", "State change topic")
	topicTranscript := flag.String("topic-transcript", "avatar.conversation.transcript", "Transcript topic")
	since := flag.Duration("since", time.Hour, "Replay events newer than this")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := newHub()
	go hub.run(ctx)

	brokerList := strings.Split(*brokers, ",")
	go consumeKafka(ctx, hub, brokerList, *topicState, *since)
	go consumeKafka(ctx, hub, brokerList, *topicTranscript, *since)

	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("Static files: %v", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", wsHandler(hub))

	srv := &http.Server{Addr: ":" + *port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Conversation Viewer starting on http://localhost:%s", *port)
	log.Printf("   Kafka brokers: %s", *brokers)
	log.Printf("   Topics: %s, %s", *topicState, *topicTranscript)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("Server error: %v", err)
		os.Exit(1)
	}
}
