// Command artifact-viewer streams chart and automation events from Kafka
// to browsers over a WebSocket.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"

	"ai-voice-command-service/internal/models"
)

const writeWait = 5 * time.Second

// hub fans artifact events out to connected browsers.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]struct{})}
}

func (h *hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("Viewer connected. Total: %d", n)
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("Viewer disconnected. Total: %d", n)
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast writes ev to every viewer and drops viewers that fail.
func (h *hub) broadcast(ev models.ArtifactEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			log.Printf("Write error: %v", err)
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade error: %v", err)
			return
		}
		h.add(conn)

		// Reads only detect disconnects.
		go func() {
			defer h.remove(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

func consume(ctx context.Context, h *hub, brokers []string, topic string, since time.Duration) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
		log.Printf("Failed to seek %s: %v", topic, err)
	}
	log.Printf("Consuming %s partition 0 (last %s)", topic, since)

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

		var ev models.ArtifactEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Printf("Skipping undecodable event on %s: %v", topic, err)
			continue
		}
		log.Printf("Received %s for %s (%s)", ev.EventType, ev.ConversationID, ev.Artifact.ID())
		h.broadcast(ev)
	}
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicCharts := flag.String("topic-charts", "conversation.chart", "Chart artifact topic")
	topicAutomations := flag.String("topic-automations", "conversation.automation", "Automation artifact topic")
	since := flag.Duration("since", time.Hour, "Replay events newer than this on start")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := newHub()
	brokerList := strings.Split(*brokers, ",")
	go consume(ctx, h, brokerList, *topicCharts, *since)
	go consume(ctx, h, brokerList, *topicAutomations, *since)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(indexHTML))
	})
	mux.HandleFunc("/ws", wsHandler(h))

	srv := &http.Server{Addr: ":" + *port, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Artifact viewer on http://localhost:%s (topics %s, %s)", *port, *topicCharts, *topicAutomations)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}

const indexHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Artifacts</title>
<style>
body { font-family: sans-serif; margin: 2rem; background: #f6f6f6; }
.card { background: #fff; border-radius: 6px; padding: 1rem; margin-bottom: 1rem; }
.kind { font-weight: bold; text-transform: uppercase; font-size: .8rem; color: #666; }
.bar { background: #4a7bd0; height: 14px; margin: 2px 0; }
pre { white-space: pre-wrap; }
</style>
</head>
<body>
<h1>Conversation artifacts</h1>
<div id="events"></div>
<script>
const list = document.getElementById("events");
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = (msg) => {
  const ev = JSON.parse(msg.data);
  const card = document.createElement("div");
  card.className = "card";
  const head = document.createElement("div");
  head.className = "kind";
  head.textContent = ev.eventType + " · " + ev.conversationId;
  card.appendChild(head);
  const a = ev.artifact;
  if (a.chart) {
    const s = a.chart.spec;
    const title = document.createElement("h3");
    title.textContent = s.title + " (" + s.chartType + ")";
    card.appendChild(title);
    const maxV = Math.max(...s.values.map(Math.abs), 1);
    s.labels.forEach((label, i) => {
      const row = document.createElement("div");
      row.textContent = label + ": " + s.values[i] + (s.units ? " " + s.units : "");
      const bar = document.createElement("div");
      bar.className = "bar";
      bar.style.width = (Math.abs(s.values[i]) / maxV * 100) + "%";
      card.appendChild(row);
      card.appendChild(bar);
    });
  } else if (a.automation) {
    const pre = document.createElement("pre");
    pre.textContent = JSON.stringify(a.automation, null, 2);
    card.appendChild(pre);
  }
  list.prepend(card);
};
</script>
</body>
</html>
`
