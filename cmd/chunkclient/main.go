// Command chunkclient replays a transcript file as cumulative chunks,
// the way a live speech-to-text feed would deliver it.
//
// Each line of the file is "speaker: words". Words are revealed a few at
// a time so triggers straddle chunk boundaries.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcapi "ai-voice-command-service/internal/api/grpc"
	"ai-voice-command-service/internal/models"
)

type utterance struct {
	speaker string
	words   []string
}

func main() {
	file := flag.String("file", "", "Transcript file, one \"speaker: text\" per line (default stdin)")
	serverAddr := flag.String("server", "localhost:50051", "gRPC server address")
	httpAddr := flag.String("http", "", "Send over HTTP to this base URL instead of gRPC, e.g. http://localhost:8080")
	conversationID := flag.String("conversation", "conv-"+time.Now().Format("150405"), "Conversation ID")
	wordsPerChunk := flag.Int("words", 3, "Words revealed per chunk")
	interval := flag.Duration("interval", 150*time.Millisecond, "Delay between chunks")
	end := flag.Bool("end", true, "Force-stop the conversation after the last chunk")
	flag.Parse()

	var in io.Reader = os.Stdin
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			log.Fatalf("Failed to open transcript: %v", err)
		}
		defer f.Close()
		in = f
	}

	utterances, err := readTranscript(in)
	if err != nil {
		log.Fatalf("Failed to read transcript: %v", err)
	}
	chunks := buildChunks(*conversationID, utterances, *wordsPerChunk)
	log.Printf("Replaying %d chunks for conversation %s", len(chunks), *conversationID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if *httpAddr != "" {
		sendHTTP(ctx, strings.TrimRight(*httpAddr, "/"), *conversationID, chunks, *interval, *end)
		return
	}
	sendGRPC(ctx, *serverAddr, *conversationID, chunks, *interval, *end)
}

func readTranscript(r io.Reader) ([]utterance, error) {
	var out []utterance
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		speaker, text := "speaker", line
		if i := strings.Index(line, ":"); i > 0 {
			speaker, text = strings.TrimSpace(line[:i]), line[i+1:]
		}
		if words := strings.Fields(text); len(words) > 0 {
			out = append(out, utterance{speaker: speaker, words: words})
		}
	}
	return out, sc.Err()
}

// buildChunks turns utterances into cumulative chunks. The cumulative text
// only ever grows.
func buildChunks(conversationID string, utterances []utterance, per int) []models.Chunk {
	if per <= 0 {
		per = 1
	}
	var (
		chunks []models.Chunk
		text   strings.Builder
	)
	for _, u := range utterances {
		if text.Len() > 0 {
			text.WriteString("\n")
		}
		for i := 0; i < len(u.words); i += per {
			if i > 0 {
				text.WriteString(" ")
			}
			text.WriteString(strings.Join(u.words[i:min(i+per, len(u.words))], " "))
			chunks = append(chunks, models.Chunk{
				EventType:      models.ChunkEventType,
				ConversationID: conversationID,
				CumulativeText: text.String(),
				Speaker:        u.speaker,
				ChunkID:        fmt.Sprintf("chunk-%04d", len(chunks)+1),
				Timestamp:      time.Now().UnixMilli(),
			})
		}
	}
	return chunks
}

func sendGRPC(ctx context.Context, addr, conversationID string, chunks []models.Chunk, interval time.Duration, end bool) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", addr)

	client := grpcapi.NewClient(conn)
	stream, err := client.StreamChunks(ctx)
	if err != nil {
		log.Fatalf("Failed to create stream: %v", err)
	}

	for i := range chunks {
		if err := stream.Send(&chunks[i]); err != nil {
			log.Fatalf("Failed to send chunk: %v", err)
		}
		reply, err := stream.Recv()
		if err != nil {
			log.Fatalf("Failed to receive reply: %v", err)
		}
		report(reply.ChunkID, reply.Status, reply.Error, reply.Artifacts)
		time.Sleep(interval)
	}
	if err := stream.CloseSend(); err != nil {
		log.Printf("Failed to close stream: %v", err)
	}

	if end {
		reply, err := client.EndConversation(ctx, conversationID)
		if err != nil {
			log.Fatalf("Failed to end conversation: %v", err)
		}
		log.Printf("Conversation ended: discarded=%v", reply.Discarded)
	}
}

func sendHTTP(ctx context.Context, base, conversationID string, chunks []models.Chunk, interval time.Duration, end bool) {
	client := &http.Client{Timeout: 60 * time.Second}
	prefix := base + "/v1/conversations/" + conversationID

	for _, c := range chunks {
		body, _ := json.Marshal(c)
		var res struct {
			Status    string            `json:"status"`
			Artifacts []models.Artifact `json:"artifacts"`
			Error     string            `json:"error"`
		}
		if err := post(ctx, client, prefix+"/chunks", body, &res); err != nil {
			log.Fatalf("Failed to send chunk: %v", err)
		}
		report(c.ChunkID, res.Status, res.Error, res.Artifacts)
		time.Sleep(interval)
	}

	if end {
		var res struct {
			Discarded bool `json:"discarded"`
		}
		if err := post(ctx, client, prefix+"/end", nil, &res); err != nil {
			log.Fatalf("Failed to end conversation: %v", err)
		}
		log.Printf("Conversation ended: discarded=%v", res.Discarded)
	}
}

func post(ctx context.Context, client *http.Client, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func report(chunkID, status, errMsg string, artifacts []models.Artifact) {
	if errMsg != "" {
		log.Printf("%s rejected: %s", chunkID, errMsg)
		return
	}
	log.Printf("%s -> %s", chunkID, status)
	for _, a := range artifacts {
		pretty, _ := json.MarshalIndent(a, "  ", "  ")
		log.Printf("  %s artifact %s:\n  %s", a.Kind, a.ID(), pretty)
	}
}
