// Package models defines the data structures exchanged with collaborators:
// inbound transcript chunks and the artifacts produced from them.
package models

// Chunk is one delivery of a conversation's cumulative transcript.
// CumulativeText holds everything transcribed so far, not just the new words.
type Chunk struct {
	EventType      string `json:"eventType,omitempty"`
	ConversationID string `json:"conversationId"`
	CumulativeText string `json:"cumulativeText"`
	Speaker        string `json:"speaker"`
	ChunkID        string `json:"chunkId"`
	Timestamp      int64  `json:"timestamp,omitempty"`
}

// ChunkEventType is the event type carried by chunk messages on the ingestion topic.
const ChunkEventType = "conversation.transcript.chunk"
