package grpcapi

import (
	"context"

	"google.golang.org/grpc"

	"ai-voice-command-service/internal/models"
)

// Client calls the ChunkIngest service.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// ChunkStream is an open StreamChunks call.
type ChunkStream struct {
	stream grpc.ClientStream
}

// StreamChunks opens a bidirectional chunk stream.
func (c *Client) StreamChunks(ctx context.Context) (*ChunkStream, error) {
	s, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], streamChunksMethod, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	return &ChunkStream{stream: s}, nil
}

// Send sends one chunk.
func (s *ChunkStream) Send(c *models.Chunk) error {
	return s.stream.SendMsg(c)
}

// Recv receives the reply for the oldest unanswered chunk.
func (s *ChunkStream) Recv() (*ChunkReply, error) {
	r := new(ChunkReply)
	if err := s.stream.RecvMsg(r); err != nil {
		return nil, err
	}
	return r, nil
}

// CloseSend signals that no more chunks follow.
func (s *ChunkStream) CloseSend() error {
	return s.stream.CloseSend()
}

// EndConversation force-stops a conversation.
func (c *Client) EndConversation(ctx context.Context, conversationID string) (*EndReply, error) {
	out := new(EndReply)
	err := c.conn.Invoke(ctx, endConversationMethod, &EndRequest{ConversationID: conversationID}, out, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	return out, nil
}
