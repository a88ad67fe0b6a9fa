// Package grpcapi serves streaming chunk ingestion over gRPC.
//
// Messages are the service's JSON models carried with a registered "json"
// codec, so the service is described by hand instead of generated stubs.
package grpcapi

import (
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ai-voice-command-service/internal/models"
	"ai-voice-command-service/internal/observability/logging"
	"ai-voice-command-service/internal/observability/metrics"
	"ai-voice-command-service/internal/schema"
	"ai-voice-command-service/internal/service/conversation"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "voicecommand.v1.ChunkIngest"

const (
	streamChunksMethod    = "/" + ServiceName + "/StreamChunks"
	endConversationMethod = "/" + ServiceName + "/EndConversation"
)

// ChunkReply answers one streamed chunk. Replies for one conversation
// arrive in the order its chunks were sent.
type ChunkReply struct {
	ConversationID string            `json:"conversationId"`
	ChunkID        string            `json:"chunkId"`
	Status         string            `json:"status,omitempty"`
	Artifacts      []models.Artifact `json:"artifacts,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// EndRequest force-stops a conversation.
type EndRequest struct {
	ConversationID string `json:"conversationId"`
}

// EndReply reports whether a partial capture was discarded.
type EndReply struct {
	ConversationID string `json:"conversationId"`
	Discarded      bool   `json:"discarded"`
}

// Engine is the conversation surface the gRPC service drives.
type Engine interface {
	Advance(ctx context.Context, c models.Chunk) (*conversation.Step, error)
	Finish(ctx context.Context, step *conversation.Step) conversation.Result
	ForceStop(ctx context.Context, conversationID string) (bool, error)
}

// ChunkIngestServer is the service implementation registered with gRPC.
type ChunkIngestServer interface {
	StreamChunks(stream grpc.ServerStream) error
	EndConversation(ctx context.Context, req *EndRequest) (*EndReply, error)
}

// Server implements ChunkIngestServer on top of the conversation engine.
type Server struct {
	engine    Engine
	validator *schema.Validator
	metrics   *metrics.Metrics
}

// Register creates the service and registers it on g.
func Register(g *grpc.Server, engine Engine, validator *schema.Validator, m *metrics.Metrics) *Server {
	if validator == nil {
		validator = schema.New(schema.DefaultLimits())
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	s := &Server{engine: engine, validator: validator, metrics: m}
	g.RegisterService(&ServiceDesc, s)
	return s
}

// StreamChunks applies each received chunk in arrival order and replies
// once per chunk. Refinement runs concurrently, so a slow capture in one
// conversation does not delay replies for another; replies within a
// conversation keep arrival order. Invalid chunks get an error reply and
// the stream stays open.
func (s *Server) StreamChunks(stream grpc.ServerStream) error {
	ctx := stream.Context()
	// Finishes outlive a client disconnect: the chunk is already applied.
	finishCtx := context.WithoutCancel(ctx)

	var (
		sendMu  sync.Mutex
		pending errgroup.Group
		last    = make(map[string]chan struct{})
	)
	send := func(r *ChunkReply) error {
		sendMu.Lock()
		defer sendMu.Unlock()
		return stream.SendMsg(r)
	}
	// reply sends after the conversation's previous reply went out.
	reply := func(conversationID string, build func() *ChunkReply) {
		prev := last[conversationID]
		done := make(chan struct{})
		last[conversationID] = done
		pending.Go(func() error {
			defer close(done)
			r := build()
			if prev != nil {
				<-prev
			}
			return send(r)
		})
	}

	for {
		var c models.Chunk
		if err := stream.RecvMsg(&c); err != nil {
			sendErr := pending.Wait()
			if errors.Is(err, io.EOF) {
				return sendErr
			}
			return err
		}

		base := ChunkReply{ConversationID: c.ConversationID, ChunkID: c.ChunkID}
		if err := s.validator.ValidateChunk(&c); err != nil {
			s.metrics.RecordChunkRejected("grpc")
			base.Error = err.Error()
			reply(c.ConversationID, func() *ChunkReply { return &base })
			continue
		}

		step, err := s.engine.Advance(ctx, c)
		if err != nil {
			if errors.Is(err, conversation.ErrClosed) {
				pending.Wait()
				return status.Error(codes.Unavailable, err.Error())
			}
			if ctx.Err() != nil {
				pending.Wait()
				return status.FromContextError(ctx.Err()).Err()
			}
			logging.WithChunk(c.ConversationID, c.ChunkID).Error().Err(err).Msg("Failed to apply streamed chunk")
			base.Error = err.Error()
			reply(c.ConversationID, func() *ChunkReply { return &base })
			continue
		}

		reply(c.ConversationID, func() *ChunkReply {
			res := s.engine.Finish(finishCtx, step)
			r := base
			r.Status = res.Status.String()
			r.Artifacts = res.Artifacts
			return &r
		})
	}
}

// EndConversation discards any partial capture for the conversation.
func (s *Server) EndConversation(ctx context.Context, req *EndRequest) (*EndReply, error) {
	if req.ConversationID == "" {
		return nil, status.Error(codes.InvalidArgument, "conversationId is required")
	}
	discarded, err := s.engine.ForceStop(ctx, req.ConversationID)
	if err != nil {
		if errors.Is(err, conversation.ErrClosed) {
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &EndReply{ConversationID: req.ConversationID, Discarded: discarded}, nil
}

func streamChunksHandler(srv any, stream grpc.ServerStream) error {
	return srv.(ChunkIngestServer).StreamChunks(stream)
}

func endConversationHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(EndRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChunkIngestServer).EndConversation(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: endConversationMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ChunkIngestServer).EndConversation(ctx, req.(*EndRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc describes the ChunkIngest service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChunkIngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "EndConversation", Handler: endConversationHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamChunks",
			Handler:       streamChunksHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}
