package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"filehub/internal/common"
	"filehub/internal/realtime"
)

const (
	SyncServiceName = "filehub.sync.v1.SyncService"
	ConnectMethod   = "/" + SyncServiceName + "/Connect"
)

// jsonCodec carries realtime frames as JSON on the gRPC stream.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// SyncServer is the server API of the sync stream.
type SyncServer interface {
	Connect(stream grpc.ServerStream) error
}

var SyncServiceDesc = grpc.ServiceDesc{
	ServiceName: SyncServiceName,
	HandlerType: (*SyncServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "filehub/sync/v1/sync.proto",
}

func connectHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(SyncServer).Connect(stream)
}

// RegisterSyncServer attaches srv to a gRPC server.
func RegisterSyncServer(s *grpc.Server, srv SyncServer) {
	s.RegisterService(&SyncServiceDesc, srv)
}

// OpenSyncStream starts a Connect stream on a client connection.
func OpenSyncStream(ctx context.Context, cc *grpc.ClientConn) (grpc.ClientStream, error) {
	return cc.NewStream(ctx, &SyncServiceDesc.Streams[0], ConnectMethod, grpc.CallContentSubtype("json"))
}

// GRPCHandler serves one session per Connect stream.
type GRPCHandler struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewGRPCHandler(dispatcher *Dispatcher, logger *slog.Logger) *GRPCHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCHandler{dispatcher: dispatcher, logger: logger}
}

func (h *GRPCHandler) Connect(stream grpc.ServerStream) error {
	ctx := stream.Context()
	userID, ok := common.UserIDFrom(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing user")
	}

	s := h.dispatcher.Attach(userID)
	var detach sync.Once
	readErr := make(chan error, 1)
	go func() {
		readErr <- h.readLoop(ctx, stream, s)
		detach.Do(func() { h.dispatcher.Detach(s) })
	}()

	// The write side ends when the reader detaches, the session is closed
	// from outside, or a send fails. Returning cancels the stream context,
	// which unblocks a reader still waiting in RecvMsg.
	writeErr := h.writeLoop(stream, s)
	detach.Do(func() { h.dispatcher.Detach(s) })
	if writeErr != nil {
		return writeErr
	}
	select {
	case err := <-readErr:
		return err
	default:
		return nil
	}
}

func (h *GRPCHandler) readLoop(ctx context.Context, stream grpc.ServerStream, s *realtime.Session) error {
	for {
		var f realtime.Frame
		err := stream.RecvMsg(&f)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if status.Code(err) == codes.Canceled || ctx.Err() != nil {
				return nil
			}
			h.logger.Warn("error receiving frame", "session", s.ID, "error", err)
			return err
		}
		h.dispatcher.Handle(ctx, s, f)
	}
}

func (h *GRPCHandler) writeLoop(stream grpc.ServerStream, s *realtime.Session) error {
	for {
		select {
		case f := <-s.Outbox():
			if err := stream.SendMsg(&f); err != nil {
				h.logger.Debug("failed to send frame", "session", s.ID, "error", err)
				return err
			}
		case <-s.Done():
			return nil
		}
	}
}
