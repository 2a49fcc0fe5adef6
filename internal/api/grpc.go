package api

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/leaderboard"
)

// CodecName is the content subtype of the SessionService messages.
const CodecName = "json"

const sessionServiceName = "livequiz.v1.SessionService"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

type (
	GetSessionRequest struct {
		SessionID string `json:"session_id"`
	}

	GetSessionResponse struct {
		Session SessionView `json:"session"`
	}

	GetLeaderboardRequest struct {
		SessionID string `json:"session_id"`
		Limit     int    `json:"limit"`
	}

	GetLeaderboardResponse struct {
		Leaderboard domain.Leaderboard `json:"leaderboard"`
	}

	GetStatsRequest struct {
		SessionID string `json:"session_id"`
	}

	GetStatsResponse struct {
		Stats domain.Stats `json:"stats"`
	}
)

// SessionServiceServer is the read-only query surface for collaborators.
type SessionServiceServer interface {
	GetSession(context.Context, *GetSessionRequest) (*GetSessionResponse, error)
	GetLeaderboard(context.Context, *GetLeaderboardRequest) (*GetLeaderboardResponse, error)
	GetStats(context.Context, *GetStatsRequest) (*GetStatsResponse, error)
}

var sessionServiceDesc = grpc.ServiceDesc{
	ServiceName: sessionServiceName,
	HandlerType: (*SessionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetSession", SessionServiceServer.GetSession),
		unary("GetLeaderboard", SessionServiceServer.GetLeaderboard),
		unary("GetStats", SessionServiceServer.GetStats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "livequiz/v1/session.json",
}

func RegisterSessionServiceServer(s grpc.ServiceRegistrar, srv SessionServiceServer) {
	s.RegisterService(&sessionServiceDesc, srv)
}

func unary[Req, Resp any](method string, call func(SessionServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + sessionServiceName + "/" + method

	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SessionServiceServer), ctx, in)
			}

			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SessionServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func (a *API) GetSession(ctx context.Context, req *GetSessionRequest) (*GetSessionResponse, error) {
	s, err := a.ctl.Session(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	return &GetSessionResponse{Session: newSessionView(s)}, nil
}

func (a *API) GetLeaderboard(ctx context.Context, req *GetLeaderboardRequest) (*GetLeaderboardResponse, error) {
	l, err := a.ls.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{
		SessionID: req.SessionID,
		Limit:     req.Limit,
	})
	if err != nil {
		return nil, err
	}

	return &GetLeaderboardResponse{Leaderboard: *l}, nil
}

func (a *API) GetStats(ctx context.Context, req *GetStatsRequest) (*GetStatsResponse, error) {
	st, err := a.ctl.Stats(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	return &GetStatsResponse{Stats: *st}, nil
}

// SessionServiceClient calls SessionService with the JSON codec.
type SessionServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSessionServiceClient(cc grpc.ClientConnInterface) *SessionServiceClient {
	return &SessionServiceClient{cc: cc}
}

func (c *SessionServiceClient) GetSession(ctx context.Context, in *GetSessionRequest, opts ...grpc.CallOption) (*GetSessionResponse, error) {
	out := new(GetSessionResponse)
	if err := c.invoke(ctx, "GetSession", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SessionServiceClient) GetLeaderboard(ctx context.Context, in *GetLeaderboardRequest, opts ...grpc.CallOption) (*GetLeaderboardResponse, error) {
	out := new(GetLeaderboardResponse)
	if err := c.invoke(ctx, "GetLeaderboard", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SessionServiceClient) GetStats(ctx context.Context, in *GetStatsRequest, opts ...grpc.CallOption) (*GetStatsResponse, error) {
	out := new(GetStatsResponse)
	if err := c.invoke(ctx, "GetStats", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SessionServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+sessionServiceName+"/"+method, in, out, opts...)
}
