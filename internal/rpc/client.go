package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Freshair129/agentic-agent/internal/memory"
	"github.com/Freshair129/agentic-agent/internal/turn"
)

// #region client-struct
// Client is the reasoning session's side of the boundary.
type Client struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// Dial connects to the core's gRPC listener.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewClientWithConn wraps an existing connection. The caller keeps
// ownership of cc.
func NewClientWithConn(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close shuts down a connection opened by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion client-struct

// #region calls
// RequestStateSync pauses the session for a state sync.
func (c *Client) RequestStateSync(ctx context.Context, req turn.SyncRequest) (turn.SyncResult, error) {
	var res turn.SyncResult
	if err := c.call(ctx, "RequestStateSync", req, &res); err != nil {
		return turn.SyncResult{}, err
	}
	return res, nil
}

// ProposeMemoryCommit sends one proposal for the session's open turn.
func (c *Client) ProposeMemoryCommit(ctx context.Context, sessionID string, p memory.Proposal) (turn.CommitResult, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return turn.CommitResult{}, fmt.Errorf("encode proposal: %w", err)
	}
	req := commitRequest{SessionID: sessionID, Kind: p.Kind(), Proposal: body}
	var res turn.CommitResult
	if err := c.call(ctx, "ProposeMemoryCommit", req, &res); err != nil {
		return turn.CommitResult{}, err
	}
	return res, nil
}

// EndTurn closes the session's turn without a commit.
func (c *Client) EndTurn(ctx context.Context, sessionID string) error {
	var res struct{}
	return c.call(ctx, "EndTurn", endTurnRequest{SessionID: sessionID}, &res)
}

func (c *Client) call(ctx context.Context, name string, req, res any) error {
	in, err := toStruct(req)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+name, in, out); err != nil {
		return fromStatus("rpc."+name, err)
	}
	return fromStruct(out, res)
}

// #endregion calls
