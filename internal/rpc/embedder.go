package rpc

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// EmbedMethod is the embedding service the perception side exposes.
const EmbedMethod = "/embedding.v1.Embedder/Embed"

// EmbedClient fetches sentence embeddings for context similarity.
type EmbedClient struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// DialEmbedder connects to an embedding service.
func DialEmbedder(addr string) (*EmbedClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &EmbedClient{conn: conn, cc: conn}, nil
}

// NewEmbedClientWithConn wraps an existing connection.
func NewEmbedClientWithConn(cc grpc.ClientConnInterface) *EmbedClient {
	return &EmbedClient{cc: cc}
}

// Close shuts down a connection opened by DialEmbedder.
func (c *EmbedClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Embed returns the embedding of text.
func (c *EmbedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	in, err := structpb.NewStruct(map[string]any{"text": text})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, EmbedMethod, in, out); err != nil {
		return nil, fmt.Errorf("embed rpc: %w", err)
	}
	list := out.GetFields()["embedding"].GetListValue()
	if list == nil || len(list.GetValues()) == 0 {
		return nil, errors.New("embed rpc: response has no embedding")
	}
	emb := make([]float32, len(list.GetValues()))
	for i, v := range list.GetValues() {
		emb[i] = float32(v.GetNumberValue())
	}
	return emb, nil
}
