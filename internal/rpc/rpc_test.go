package rpc

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Freshair129/agentic-agent/internal/fault"
	"github.com/Freshair129/agentic-agent/internal/graph"
	"github.com/Freshair129/agentic-agent/internal/memory"
	"github.com/Freshair129/agentic-agent/internal/physio"
	"github.com/Freshair129/agentic-agent/internal/resonance"
	"github.com/Freshair129/agentic-agent/internal/retrieval"
	"github.com/Freshair129/agentic-agent/internal/signals"
	"github.com/Freshair129/agentic-agent/internal/store"
	"github.com/Freshair129/agentic-agent/internal/turn"
)

// #region helpers
func serve(t *testing.T, register func(*grpc.Server)) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	register(srv)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type stack struct {
	client *Client
	conn   *grpc.ClientConn
	store  *memory.Store
}

func setup(t *testing.T) stack {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "core.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	entries, err := memory.NewStore(db)
	require.NoError(t, err)
	g, err := graph.New(db)
	require.NoError(t, err)
	gov, err := memory.NewGovernor(entries, g, memory.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(gov.Close)

	sim, err := physio.NewSimulator(physio.DefaultConfig(), time.Now())
	require.NoError(t, err)
	engine := physio.NewEngine(sim, nil, 0, nil)
	engine.Start()
	t.Cleanup(engine.Close)

	producer, err := signals.NewProducer(nil, signals.DefaultProducerConfig())
	require.NoError(t, err)
	rcfg := retrieval.DefaultConfig()
	streams, err := retrieval.DefaultStreams(g, rcfg, graph.DefaultWalkConfig())
	require.NoError(t, err)
	retriever, err := retrieval.NewRetriever(entries, streams, rcfg, nil)
	require.NoError(t, err)

	sync, err := turn.New(turn.Deps{
		Perceiver: producer,
		Engine:    engine,
		Recaller:  retriever,
		Committer: gov,
		Scoring:   resonance.DefaultConfig(),
	}, turn.DefaultConfig())
	require.NoError(t, err)

	conn := serve(t, func(s *grpc.Server) { Register(s, sync, nil) })
	return stack{client: NewClientWithConn(conn), conn: conn, store: entries}
}

// #endregion helpers

// #region session-tests
func TestTurnOverGRPC(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	res, err := s.client.RequestStateSync(ctx, turn.SyncRequest{
		SessionID:  "s1",
		Perception: signals.Perception{Intent: "threat", Salience: 0.8, Text: "a stranger at the door"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.TurnID)
	assert.Len(t, res.Snapshot.Channels, len(physio.DefaultConfig().Channels))
	assert.NotEmpty(t, res.Score.Class)
	assert.False(t, res.Degraded, "%v", res.Warnings)

	cr, err := s.client.ProposeMemoryCommit(ctx, "s1", memory.Observation{
		Domain:     memory.DomainContextual,
		Content:    "a stranger knocked late at night",
		Confidence: 0.6,
		Tags:       []string{"door", "night"},
	})
	require.NoError(t, err)
	require.True(t, cr.Accepted, cr.Reason)

	e, err := s.store.Get(cr.Decision.EntryID)
	require.NoError(t, err)
	assert.Equal(t, "a stranger knocked late at night", e.Content)
	assert.Equal(t, memory.TierSession, e.Tier)
}

func TestRejectionsCarryTheirKind(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	_, err := s.client.ProposeMemoryCommit(ctx, "s1", memory.Hits{EntryIDs: []string{"x"}})
	assert.ErrorIs(t, err, fault.ErrValidation, "no open turn")

	_, err = s.client.RequestStateSync(ctx, turn.SyncRequest{})
	assert.ErrorIs(t, err, fault.ErrValidation)
}

func TestUnknownProposalKind(t *testing.T) {
	s := setup(t)
	in, err := structpb.NewStruct(map[string]any{"session_id": "s1", "kind": "gossip", "proposal": map[string]any{}})
	require.NoError(t, err)
	err = s.conn.Invoke(context.Background(), "/"+ServiceName+"/ProposeMemoryCommit", in, new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestEndTurnOverGRPC(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	_, err := s.client.RequestStateSync(ctx, turn.SyncRequest{SessionID: "s1", Perception: signals.Perception{Intent: "neutral"}})
	require.NoError(t, err)
	require.NoError(t, s.client.EndTurn(ctx, "s1"))

	_, err = s.client.ProposeMemoryCommit(ctx, "s1", memory.Hits{EntryIDs: []string{"x"}})
	assert.ErrorIs(t, err, fault.ErrValidation)

	assert.ErrorIs(t, s.client.EndTurn(ctx, ""), fault.ErrValidation)
}

// #endregion session-tests

// #region embedder-tests
type embedService interface{}

func TestEmbedClient(t *testing.T) {
	desc := grpc.ServiceDesc{
		ServiceName: "embedding.v1.Embedder",
		HandlerType: (*embedService)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Embed",
			Handler: func(_ any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := new(structpb.Struct)
				if err := dec(in); err != nil {
					return nil, err
				}
				text := in.GetFields()["text"].GetStringValue()
				if text == "" {
					return structpb.NewStruct(map[string]any{})
				}
				return structpb.NewStruct(map[string]any{"embedding": []any{1.0, float64(len(text))}})
			},
		}},
	}
	conn := serve(t, func(s *grpc.Server) { s.RegisterService(&desc, struct{}{}) })
	c := NewEmbedClientWithConn(conn)

	emb, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 5}, emb)

	_, err = c.Embed(context.Background(), "")
	assert.Error(t, err)

	var _ signals.Embedder = c
}

// #endregion embedder-tests
