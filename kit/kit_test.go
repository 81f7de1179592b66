package kit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	if got := GetTransport(ctx); got != "http" {
		t.Fatalf("default transport = %q, want http", got)
	}
	ctx = WithTraceID(ctx, "trc_1")
	ctx = WithTransport(ctx, "webhook")
	ctx = WithRemoteAddr(ctx, "10.0.0.1")
	if GetTraceID(ctx) != "trc_1" || GetTransport(ctx) != "webhook" || GetRemoteAddr(ctx) != "10.0.0.1" {
		t.Fatalf("context values lost: %q %q %q", GetTraceID(ctx), GetTransport(ctx), GetRemoteAddr(ctx))
	}
}

type echoReq struct {
	Msg string `json:"msg"`
}

func session(t *testing.T) *mcp.ClientSession {
	t.Helper()
	impl := &mcp.Implementation{Name: "kit-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*echoReq)
		if r.Msg == "fail" {
			return nil, errors.New("endpoint failed")
		}
		return map[string]string{"msg": r.Msg, "transport": GetTransport(ctx)}, nil
	}
	decode := func(req *mcp.CallToolRequest) (*MCPDecodeResult, error) {
		var r echoReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		if r.Msg == "" {
			return nil, errors.New("msg is required")
		}
		return &MCPDecodeResult{Request: &r}, nil
	}
	RegisterMCPTool(srv, &mcp.Tool{
		Name: "echo",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"msg": map[string]any{"type": "string"}},
		},
	}, endpoint, decode)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(impl, nil)
	s, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegisterMCPTool(t *testing.T) {
	s := session(t)

	res, err := s.CallTool(context.Background(), &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"msg": "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := res.GetError(); err != nil {
		t.Fatalf("tool error: %v", err)
	}
	text := res.Content[0].(*mcp.TextContent).Text
	if !strings.Contains(text, `"msg":"hi"`) || !strings.Contains(text, `"transport":"mcp"`) {
		t.Fatalf("unexpected payload %s", text)
	}
}

func TestRegisterMCPToolErrors(t *testing.T) {
	s := session(t)
	for _, args := range []map[string]any{{}, {"msg": "fail"}} {
		res, err := s.CallTool(context.Background(), &mcp.CallToolParams{Name: "echo", Arguments: args})
		if err != nil {
			t.Fatalf("protocol error for %v: %v", args, err)
		}
		if !res.IsError {
			t.Errorf("expected tool error for %v", args)
		}
	}
}
