// Package remote backs tool.Tool implementations with a gRPC-based
// execution service, for tools too heavy to run in-process (contract
// analyzer, market-data query). A Dialer opens these connections lazily and
// reuses one connection per target across every tool backed by that service.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/estatecopilot/runtime/runtime/tools"
)

// Invoker is the minimal surface a generated gRPC tool-execution client
// must expose. Concrete generated stubs (from a .proto describing the tool
// service) satisfy this directly; ToolClient below adapts them to
// tools.Tool.
type Invoker interface {
	InvokeTool(ctx context.Context, toolName string, input *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

// Dialer lazily opens and caches gRPC connections by target address so
// multiple remote tools sharing a backend reuse one connection.
type Dialer struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewDialer returns an empty connection cache.
func NewDialer() *Dialer {
	return &Dialer{conns: make(map[string]*grpc.ClientConn)}
}

// Dial returns a cached connection to target, establishing one with
// insecure transport credentials if none exists yet. The Dialer has no
// option for TLS credentials.
func (d *Dialer) Dial(target string) (*grpc.ClientConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if conn, ok := d.conns[target]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial remote tool service %s: %w", target, err)
	}
	d.conns[target] = conn
	return conn, nil
}

// Close tears down every cached connection.
func (d *Dialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for target, conn := range d.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", target, err)
		}
	}
	d.conns = make(map[string]*grpc.ClientConn)
	return firstErr
}

// ToolClient adapts a gRPC Invoker into a tools.Tool, converting the
// registry's map[string]any input into a protobuf Struct and the response
// back into a tools.Result. Invocation failures (dial errors, RPC errors)
// become status "error" results rather than propagating as Go errors, per
// the "tools cannot raise across the team boundary" contract (§7).
type ToolClient struct {
	ToolName string
	Invoker  Invoker
}

// Execute implements tools.Tool.
func (c ToolClient) Execute(ctx context.Context, input map[string]any) tools.Result {
	payload, err := structpb.NewStruct(input)
	if err != nil {
		return tools.Result{Status: tools.StatusError, Error: fmt.Sprintf("encode input: %s", err)}
	}
	resp, err := c.Invoker.InvokeTool(ctx, c.ToolName, payload)
	if err != nil {
		return tools.Result{Status: tools.StatusError, Error: err.Error()}
	}
	data, err := json.Marshal(resp.AsMap())
	if err != nil {
		return tools.Result{Status: tools.StatusError, Error: fmt.Sprintf("decode response: %s", err)}
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return tools.Result{Status: tools.StatusError, Error: fmt.Sprintf("decode response: %s", err)}
	}
	return tools.Result{Status: tools.StatusSuccess, Data: decoded}
}
