package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/mnemo-mcp/mnemo/internal/framing"
	"github.com/mnemo-mcp/mnemo/internal/tools"
	"github.com/mnemo-mcp/mnemo/pkg/protocol"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	registry := tools.NewRegistry()
	if err := registry.Register(&stubTool{name: "echo", fn: func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		return map[string]interface{}{"echoed": true}, nil
	}}); err != nil {
		t.Fatal(err)
	}
	return NewServer(registry)
}

func decodeResponses(t *testing.T, raw []byte) []*protocol.Response {
	t.Helper()
	dec := framing.NewDecoder()
	var responses []*protocol.Response
	for _, msg := range dec.Feed(raw) {
		var resp protocol.Response
		if err := json.Unmarshal(msg, &resp); err != nil {
			t.Fatalf("unparseable response %q: %v", msg, err)
		}
		responses = append(responses, &resp)
	}
	return responses
}

func TestServeLineFraming(t *testing.T) {
	s := newTestServer(t)
	input := strings.Join([]string{
		`{"jsonrpc": "2.0", "id": 1, "method": "initialize", "params": {"protocolVersion": "2025-03-26"}}`,
		`{"jsonrpc": "2.0", "method": "notifications/initialized"}`,
		`{"jsonrpc": "2.0", "id": 2, "method": "ping"}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	if err := s.Serve(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatal(err)
	}

	responses := decodeResponses(t, out.Bytes())
	if len(responses) != 2 {
		t.Fatalf("expected 2 responses (notification is silent), got %d", len(responses))
	}
	if responses[0].Error != nil || responses[1].Error != nil {
		t.Errorf("unexpected errors: %+v, %+v", responses[0].Error, responses[1].Error)
	}
	for _, line := range bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n")) {
		if !json.Valid(line) {
			t.Errorf("output line is not a bare JSON document: %q", line)
		}
	}
}

func TestServeHeaderFraming(t *testing.T) {
	s := newTestServer(t)

	frame := func(body string) string {
		return fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
	}
	input := frame(`{"jsonrpc": "2.0", "id": 1, "method": "initialize", "params": {"protocolVersion": "2025-03-26"}}`) +
		frame(`{"jsonrpc": "2.0", "method": "notifications/initialized"}`) +
		frame(`{"jsonrpc": "2.0", "id": 2, "method": "ping"}`)

	var out bytes.Buffer
	if err := s.Serve(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatal(err)
	}

	if !bytes.HasPrefix(out.Bytes(), []byte("Content-Length:")) {
		t.Fatalf("responses not header framed: %q", out.Bytes())
	}
	responses := decodeResponses(t, out.Bytes())
	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(responses))
	}
}

func TestServeBatchExpansion(t *testing.T) {
	s := newTestServer(t)
	input := `[{"jsonrpc": "2.0", "id": 1, "method": "ping"}, {"jsonrpc": "2.0", "id": 2, "method": "ping"}]` + "\n"

	var out bytes.Buffer
	if err := s.Serve(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatal(err)
	}

	responses := decodeResponses(t, out.Bytes())
	if len(responses) != 2 {
		t.Fatalf("expected one response per batch element, got %d", len(responses))
	}
	if responses[0].ID != float64(1) || responses[1].ID != float64(2) {
		t.Errorf("batch order lost: %v, %v", responses[0].ID, responses[1].ID)
	}
}

func TestServeSurvivesGarbageInput(t *testing.T) {
	s := newTestServer(t)
	input := "this is not json\n" +
		`{"jsonrpc": "2.0", "id": 1, "method": "ping"}` + "\n"

	var out bytes.Buffer
	if err := s.Serve(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatal(err)
	}

	responses := decodeResponses(t, out.Bytes())
	if len(responses) != 1 {
		t.Fatalf("expected 1 response after skipping garbage, got %d", len(responses))
	}
	if responses[0].Error != nil {
		t.Errorf("ping after garbage failed: %+v", responses[0].Error)
	}
}

func TestServeNonObjectMessage(t *testing.T) {
	s := newTestServer(t)
	input := `"just a string"` + "\n"

	var out bytes.Buffer
	if err := s.Serve(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatal(err)
	}

	responses := decodeResponses(t, out.Bytes())
	if len(responses) != 1 {
		t.Fatalf("expected 1 error response, got %d", len(responses))
	}
	if responses[0].Error == nil || responses[0].Error.Code != protocol.CodeInvalidRequest {
		t.Errorf("expected invalid request, got %+v", responses[0])
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	s := newTestServer(t)
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var out bytes.Buffer
	go func() {
		done <- s.Serve(ctx, pr, &out)
	}()

	if _, err := pw.Write([]byte(`{"jsonrpc": "2.0", "id": 1, "method": "ping"}` + "\n")); err != nil {
		t.Fatal(err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("cancellation should shut down cleanly, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after cancellation")
	}
}
