package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/mnemo-mcp/mnemo/internal/framing"
	"github.com/mnemo-mcp/mnemo/internal/tools"
	"github.com/mnemo-mcp/mnemo/pkg/protocol"
)

// Server owns the connection loop: it decodes framed requests, dispatches
// them one at a time in arrival order, and writes responses back in the
// same framing the client used.
type Server struct {
	registry *tools.Registry
	handler  *Handler

	writeMu  sync.Mutex
	inFlight atomic.Int64
}

func NewServer(registry *tools.Registry) *Server {
	return &Server{
		registry: registry,
		handler:  NewHandler(registry),
	}
}

func (s *Server) Registry() *tools.Registry {
	return s.registry
}

// InFlight reports the number of requests currently being processed.
func (s *Server) InFlight() int64 {
	return s.inFlight.Load()
}

// Serve runs the request loop until the reader reaches EOF or the context
// is canceled. Cancellation stops the intake of new requests; the request
// being processed finishes and its response is written before Serve
// returns. A clean EOF drains everything already received and returns nil.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	decoder := framing.NewDecoder()
	msgs := make(chan json.RawMessage, 64)
	readErr := make(chan error, 1)

	go func() {
		defer close(msgs)
		buf := make([]byte, 32*1024)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				for _, m := range decoder.Feed(buf[:n]) {
					select {
					case msgs <- m:
					case <-ctx.Done():
						return
					}
				}
			}
			if err != nil {
				if err != io.EOF {
					readErr <- err
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown requested", "in_flight", s.inFlight.Load())
			return nil
		case msg, ok := <-msgs:
			if !ok {
				select {
				case err := <-readErr:
					return fmt.Errorf("read: %w", err)
				default:
					log.Info("input closed, shutting down")
					return nil
				}
			}
			s.dispatch(ctx, msg, w, decoder)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, msg json.RawMessage, w io.Writer, decoder *framing.Decoder) {
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	var req protocol.Request
	if err := json.Unmarshal(msg, &req); err != nil {
		// The framing layer guarantees valid JSON, so this is a valid
		// document that is not a request object.
		s.write(w, decoder.Mode(),
			protocol.NewErrorResponse(nil, protocol.CodeInvalidRequest, "invalid request"))
		return
	}

	resp := s.handler.Handle(ctx, &req)
	if resp == nil {
		return
	}
	s.write(w, decoder.Mode(), resp)
}

func (s *Server) write(w io.Writer, mode framing.Mode, resp *protocol.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Error("response marshal failed", "error", err)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if mode == framing.ModeHeader {
		if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data)); err != nil {
			log.Error("response write failed", "error", err)
			return
		}
		if _, err := w.Write(data); err != nil {
			log.Error("response write failed", "error", err)
		}
		return
	}

	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		log.Error("response write failed", "error", err)
	}
}
