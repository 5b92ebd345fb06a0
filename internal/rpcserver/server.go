package rpcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"memoryvault/internal/logging"
	"memoryvault/internal/memerr"
)

// handlerFunc implements one RPC method. params is the raw `params` value
// from the request, re-marshaled so the handler can unmarshal its own
// typed shape out of it.
type handlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Server runs the stdio JSON-RPC dispatch loop.
type Server struct {
	input   io.Reader
	output  io.Writer
	scanner *bufio.Scanner
	encoder *json.Encoder
	mutex   sync.Mutex

	handlers map[string]handlerFunc
	logger   *logging.EnhancedLogger
}

// New creates a Server reading from stdin and writing to stdout.
func New() *Server {
	return NewWithIO(os.Stdin, os.Stdout)
}

// NewWithIO creates a Server over custom IO, for tests.
func NewWithIO(input io.Reader, output io.Writer) *Server {
	return &Server{
		input:    input,
		output:   output,
		scanner:  bufio.NewScanner(input),
		encoder:  json.NewEncoder(output),
		handlers: make(map[string]handlerFunc),
		logger:   logging.GetComponentLogger("rpcserver"),
	}
}

// Register wires a method name to its handler. Call once per method in the
// table before Run.
func (s *Server) Register(method string, fn handlerFunc) {
	s.handlers[method] = fn
}

// Run reads one JSON-RPC request per line until ctx is canceled or stdin
// reaches EOF. A malformed line gets a parse-error response and does not
// abort the loop; an unregistered method gets a method-not-found response.
func (s *Server) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !s.scanner.Scan() {
			return s.scanner.Err()
		}

		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			if err := s.send(errorResponse(nil, newError(codeParseError, "parse error", err.Error()))); err != nil {
				return err
			}
			continue
		}

		if req.Method == "" {
			if err := s.send(errorResponse(req.ID, newError(codeInvalidRequest, "invalid request", "missing method"))); err != nil {
				return err
			}
			continue
		}

		fn, ok := s.handlers[req.Method]
		if !ok {
			if err := s.send(errorResponse(req.ID, newError(codeMethodNotFound, "method not found: "+req.Method, nil))); err != nil {
				return err
			}
			continue
		}

		params, err := json.Marshal(req.Params)
		if err != nil {
			if err := s.send(errorResponse(req.ID, newError(codeInvalidRequest, "invalid params", err.Error()))); err != nil {
				return err
			}
			continue
		}

		result, err := fn(ctx, params)
		if err != nil {
			s.logger.WithError(err).Warn("rpc handler failed", "method", req.Method)
			code := memerr.JSONRPCCode(memerr.KindOf(err))
			if err := s.send(errorResponse(req.ID, newError(code, err.Error(), nil))); err != nil {
				return err
			}
			continue
		}

		if err := s.send(resultResponse(req.ID, result)); err != nil {
			return err
		}
	}
}

func (s *Server) send(resp *Response) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.encoder.Encode(resp)
}
