package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// maxLineSize bounds a single JSON-RPC request line.
const maxLineSize = 4 * 1024 * 1024

// StdioTransport serves line-delimited JSON-RPC 2.0 over a reader/writer
// pair. Each request is one newline-terminated line; each response is one
// line on out. Nothing else may be written to out, so the logger must target
// stderr.
type StdioTransport struct {
	server *Server
	in     io.Reader
	out    io.Writer
	logger logrus.FieldLogger
}

// NewStdioTransport creates a transport that reads from in and writes to out.
func NewStdioTransport(srv *Server, in io.Reader, out io.Writer, logger logrus.FieldLogger) *StdioTransport {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StdioTransport{
		server: srv,
		in:     in,
		out:    out,
		logger: logger.WithField("component", "mcp_stdio"),
	}
}

// Serve handles requests in arrival order until in is closed or ctx is done.
// A clean EOF returns nil.
func (t *StdioTransport) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for {
		if err := ctx.Err(); err != nil {
			t.logger.Info("context cancelled, shutting down")
			return err
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("stdin scanner: %w", err)
			}
			t.logger.Info("stdin closed, shutting down")
			return nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp, err := t.server.HandleRequest(ctx, line)
		if err != nil {
			t.logger.WithError(err).Error("handler error")
			resp = internalErrorResponse(line, err)
		}
		if resp == nil {
			continue
		}

		if _, err := fmt.Fprintf(t.out, "%s\n", resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
}

// internalErrorResponse builds an error frame for a request the server could
// not answer, echoing the request ID when it can be recovered.
func internalErrorResponse(rawRequest []byte, handlerErr error) []byte {
	var partial struct {
		ID any `json:"id"`
	}
	_ = json.Unmarshal(rawRequest, &partial)

	data, err := json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      partial.ID,
		Error:   &JSONRPCError{Code: ErrCodeInternalError, Message: handlerErr.Error()},
	})
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return data
}
