// ABOUTME: Newline-delimited JSON-RPC transport over stdin/stdout
// ABOUTME: Used by spawned MCP processes that cannot host an HTTP listener

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/2389/formbridge/internal/rpc"
)

// ServeStdio reads one JSON-RPC message per line from in and writes one
// response per line to out, until in closes or the context is cancelled.
// Notifications produce no output. Session headers do not exist on this
// transport; the process serves exactly one client.
func ServeStdio(ctx context.Context, s *Server, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxRequestBodySize)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		req, errResp := rpc.DecodeRequest(line)
		if errResp != nil {
			if err := enc.Encode(errResp); err != nil {
				return fmt.Errorf("writing response: %w", err)
			}
			continue
		}

		resp := s.dispatcher.HandleRequestSync(ctx, req)
		if resp == nil {
			continue
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	return nil
}
