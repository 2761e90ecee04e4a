package gotest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

const maxLineSize = 1024 * 1024

// ProcessFunc handles one decoded event.
type ProcessFunc func(TestEvent)

type scanResult struct {
	line []byte
	err  error
}

// Stream decodes go test -json events line by line and calls fn for each
// one. It stops on EOF or when ctx is cancelled and returns the number of
// malformed lines skipped.
//
// On cancel, r is closed when it implements io.Closer so the scanning
// goroutine unblocks. Otherwise the caller must close the underlying reader.
func Stream(ctx context.Context, r io.Reader, fn ProcessFunc) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lines := make(chan scanResult)

	go func() {
		defer close(lines)

		for scanner.Scan() {
			// The scanner reuses its buffer.
			cp := append([]byte(nil), scanner.Bytes()...)

			select {
			case lines <- scanResult{line: cp}:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case lines <- scanResult{err: err}:
			case <-ctx.Done():
			}
		}
	}()

	var malformed int

	for {
		select {
		case <-ctx.Done():
			if c, ok := r.(io.Closer); ok {
				_ = c.Close()
			}

			return malformed, ctx.Err()
		case res, ok := <-lines:
			if !ok {
				return malformed, nil
			}

			if res.err != nil {
				return malformed, fmt.Errorf("scanning test output: %w", res.err)
			}

			if len(res.line) == 0 {
				continue
			}

			var event TestEvent
			if err := json.Unmarshal(res.line, &event); err != nil {
				malformed++

				continue
			}

			fn(event)
		}
	}
}
