package gotest

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_CallsFuncForEachEvent(t *testing.T) {
	input := strings.Join([]string{
		`{"Action":"start","Package":"example.com/pkg"}`,
		`{"Action":"run","Package":"example.com/pkg","Test":"TestFoo"}`,
		`{"Action":"pass","Package":"example.com/pkg","Test":"TestFoo","Elapsed":0.01}`,
		`{"Action":"pass","Package":"example.com/pkg","Elapsed":0.5}`,
	}, "\n") + "\n"

	var events []TestEvent

	malformed, err := Stream(context.Background(), strings.NewReader(input), func(e TestEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)
	assert.Zero(t, malformed)
	require.Len(t, events, 4)
	assert.Equal(t, ActionStart, events[0].Action)
	assert.Equal(t, "TestFoo", events[2].Test)
	assert.Equal(t, 10*time.Millisecond, events[2].Duration())
	assert.True(t, events[2].Terminal())
	assert.False(t, events[1].Terminal())
}

func TestStream_SkipsMalformedLines(t *testing.T) {
	input := `not json
{"Action":"start","Package":"example.com/pkg"}

also not json
{"Action":"pass","Package":"example.com/pkg","Elapsed":0.1}
`

	var events []TestEvent

	malformed, err := Stream(context.Background(), strings.NewReader(input), func(e TestEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, malformed)
	assert.Len(t, events, 2)
}

func TestStream_RespectsContextCancellation(t *testing.T) {
	input := `{"Action":"start","Package":"example.com/pkg"}` + "\n"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var count int

	_, err := Stream(ctx, strings.NewReader(input), func(_ TestEvent) {
		count++

		cancel()
	})
	if err != nil {
		assert.True(t, errors.Is(err, context.Canceled))
	}

	assert.Equal(t, 1, count)
}

// blockingReader never returns from Read until closed.
type blockingReader struct {
	closed chan struct{}
}

func (b *blockingReader) Read(_ []byte) (int, error) {
	<-b.closed

	return 0, io.EOF
}

func (b *blockingReader) Close() error {
	close(b.closed)

	return nil
}

func TestStream_CancelClosesReader(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r := &blockingReader{closed: make(chan struct{})}

	_, err := Stream(ctx, r, func(_ TestEvent) {})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-r.closed:
	default:
		t.Fatal("reader was not closed on cancel")
	}
}

func TestStream_LineTooLong(t *testing.T) {
	input := strings.Repeat("x", maxLineSize+1) + "\n"

	_, err := Stream(context.Background(), strings.NewReader(input), func(_ TestEvent) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scanning test output")
}
