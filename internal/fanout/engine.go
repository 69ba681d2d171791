// Package fanout implements the read-demux-broadcast loop that turns an
// encoder's output stream into subscriber deliveries (C5). One Engine
// serves exactly one instance's encoder for the lifetime of a single
// encoder session.
package fanout

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/screencastd/screencastd/internal/bufpool"
	"github.com/screencastd/screencastd/internal/container"
	"github.com/screencastd/screencastd/internal/logger"
	"github.com/screencastd/screencastd/internal/subscriber"
)

// readChunkSize mirrors the teacher's RTMP read buffer sizing: large enough
// to avoid excessive syscalls, small enough to keep fan-out latency low.
const readChunkSize = 65536

// Engine owns the read-demux-broadcast loop for one instance.
type Engine struct {
	instance    string
	source      io.Reader
	demux       *container.Demuxer
	subscribers *subscriber.Set
	log         *slog.Logger
}

// New returns an Engine reading from source and feeding demux and
// subscribers.
func New(instanceName string, source io.Reader, demux *container.Demuxer, subscribers *subscriber.Set) *Engine {
	return &Engine{
		instance:    instanceName,
		source:      source,
		demux:       demux,
		subscribers: subscribers,
		log:         logger.WithInstance(logger.Logger(), instanceName),
	}
}

// Run reads from the encoder until ctx is canceled, the source returns EOF,
// or a read error occurs. It returns nil on a clean EOF or context
// cancellation, and the underlying error otherwise. Run owns the encoder's
// output for its entire call: it must not be invoked concurrently with
// another Run over the same source.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		buf := bufpool.Get(readChunkSize)
		n, err := e.source.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			e.demux.Feed(chunk)
			e.subscribers.Broadcast(chunk)
		}
		bufpool.Put(buf)

		if err != nil {
			if errors.Is(err, io.EOF) {
				e.log.Info("fanout_source_eof")
				return nil
			}
			e.log.Error("fanout_read_error", slog.Any("error", err))
			return err
		}
	}
}
