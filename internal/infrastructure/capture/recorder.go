// ABOUTME: Recorder sink that turns reconciled events back into capture frames
// ABOUTME: Replay drives a producer writer from a capture stream frame by frame
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/harper/pencil-bridge/internal/domain/sample"
	"github.com/harper/pencil-bridge/internal/infrastructure/producer"
)

// Recorder is a sink that collects emitted samples and writes them out as
// one frame per Flush.
type Recorder struct {
	w       *Writer
	pending []sample.Sample
	offset  uint32
}

func NewRecorder(w *Writer) *Recorder {
	return &Recorder{w: w}
}

func (r *Recorder) Emit(s sample.Sample) {
	r.pending = append(r.pending, s)
}

// Mark sets the offset recorded with the next frame.
func (r *Recorder) Mark(offset uint32) {
	r.offset = offset
}

// Flush writes buffered samples as a frame. Empty flushes write nothing.
func (r *Recorder) Flush() error {
	if len(r.pending) == 0 {
		return nil
	}
	err := r.w.WriteFrame(r.offset, r.pending)
	r.pending = r.pending[:0]
	return err
}

// Replay feeds each frame into the producer writer and flushes after it, so
// every frame becomes one producer notification. interval paces frames; zero
// replays as fast as possible.
func Replay(ctx context.Context, rd *Reader, w *producer.Writer, interval time.Duration) (int, error) {
	var ticker *time.Ticker
	if interval > 0 {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	frames := 0
	for {
		if err := ctx.Err(); err != nil {
			return frames, err
		}

		f, err := rd.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return frames, err
		}

		w.AddBatch(f.Samples())
		if _, err := w.Flush(); err != nil {
			return frames, fmt.Errorf("flush frame %d: %w", frames, err)
		}
		frames++

		if ticker != nil {
			select {
			case <-ctx.Done():
				return frames, ctx.Err()
			case <-ticker.C:
			}
		}
	}
}
