// ABOUTME: Recorded producer sessions stored as a msgpack stream of frames
// ABOUTME: One frame per producer notification, schema-versioned like on-disk caches
package capture

import (
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/harper/pencil-bridge/internal/domain/sample"
)

// SchemaVersion must be bumped whenever Frame or Record changes shape.
const SchemaVersion uint16 = 1

var ErrUnknownSchema = errors.New("unknown capture schema")

// Record is the capture form of one sample; it keeps the raw buttons mask so
// a replay reproduces the exact producer bits.
type Record struct {
	X                     float32 `msgpack:"x"`
	Y                     float32 `msgpack:"y"`
	Pressure              float32 `msgpack:"p"`
	TiltX                 float32 `msgpack:"tx"`
	TiltY                 float32 `msgpack:"ty"`
	Buttons               uint16  `msgpack:"b"`
	EstimationUpdateIndex uint32  `msgpack:"e,omitempty"`
}

type Frame struct {
	Schema  uint16   `msgpack:"schema"`
	Offset  uint32   `msgpack:"offset"`
	Records []Record `msgpack:"records"`
}

func FromSample(s sample.Sample) Record {
	return Record{
		X:                     s.Position.X,
		Y:                     s.Position.Y,
		Pressure:              s.Pressure,
		TiltX:                 s.Tilt.X,
		TiltY:                 s.Tilt.Y,
		Buttons:               uint16(s.Buttons),
		EstimationUpdateIndex: s.EstimationUpdateIndex,
	}
}

func (r Record) Sample() sample.Sample {
	return sample.Sample{
		Position:              sample.Vec2{X: r.X, Y: r.Y},
		Pressure:              r.Pressure,
		Tilt:                  sample.Vec2{X: r.TiltX, Y: r.TiltY},
		Buttons:               sample.Buttons(r.Buttons),
		EstimationUpdateIndex: r.EstimationUpdateIndex,
	}
}

// Samples converts every record in the frame.
func (f Frame) Samples() []sample.Sample {
	out := make([]sample.Sample, len(f.Records))
	for i, r := range f.Records {
		out[i] = r.Sample()
	}
	return out
}

type Writer struct {
	enc    *msgpack.Encoder
	frames int
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: msgpack.NewEncoder(w)}
}

// WriteFrame appends one frame of samples observed at offset.
func (w *Writer) WriteFrame(offset uint32, samples []sample.Sample) error {
	f := Frame{Schema: SchemaVersion, Offset: offset, Records: make([]Record, len(samples))}
	for i, s := range samples {
		f.Records[i] = FromSample(s)
	}
	if err := w.enc.Encode(&f); err != nil {
		return fmt.Errorf("encode frame %d: %w", w.frames, err)
	}
	w.frames++
	return nil
}

func (w *Writer) Frames() int {
	return w.frames
}

type Reader struct {
	dec    *msgpack.Decoder
	frames int
}

func NewReader(r io.Reader) *Reader {
	return &Reader{dec: msgpack.NewDecoder(r)}
}

// Next returns the next frame, or io.EOF once the stream is exhausted.
func (r *Reader) Next() (Frame, error) {
	var f Frame
	if err := r.dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("decode frame %d: %w", r.frames, err)
	}
	if f.Schema != SchemaVersion {
		return Frame{}, fmt.Errorf("%w: frame %d has schema %d, want %d", ErrUnknownSchema, r.frames, f.Schema, SchemaVersion)
	}
	r.frames++
	return f, nil
}

// ReadAll drains the reader into memory.
func ReadAll(r io.Reader) ([]Frame, error) {
	rd := NewReader(r)
	var frames []Frame
	for {
		f, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
}
