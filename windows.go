package kbinder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/streamhaus/kbinder/serde"
)

// TimeWindows describes fixed-size, non-overlapping (tumbling) time windows
// used to bucket records for aggregation. Grace is the extra time after a
// window closes during which late records are still accepted.
type TimeWindows struct {
	Size  time.Duration
	Grace time.Duration
}

// TumblingWindows returns tumbling windows of the given size with no grace
// period.
func TumblingWindows(size time.Duration) TimeWindows {
	return TimeWindows{Size: size}
}

// WithGrace returns a copy of w accepting late records up to grace after a
// window's end.
func (w TimeWindows) WithGrace(grace time.Duration) TimeWindows {
	w.Grace = grace
	return w
}

// Window is a single half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowFor returns the window containing ts.
func (w TimeWindows) WindowFor(ts time.Time) Window {
	start := ts.Truncate(w.Size)
	return Window{Start: start, End: start.Add(w.Size)}
}

// WindowKey addresses one aggregate: a record key plus its window start.
type WindowKey[K any] struct {
	Key   K
	Start time.Time
}

// WindowKeySerializer wraps a key serializer into one for WindowKey. The
// wire format is [2 byte key length][key bytes][binary time].
func WindowKeySerializer[K any](serializer serde.Serializer[K]) serde.Serializer[WindowKey[K]] {
	return func(wk WindowKey[K]) ([]byte, error) {
		buf := bytes.NewBuffer(nil)

		serializedKey, err := serializer(wk.Key)
		if err != nil {
			return nil, err
		}
		if len(serializedKey) > int(^uint16(0)) {
			return nil, fmt.Errorf("window key too large: %d bytes", len(serializedKey))
		}

		lnPrefix := make([]byte, 2)
		binary.BigEndian.PutUint16(lnPrefix, uint16(len(serializedKey)))
		if _, err := buf.Write(lnPrefix); err != nil {
			return nil, err
		}

		if _, err := buf.Write(serializedKey); err != nil {
			return nil, err
		}

		ts, err := wk.Start.MarshalBinary()
		if err != nil {
			return nil, err
		}
		if _, err := buf.Write(ts); err != nil {
			return nil, err
		}

		return buf.Bytes(), nil
	}
}

// WindowKeyDeserializer wraps a key deserializer into one for WindowKey.
func WindowKeyDeserializer[K any](deserializer serde.Deserializer[K]) serde.Deserializer[WindowKey[K]] {
	return func(b []byte) (WindowKey[K], error) {
		if len(b) < 2 {
			return WindowKey[K]{}, fmt.Errorf("window key truncated: %d bytes", len(b))
		}
		length := binary.BigEndian.Uint16(b)
		b = b[2:]
		if len(b) < int(length)+1 {
			return WindowKey[K]{}, fmt.Errorf("window key truncated: key length %d, %d bytes left", length, len(b))
		}

		deserialized, err := deserializer(b[:length])
		if err != nil {
			return WindowKey[K]{}, err
		}

		b = b[length:]

		var t time.Time
		if err := t.UnmarshalBinary(b); err != nil {
			return WindowKey[K]{}, err
		}

		return WindowKey[K]{
			Key:   deserialized,
			Start: t,
		}, nil
	}
}
