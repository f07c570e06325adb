package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultMaxFrameSize bounds a single frame read off the wire.
const DefaultMaxFrameSize = 1 << 20 // 1 MiB

// maxFrameCount bounds frames per message; the envelope shapes used here
// never exceed a handful.
const maxFrameCount = 16

// Multipart framing, router/dealer style. A message is a uvarint frame
// count followed by frames, each a uvarint length plus bytes. The first
// frame on the wire is always the empty delimiter; the peer identity is
// never serialized because the broker derives it from the connection, so
// the router side sees [identity, delimiter, payload...] only after its
// receive path prepends the identity.

// WriteMessage writes the delimiter plus payload frames to w.
func WriteMessage(w io.Writer, payload [][]byte) error {
	frames := make([][]byte, 0, len(payload)+1)
	frames = append(frames, []byte{})
	frames = append(frames, payload...)

	var buf []byte
	var scratch [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(scratch[:], uint64(len(frames)))
	buf = append(buf, scratch[:n]...)
	for _, f := range frames {
		n = binary.PutUvarint(scratch[:], uint64(len(f)))
		buf = append(buf, scratch[:n]...)
		buf = append(buf, f...)
	}

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ReadMessage reads one message from r and returns the payload frames with
// the leading delimiter stripped. maxFrameSize <= 0 selects
// DefaultMaxFrameSize.
func ReadMessage(r *bufio.Reader, maxFrameSize int) ([][]byte, error) {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}

	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if count == 0 || count > maxFrameCount {
		return nil, fmt.Errorf("%w: frame count %d out of range", ErrMalformedEnvelope, count)
	}

	frames := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		size, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		if size > uint64(maxFrameSize) {
			return nil, fmt.Errorf("%w: frame size %d exceeds limit %d", ErrMalformedEnvelope, size, maxFrameSize)
		}
		frame := make([]byte, size)
		if _, err := io.ReadFull(r, frame); err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}

	if len(frames[0]) != 0 {
		return nil, fmt.Errorf("%w: missing empty delimiter frame", ErrMalformedEnvelope)
	}
	return frames[1:], nil
}
