package snapshot

import (
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// MsgType identifies a framed snapshot-transport message, grounded
// directly on the teacher's migration.MsgType.
type MsgType uint32

const (
	// MsgSnapshot carries a gob-encoded Envelope (VM handle + suspend
	// blob).
	MsgSnapshot MsgType = 1
	// MsgAck acknowledges receipt of the most recent MsgSnapshot.
	MsgAck MsgType = 2
)

// Envelope pairs a suspended VM's handle with its Suspend() blob, so a
// receiver can route it to the right vmpool slot on Thaw.
type Envelope struct {
	VMHandle uint32
	Blob     []byte
}

// Sender writes framed messages to an underlying writer, e.g. a TCP
// connection between two App processes (§4.2, migration/transport.go's
// "[4-byte type][8-byte length][payload]" wire format).
type Sender struct {
	w io.Writer
}

// NewSender wraps w as a snapshot Sender.
func NewSender(w io.Writer) *Sender { return &Sender{w: w} }

func (s *Sender) send(t MsgType, payload []byte) error {
	hdr := make([]byte, 12)
	binary.BigEndian.PutUint32(hdr[0:4], uint32(t))
	binary.BigEndian.PutUint64(hdr[4:12], uint64(len(payload)))

	if _, err := s.w.Write(hdr); err != nil {
		return fmt.Errorf("snapshot: send header: %w", err)
	}

	if len(payload) > 0 {
		if _, err := s.w.Write(payload); err != nil {
			return fmt.Errorf("snapshot: send payload: %w", err)
		}
	}

	return nil
}

// SendSnapshot gob-encodes env and sends it as a MsgSnapshot.
func (s *Sender) SendSnapshot(env Envelope) error {
	var buf gobBuffer

	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return fmt.Errorf("snapshot: encode envelope: %w", err)
	}

	return s.send(MsgSnapshot, buf.b)
}

// SendAck sends a zero-length MsgAck.
func (s *Sender) SendAck() error { return s.send(MsgAck, nil) }

// Receiver reads framed messages from an underlying reader.
type Receiver struct {
	r io.Reader
}

// NewReceiver wraps r as a snapshot Receiver.
func NewReceiver(r io.Reader) *Receiver { return &Receiver{r: r} }

// Next reads the next message's type and payload.
func (r *Receiver) Next() (MsgType, []byte, error) {
	hdr := make([]byte, 12)
	if _, err := io.ReadFull(r.r, hdr); err != nil {
		return 0, nil, fmt.Errorf("snapshot: read header: %w", err)
	}

	t := MsgType(binary.BigEndian.Uint32(hdr[0:4]))
	length := binary.BigEndian.Uint64(hdr[4:12])

	if length == 0 {
		return t, nil, nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return 0, nil, fmt.Errorf("snapshot: read payload (type=%d len=%d): %w", t, length, err)
	}

	return t, payload, nil
}

// DecodeEnvelope gob-decodes a MsgSnapshot payload.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var env Envelope

	buf := gobBuffer{b: payload}
	if err := gob.NewDecoder(&buf).Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("snapshot: decode envelope: %w", err)
	}

	return env, nil
}

// gobBuffer is a minimal io.Reader/io.Writer over a byte slice, avoiding
// a bytes.Buffer copy on encode (mirrors migration/transport.go's
// bReader).
type gobBuffer struct{ b []byte }

func (g *gobBuffer) Write(p []byte) (int, error) {
	g.b = append(g.b, p...)
	return len(p), nil
}

func (g *gobBuffer) Read(p []byte) (int, error) {
	if len(g.b) == 0 {
		return 0, io.EOF
	}

	n := copy(p, g.b)
	g.b = g.b[n:]

	return n, nil
}
