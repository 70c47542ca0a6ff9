package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"
)

var (
	// ErrDigestMismatch is returned when a shard payload does not hash to the
	// digest it was sent with.
	ErrDigestMismatch = errors.New("shard digest mismatch")

	ErrPayloadLength = errors.New("shard payload length mismatch")
)

// ShardMessage carries one unit's shard to its partner for one phase of a run.
// Keys are packed little-endian, snappy-compressed and covered by an xxhash
// digest of the uncompressed bytes.
type ShardMessage struct {
	Run     string `json:"run"`
	From    int    `json:"from"`
	To      int    `json:"to"`
	Phase   Phase  `json:"phase"`
	Length  int    `json:"length"`
	Digest  uint64 `json:"digest"`
	Payload []byte `json:"payload"`
}

// EncodeShard packs shard into a message from one unit to another.
func EncodeShard[K Key](from, to int, phase Phase, shard []K) (*ShardMessage, error) {
	var buf bytes.Buffer
	buf.Grow(len(shard) * keySize[K]())
	if err := binary.Write(&buf, binary.LittleEndian, shard); err != nil {
		return nil, fmt.Errorf("packing shard: %w", err)
	}

	raw := buf.Bytes()
	return &ShardMessage{
		From:    from,
		To:      to,
		Phase:   phase,
		Length:  len(shard),
		Digest:  xxhash.Sum64(raw),
		Payload: snappy.Encode(nil, raw),
	}, nil
}

// DecodeShard unpacks and verifies the keys carried by msg.
func DecodeShard[K Key](msg *ShardMessage) ([]K, error) {
	if msg.Length < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrPayloadLength, msg.Length)
	}

	raw, err := snappy.Decode(nil, msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("decompressing shard: %w", err)
	}
	if want := msg.Length * keySize[K](); len(raw) != want {
		return nil, fmt.Errorf("%w: %d bytes for %d keys", ErrPayloadLength, len(raw), msg.Length)
	}
	if xxhash.Sum64(raw) != msg.Digest {
		return nil, fmt.Errorf("%w: from unit %d phase %s", ErrDigestMismatch, msg.From, msg.Phase)
	}

	shard := make([]K, msg.Length)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, shard); err != nil {
		return nil, fmt.Errorf("unpacking shard: %w", err)
	}
	return shard, nil
}

func keySize[K Key]() int {
	var k K
	return int(unsafe.Sizeof(k))
}

// UnmarshalMessage deserializes a message from JSON.
func UnmarshalMessage[T any](data []byte) (*T, error) {
	var msg T
	err := json.Unmarshal(data, &msg)
	return &msg, err
}

// DecodeMessage deserializes a message from a JSON reader.
func DecodeMessage[T any](reader io.Reader) (*T, error) {
	var msg T
	err := json.NewDecoder(reader).Decode(&msg)
	return &msg, err
}

// SerializeMessage serializes a message to JSON.
func SerializeMessage[T any](msg *T) ([]byte, error) {
	return json.Marshal(msg)
}
