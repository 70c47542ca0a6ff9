package protocol

import (
	"bytes"
	"math"
	"testing"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/require"
)

func TestShardCodecRoundTrip(t *testing.T) {
	ints := []int64{5, -3, math.MaxInt64, 0, 42}
	msg, err := EncodeShard(1, 0, Phase{2, 1}, ints)
	require.NoError(t, err)
	require.Equal(t, 1, msg.From)
	require.Equal(t, 0, msg.To)
	require.Equal(t, Phase{2, 1}, msg.Phase)
	require.Equal(t, len(ints), msg.Length)

	got, err := DecodeShard[int64](msg)
	require.NoError(t, err)
	require.Equal(t, ints, got)

	floats := []float64{math.Inf(1), -0.5, 3.25, math.Inf(1)}
	msg, err = EncodeShard(0, 1, Phase{4, 1}, floats)
	require.NoError(t, err)
	gotFloats, err := DecodeShard[float64](msg)
	require.NoError(t, err)
	require.Equal(t, floats, gotFloats)

	scores := []score{7, 1, math.MaxInt32}
	msg, err = EncodeShard(2, 3, Phase{8, 4}, scores)
	require.NoError(t, err)
	gotScores, err := DecodeShard[score](msg)
	require.NoError(t, err)
	require.Equal(t, scores, gotScores)
}

func TestShardMessageJSON(t *testing.T) {
	keys := []uint32{9, 8, 7, 6}
	msg, err := EncodeShard(3, 2, Phase{4, 1}, keys)
	require.NoError(t, err)

	data, err := SerializeMessage(msg)
	require.NoError(t, err)

	decoded, err := DecodeMessage[ShardMessage](bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, msg, decoded)

	unmarshalled, err := UnmarshalMessage[ShardMessage](data)
	require.NoError(t, err)
	got, err := DecodeShard[uint32](unmarshalled)
	require.NoError(t, err)
	require.Equal(t, keys, got)
}

func TestShardCodecEmpty(t *testing.T) {
	msg, err := EncodeShard(0, 1, Phase{2, 1}, []int16{})
	require.NoError(t, err)
	got, err := DecodeShard[int16](msg)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestShardCodecDetectsCorruption(t *testing.T) {
	msg, err := EncodeShard(0, 1, Phase{2, 1}, []int64{1, 2, 3, 4})
	require.NoError(t, err)

	tampered := *msg
	tampered.Digest++
	_, err = DecodeShard[int64](&tampered)
	require.ErrorIs(t, err, ErrDigestMismatch)

	raw, err := snappy.Decode(nil, msg.Payload)
	require.NoError(t, err)
	raw[0] ^= 0xff
	tampered = *msg
	tampered.Payload = snappy.Encode(nil, raw)
	_, err = DecodeShard[int64](&tampered)
	require.ErrorIs(t, err, ErrDigestMismatch)

	tampered = *msg
	tampered.Length = 3
	_, err = DecodeShard[int64](&tampered)
	require.ErrorIs(t, err, ErrPayloadLength)

	tampered = *msg
	tampered.Length = -1
	_, err = DecodeShard[int64](&tampered)
	require.ErrorIs(t, err, ErrPayloadLength)

	// Width of the receiving key type must match the sender's.
	_, err = DecodeShard[int32](msg)
	require.ErrorIs(t, err, ErrPayloadLength)

	tampered = *msg
	tampered.Payload = []byte{0xff, 0xff, 0xff}
	_, err = DecodeShard[int64](&tampered)
	require.Error(t, err)
}
