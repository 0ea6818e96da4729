package packet_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/packet"
)

func TestHeaderRoundTrip(t *testing.T) {
	p := &packet.Packet{
		Flag:     packet.FlagExchangeRequest,
		Sequence: 42,
		Payload:  []byte("hello world"),
	}
	p.SetUTCTime()

	h := packet.EncodeHeader(p)
	require.Len(t, h, packet.HeaderSize)

	flag, msgLen, seq, utc, err := packet.DecodeHeader(h)
	require.NoError(t, err)
	assert.Equal(t, p.Flag, flag)
	assert.Equal(t, uint32(len(p.Payload)), msgLen)
	assert.Equal(t, p.Sequence, seq)
	assert.Equal(t, p.UTCTime, utc)
}

func TestStreamRoundTrip(t *testing.T) {
	p := &packet.Packet{Flag: packet.FlagConnectRequest, Sequence: 0, Payload: []byte("payload-bytes")}
	p.SetUTCTime()

	stream := packet.EncodeStream(p)
	header := stream[:packet.HeaderSize]
	payload := stream[packet.HeaderSize:]

	decoded, err := packet.DecodeStream(header, payload)
	require.NoError(t, err)
	assert.Equal(t, p.Flag, decoded.Flag)
	assert.Equal(t, p.Payload, decoded.Payload)
}

func TestDecodeStreamRejectsOversizePayload(t *testing.T) {
	header := make([]byte, packet.HeaderSize)
	header[1] = 0xFF
	header[2] = 0xFF
	header[3] = 0xFF
	header[4] = 0xFF
	_, err := packet.DecodeStream(header, nil)
	assert.ErrorIs(t, err, packet.ErrOversizePayload)
}

func TestTimeValid(t *testing.T) {
	p := &packet.Packet{}
	p.SetUTCTime()
	assert.True(t, p.TimeValid())

	stale := &packet.Packet{UTCTime: uint64(time.Now().UTC().Add(-10 * time.Minute).Unix())}
	assert.False(t, stale.TimeValid())
}

func TestClearZeroizesPayload(t *testing.T) {
	payload := []byte{1, 2, 3}
	p := &packet.Packet{Flag: packet.FlagKeepAlive, Sequence: 7, Payload: payload}
	p.Clear()
	assert.Equal(t, packet.FlagNone, p.Flag)
	assert.Zero(t, p.Sequence)
	assert.Nil(t, p.Payload)
	assert.Equal(t, []byte{0, 0, 0}, payload)
}
