package encoding

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	type payload struct {
		Slot  uint64 `msgpack:"s"`
		Value []byte `msgpack:"v"`
	}

	in := payload{Slot: 42, Value: []byte("cell")}
	data, err := Marshal(&in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	var out map[string]interface{}
	assert.Error(t, Unmarshal([]byte{0xc1, 0xff, 0x00}, &out))
}

func TestCompressRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("account state "), 512)

	compressed, err := Compress(data)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(data))

	restored, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, data, restored)
}

func TestCompressEmptyInput(t *testing.T) {
	compressed, err := Compress(nil)
	require.NoError(t, err)

	restored, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Empty(t, restored)
}

func TestDecompressRejectsGarbage(t *testing.T) {
	_, err := Decompress([]byte("not zstd at all"))
	assert.Error(t, err)
}

func TestCompressIsReusableAcrossGoroutines(t *testing.T) {
	data := bytes.Repeat([]byte("xyz"), 2048)

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			c, err := Compress(data)
			if err != nil {
				done <- err
				return
			}
			d, err := Decompress(c)
			if err == nil && !bytes.Equal(d, data) {
				err = assert.AnError
			}
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}
}
