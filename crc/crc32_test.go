package crc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlock_KnownVectors(t *testing.T) {
	// Check value of ascii "123456789" for this variant (reflected
	// 0xEDB88320, init 0, no final XOR); not the CRC-32/ISO-HDLC 0xCBF43926.
	assert.Equal(t, uint32(0x2DFD2D88), Block([]byte("123456789")))
	assert.Equal(t, uint32(0), Block(nil))
}

func TestUpdateByte_MatchesBlock(t *testing.T) {
	data := []byte("the quick brown fox")
	state := uint32(0)
	for _, b := range data {
		state = UpdateByte(state, b)
	}
	assert.Equal(t, Block(data), state)
}

func TestUpdateBlock_Incremental(t *testing.T) {
	data := []byte("abcdefgh")
	whole := Block(data)

	split := UpdateBlock(0, data[:3])
	split = UpdateBlock(split, data[3:])
	assert.Equal(t, whole, split)
}

func TestHexUpper8(t *testing.T) {
	assert.Equal(t, "CBF43926", HexUpper8(0xCBF43926))
	assert.Equal(t, "00000000", HexUpper8(0))
}

func TestXOR(t *testing.T) {
	assert.Equal(t, uint8(0), XOR(nil))
	assert.Equal(t, uint8('A')^uint8('B'), XOR([]byte("AB")))
}

func TestHexUpper2(t *testing.T) {
	assert.Equal(t, "0A", HexUpper2(0x0A))
	assert.Equal(t, "FF", HexUpper2(0xFF))
}
