package bitmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetBitGetBit(t *testing.T) {
	s := New()
	old, err := s.SetBit("b", 7, 1)
	require.NoError(t, err)
	require.Equal(t, byte(0), old)

	bit, err := s.GetBit("b", 7)
	require.NoError(t, err)
	require.Equal(t, byte(1), bit)

	// bit 7 is the low bit of byte 0 (MSB-first addressing), so byte 0 == 0x01
	require.Equal(t, []byte{0x01}, s.Get("b"))
}

func TestGetBitPastEndIsZero(t *testing.T) {
	s := New()
	bit, err := s.GetBit("missing", 100)
	require.NoError(t, err)
	require.Equal(t, byte(0), bit)
}

func TestSetBitZeroExtends(t *testing.T) {
	s := New()
	s.SetBit("b", 0, 1)
	s.SetBit("b", 23, 1)
	require.Equal(t, 3, s.Strlen("b"))
}

func TestBitCountWholeAndRange(t *testing.T) {
	s := New()
	for i := int64(0); i < 8; i++ {
		s.SetBit("b", i, 1)
	}
	require.Equal(t, 8, s.BitCount("b", false, 0, 0))
	require.Equal(t, 8, s.BitCount("b", true, 0, -1))
	require.Equal(t, 0, s.BitCount("b", true, 1, 1))
}

func TestBitPosFindsFirstSetBit(t *testing.T) {
	s := New()
	s.SetBit("b", 5, 1)
	pos := s.BitPos("b", 1, false, 0, 0)
	require.Equal(t, 5, pos)
}

func TestBitPosNotFound(t *testing.T) {
	s := New()
	for i := int64(0); i < 8; i++ {
		s.SetBit("b", i, 1)
	}
	require.Equal(t, -1, s.BitPos("b", 0, true, 0, 0))
}

func TestBitOpAndOrXor(t *testing.T) {
	s := New()
	s.SetBit("a", 0, 1) // byte0 = 0x80
	s.SetBit("b", 1, 1) // byte0 = 0x40

	n, err := s.Op(BitOpOr, "dest", []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []byte{0xC0}, s.Get("dest"))

	s.Op(BitOpAnd, "dest2", []string{"a", "b"})
	require.Equal(t, []byte{0x00}, s.Get("dest2"))

	s.Op(BitOpXor, "dest3", []string{"a", "b"})
	require.Equal(t, []byte{0xC0}, s.Get("dest3"))
}

func TestBitOpNot(t *testing.T) {
	s := New()
	s.SetBit("a", 0, 1)
	_, err := s.Op(BitOpNot, "dest", []string{"a"})
	require.NoError(t, err)
	require.Equal(t, []byte{0x7F}, s.Get("dest"))
}

func TestBitOpNotRejectsMultipleSources(t *testing.T) {
	s := New()
	_, err := s.Op(BitOpNot, "dest", []string{"a", "b"})
	require.Error(t, err)
}

func TestBitOpZeroPadsShorterInputs(t *testing.T) {
	s := New()
	s.SetBit("a", 0, 1)
	s.SetBit("b", 15, 1) // 2 bytes long
	n, err := s.Op(BitOpOr, "dest", []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
