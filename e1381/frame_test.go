package e1381

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		data string
		want byte
	}{
		{"empty", "", 0x00},
		{"number payload ETX", "1A\x03", 0x75},
		{"wraps modulo 256", "1zzz\x03", 0xA2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Checksum([]byte(tt.data)))
			require.True(t, VerifyChecksum([]byte(tt.data), tt.want))
		})
	}
}

func TestChecksum_FormatParse(t *testing.T) {
	require := require.New(t)

	require.Equal([2]byte{'0', '0'}, FormatChecksum(0x00))
	require.Equal([2]byte{'7', 'F'}, FormatChecksum(0x7F))
	require.Equal([2]byte{'A', '2'}, FormatChecksum(0xA2))

	for i := range 256 {
		sum, err := ParseChecksum(FormatChecksum(byte(i)))
		require.NoError(err)
		require.Equal(byte(i), sum)
	}

	sum, err := ParseChecksum([2]byte{'a', 'f'})
	require.NoError(err)
	require.Equal(byte(0xAF), sum)

	_, err = ParseChecksum([2]byte{'G', '0'})
	require.ErrorIs(err, ErrMalformedFrame)
	_, err = ParseChecksum([2]byte{'0', CR})
	require.ErrorIs(err, ErrMalformedFrame)
}

func TestEncodeFrame_Wire(t *testing.T) {
	require := require.New(t)

	wire, err := EncodeFrame(1, []byte("A"), ETX)
	require.NoError(err)
	require.Equal([]byte("\x021A\x0375\r\n"), wire)

	wire, err = EncodeFrame(7, []byte("zzz"), ETB)
	require.NoError(err)
	require.Equal(STX, wire[0])
	require.Equal(byte('7'), wire[1])
	require.Equal(ETB, wire[5])
	require.Equal([]byte{CR, LF}, wire[len(wire)-2:])
}

func TestEncodeFrame_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		number  int
		payload string
		term    byte
	}{
		{"negative number", -1, "A", ETX},
		{"number too large", 8, "A", ETX},
		{"bad terminator", 1, "A", EOT},
		{"payload with ETX", 1, "A\x03B", ETX},
		{"payload with ETB", 1, "A\x17B", ETB},
		{"payload with STX", 1, "\x02A", ETX},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeFrame(tt.number, []byte(tt.payload), tt.term)
			require.ErrorIs(t, err, ErrInvalidFrame)
		})
	}
}

func TestFrame_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1381, 1394))

	for i := range 500 {
		number := i % 8
		term := ETX
		if i%3 == 0 {
			term = ETB
		}

		payload := make([]byte, rng.IntN(300))
		for j := range payload {
			// Any byte except the frame delimiters.
			for {
				b := byte(rng.IntN(256))
				if b != STX && b != ETX && b != ETB {
					payload[j] = b
					break
				}
			}
		}

		wire, err := EncodeFrame(number, payload, term)
		require.NoError(t, err)

		f, err := ParseFrame(wire)
		require.NoError(t, err, "iteration %d", i)
		require.Equal(t, number, f.Number)
		require.Equal(t, term, f.Terminator)
		require.True(t, bytes.Equal(payload, f.Payload), "iteration %d", i)
	}
}

func TestFrame_ChecksumExcludesFraming(t *testing.T) {
	f := &Frame{Number: 3, Payload: []byte("R|1|^^^HBV|42\r"), Terminator: ETX}
	wire := f.Pack()

	// Sum of exactly the bytes between STX and the checksum digits.
	domain := wire[1 : len(wire)-4]
	require.Equal(t, Checksum(domain), f.Checksum())

	withFraming := append([]byte{STX}, domain...)
	withFraming = append(withFraming, CR, LF)
	require.NotEqual(t, Checksum(withFraming), f.Checksum())
}

func TestParseFrame_Malformed(t *testing.T) {
	good, err := EncodeFrame(1, []byte("L|1"), ETX)
	require.NoError(t, err)

	mutate := func(fn func(w []byte) []byte) []byte {
		w := append([]byte(nil), good...)
		return fn(w)
	}

	tests := []struct {
		name string
		wire []byte
	}{
		{"empty", nil},
		{"no STX", good[1:]},
		{"missing terminator", []byte("\x021L|1")},
		{"truncated checksum", good[:len(good)-3]},
		{"non-hex checksum", mutate(func(w []byte) []byte { w[len(w)-4] = 'Z'; return w })},
		{"wrong trailer", mutate(func(w []byte) []byte { w[len(w)-2] = LF; w[len(w)-1] = CR; return w })},
		{"missing LF", good[:len(good)-1]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFrame(tt.wire)
			require.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}

func TestParseFrame_InvalidNumber(t *testing.T) {
	good, err := EncodeFrame(1, []byte("L|1"), ETX)
	require.NoError(t, err)

	for _, digit := range []byte{'X', '8', STX} {
		wire := append([]byte(nil), good...)
		wire[1] = digit

		f, err := ParseFrame(wire)
		require.ErrorIs(t, err, ErrFrameSequence)
		require.NotErrorIs(t, err, ErrMalformedFrame)
		require.NotNil(t, f)
		assert.Equal(t, -1, f.Number)
		assert.Equal(t, []byte("L|1"), f.Payload)
	}
}

func TestParseFrame_ChecksumMismatch(t *testing.T) {
	wire, err := EncodeFrame(2, []byte("L|1"), ETX)
	require.NoError(t, err)

	wire[3] = 'X' // corrupt payload

	f, err := ParseFrame(wire)
	require.ErrorIs(t, err, ErrChecksumMismatch)
	require.NotNil(t, f)
	assert.Equal(t, 2, f.Number)
}

func TestParseFrame_LowerCaseChecksum(t *testing.T) {
	wire, err := EncodeFrame(1, []byte("zzz"), ETX) // checksum A2
	require.NoError(t, err)

	wire[len(wire)-4] = 'a'

	_, err = ParseFrame(wire)
	require.NoError(t, err)
}

func TestFrame_String(t *testing.T) {
	f := &Frame{Number: 4, Payload: []byte("abc"), Terminator: ETB}
	require.Equal(t, "frame#4 len=3 term=ETB", f.String())
	require.False(t, f.IsFinal())
}
