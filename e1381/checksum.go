package e1381

import "fmt"

const hexDigits = "0123456789ABCDEF"

// Checksum computes the 8-bit frame checksum over data.
//
// The checksum is the arithmetic sum of all byte values, truncated to 8 bits.
// Callers pass the checksum domain only: frame number through terminator.
// STX, the checksum digits and the CR LF trailer are never summed.
func Checksum(data []byte) byte {
	var sum byte
	for _, v := range data {
		sum += v
	}

	return sum
}

// VerifyChecksum reports whether claimed matches the checksum of data.
func VerifyChecksum(data []byte, claimed byte) bool {
	return Checksum(data) == claimed
}

// FormatChecksum renders a checksum as two uppercase hex digits.
func FormatChecksum(sum byte) [2]byte {
	return [2]byte{hexDigits[sum>>4], hexDigits[sum&0x0F]}
}

// ParseChecksum decodes two ASCII hex digits. Both upper and lower case
// digits are accepted since some instruments send lower case.
func ParseChecksum(digits [2]byte) (byte, error) {
	hi, ok := hexValue(digits[0])
	if !ok {
		return 0, fmt.Errorf("%w: checksum digit %s is not hex", ErrMalformedFrame, ControlName(digits[0]))
	}

	lo, ok := hexValue(digits[1])
	if !ok {
		return 0, fmt.Errorf("%w: checksum digit %s is not hex", ErrMalformedFrame, ControlName(digits[1]))
	}

	return hi<<4 | lo, nil
}

func hexValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}

	return 0, false
}
