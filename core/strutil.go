package core

// Number formatting for debug lines. fmt and strconv pull in too much for
// the AVR target, so the firmware formats by hand into caller buffers.

const hexDigits = "0123456789ABCDEF"

// AppendUint appends the decimal form of v to b.
func AppendUint(b []byte, v uint32) []byte {
	var tmp [10]byte
	i := len(tmp)
	for {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
		if v == 0 {
			break
		}
	}
	return append(b, tmp[i:]...)
}

// AppendHex appends each byte of p as two upper-case hex digits.
func AppendHex(b []byte, p ...byte) []byte {
	for _, x := range p {
		b = append(b, hexDigits[x>>4], hexDigits[x&0x0F])
	}
	return b
}

// FormatUint returns the decimal form of v.
func FormatUint(v uint32) string {
	var buf [10]byte
	return string(AppendUint(buf[:0], v))
}
