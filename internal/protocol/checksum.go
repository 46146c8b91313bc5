package protocol

// Checksum computes the 16-bit ones' complement sum (RFC 1071) over the
// concatenation of the given byte slices.
func Checksum(parts ...[]byte) uint16 {
	var sum uint32
	var odd bool
	var carry byte

	for _, p := range parts {
		for _, b := range p {
			if odd {
				sum += uint32(carry)<<8 | uint32(b)
			} else {
				carry = b
			}
			odd = !odd
		}
	}
	if odd {
		sum += uint32(carry) << 8
	}

	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}
