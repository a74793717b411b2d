package frame

// Checksum sums data as big-endian 32-bit words with end-around carry,
// skipping the bytes in [from, to).
func Checksum(data []byte, from, to int) uint32 {
	var sum, carry uint64
	for i := 0; i < len(data); i++ {
		if i == from {
			i = to - 1
			continue
		}
		sum += uint64(data[i]) << (((i & 3) ^ 3) << 3)
		carry += sum >> 32
		sum &= 0xffffffff
	}
	for carry != 0 {
		sum += carry
		carry = sum >> 32
		sum &= 0xffffffff
	}
	return uint32(sum)
}
