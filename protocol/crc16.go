package protocol

// crcInit is the CRC-16/MCRF4XX starting value
const crcInit = 0xFFFF

// CRC16 calculates the frame checksum (CRC-16/MCRF4XX: reflected 0x1021,
// initial 0xFFFF, no final xor).
func CRC16(data []byte) uint16 {
	return CRC16Update(crcInit, data)
}

// CRC16Update continues a checksum over more data, so a frame can be
// checked as it arrives in pieces.
func CRC16Update(crc uint16, data []byte) uint16 {
	for _, b := range data {
		b ^= uint8(crc)
		b ^= b << 4
		b16 := uint16(b)
		crc = (b16<<8 | crc>>8) ^ (b16 >> 4) ^ (b16 << 3)
	}
	return crc
}
