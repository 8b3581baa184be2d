package msqlsrv

// encodeOKPacket renders an OK packet payload (header 0x00): affected-rows
// and last-insert-id as lenenc-ints, then status flags and warning count.
// When asEOF is true the header is 0xFE instead: this OK-shaped packet is
// the result-set terminator that replaces the legacy EOF packet when
// CLIENT_DEPRECATE_EOF was negotiated (§4.E).
func encodeOKPacket(affectedRows, lastInsertID uint64, status serverStatusFlag, warnings uint16, asEOF bool) []byte {
	buf := make([]byte, 0, 16)
	if asEOF {
		buf = append(buf, 0xfe)
	} else {
		buf = append(buf, 0x00)
	}
	buf = putLenEncInt(buf, affectedRows)
	buf = putLenEncInt(buf, lastInsertID)
	buf = appendUint16(buf, uint16(status))
	buf = appendUint16(buf, warnings)
	return buf
}

// encodeEOFPacket renders a legacy EOF packet payload (0xFE, warnings,
// status) — the pre-deprecate-EOF result-set terminator.
func encodeEOFPacket(status serverStatusFlag, warnings uint16) []byte {
	buf := make([]byte, 0, 5)
	buf = append(buf, 0xfe)
	buf = appendUint16(buf, warnings)
	buf = appendUint16(buf, uint16(status))
	return buf
}
