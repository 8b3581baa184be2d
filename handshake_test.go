package msqlsrv

import (
	"bytes"
	"testing"
)

func TestWriteInitialHandshakeShape(t *testing.T) {
	buf := &bytes.Buffer{}
	c := &Conn{
		framer:        newPacketFramer(rwPair{w: buf}),
		handler:       NopHandler{},
		serverVersion: "8.0.0-msqlsrv",
		connectionID:  42,
	}
	salt, err := randomScramble()
	if err != nil {
		t.Fatalf("randomScramble: %v", err)
	}
	if err := c.writeInitialHandshake(salt); err != nil {
		t.Fatalf("writeInitialHandshake: %v", err)
	}

	r := newPacketFramer(rwPair{r: bytes.NewReader(buf.Bytes())})
	pkt, err := r.readPacket()
	if err != nil {
		t.Fatalf("readPacket: %v", err)
	}
	if pkt[0] != 10 {
		t.Errorf("protocol version = %d, want 10", pkt[0])
	}

	version, n, err := readNulString(pkt[1:])
	if err != nil {
		t.Fatalf("readNulString(version): %v", err)
	}
	if string(version) != "8.0.0-msqlsrv" {
		t.Errorf("version = %q", version)
	}
	connID := leUint32(pkt[1+n : 1+n+4])
	if connID != 42 {
		t.Errorf("connection id = %d, want 42", connID)
	}
}

func TestRandomScrambleNeverContainsNUL(t *testing.T) {
	for i := 0; i < 100; i++ {
		salt, err := randomScramble()
		if err != nil {
			t.Fatalf("randomScramble: %v", err)
		}
		for _, b := range salt {
			if b == 0 {
				t.Fatal("scramble contains a NUL byte")
			}
		}
	}
}

func TestParseHandshakeResponseSecureConnection(t *testing.T) {
	caps := serverCapabilities &^ capPluginAuthLenencData
	buf := make([]byte, 0, 64)
	buf = appendUint32(buf, uint32(caps))
	buf = appendUint32(buf, 1<<24-1)
	buf = append(buf, 45)
	buf = append(buf, make([]byte, 23)...)
	buf = putNulString(buf, "root")
	buf = append(buf, 20) // auth response length
	buf = append(buf, bytes.Repeat([]byte{0x01}, 20)...)
	buf = putNulString(buf, "testdb")
	buf = putNulString(buf, authPluginName)

	resp, err := parseHandshakeResponse(buf)
	if err != nil {
		t.Fatalf("parseHandshakeResponse: %v", err)
	}
	if resp.username != "root" {
		t.Errorf("username = %q, want root", resp.username)
	}
	if resp.database != "testdb" {
		t.Errorf("database = %q, want testdb", resp.database)
	}
	if resp.authPluginName != authPluginName {
		t.Errorf("authPluginName = %q, want %q", resp.authPluginName, authPluginName)
	}
	if len(resp.authResponse) != 20 {
		t.Errorf("authResponse length = %d, want 20", len(resp.authResponse))
	}
}

func TestParseHandshakeResponseLenencAuthData(t *testing.T) {
	caps := serverCapabilities | capPluginAuthLenencData
	buf := make([]byte, 0, 64)
	buf = appendUint32(buf, uint32(caps))
	buf = appendUint32(buf, 0)
	buf = append(buf, 45)
	buf = append(buf, make([]byte, 23)...)
	buf = putNulString(buf, "alice")
	buf = putLenEncString(buf, bytes.Repeat([]byte{0x02}, 32))

	resp, err := parseHandshakeResponse(buf)
	if err != nil {
		t.Fatalf("parseHandshakeResponse: %v", err)
	}
	if len(resp.authResponse) != 32 {
		t.Errorf("authResponse length = %d, want 32", len(resp.authResponse))
	}
}

func TestParseHandshakeResponseTruncated(t *testing.T) {
	if _, err := parseHandshakeResponse(make([]byte, 10)); err == nil {
		t.Error("expected error for a response shorter than the fixed header")
	}
}

func TestCapabilityHasBitsMatchRealMySQL(t *testing.T) {
	cases := []struct {
		flag capabilityFlag
		bit  uint
	}{
		{capLongPassword, 0},
		{capFoundRows, 1},
		{capConnectWithDB, 3},
		{capProtocol41, 9},
		{capSSL, 11},
		{capSecureConnection, 15},
		{capMultiStatements, 16},
		{capMultiResults, 17},
		{capPluginAuth, 19},
		{capPluginAuthLenencData, 21},
		{capDeprecateEOF, 24},
	}
	for _, c := range cases {
		if uint(c.flag) != 1<<c.bit {
			t.Errorf("flag %d: expected bit %d (value %d), got %d", c.flag, c.bit, uint32(1)<<c.bit, c.flag)
		}
	}
}
