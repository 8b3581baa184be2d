package msqlsrv

import (
	"crypto/rand"
	"crypto/tls"
	"fmt"
)

const authPluginName = "mysql_native_password"

// handshakeResponse is the parsed form of Protocol::HandshakeResponse41
// (§4.C step 3).
type handshakeResponse struct {
	capabilities   capabilityFlag
	username       string
	authResponse   []byte
	database       string
	authPluginName string
}

// handshake drives the initial greeting through to the final OK packet
// (§4.C). It never validates the scramble unless a CredentialChecker was
// installed with WithCredentialChecker.
func (c *Conn) handshake() error {
	salt, err := randomScramble()
	if err != nil {
		return err
	}

	if err := c.writeInitialHandshake(salt); err != nil {
		return err
	}

	pkt, err := c.framer.readPacket()
	if err != nil {
		return err
	}
	if len(pkt) < 4 {
		return protoErr("truncated handshake response", nil)
	}
	clientCaps := capabilityFlag(leUint32(pkt[0:4]))

	if clientCaps.has(capSSL) {
		if len(pkt) < 32 {
			return protoErr("truncated SSLRequest", nil)
		}
		tlsConfig := c.handler.TLSConfig()
		if tlsConfig == nil {
			return fmt.Errorf("msqlsrv: client requested TLS but no TLS config is configured")
		}
		tlsConn := tls.Server(c.netConn, tlsConfig)
		if err := tlsConn.Handshake(); err != nil {
			return fmt.Errorf("msqlsrv: TLS handshake failed: %w", err)
		}
		c.netConn = tlsConn
		c.framer.setStream(tlsConn)
		c.tlsUpgraded = true

		pkt, err = c.framer.readPacket()
		if err != nil {
			return err
		}
		if len(pkt) < 4 {
			return protoErr("truncated post-TLS handshake response", nil)
		}
		clientCaps = capabilityFlag(leUint32(pkt[0:4]))
	}

	resp, err := parseHandshakeResponse(pkt)
	if err != nil {
		return err
	}

	if resp.authPluginName != "" && resp.authPluginName != authPluginName {
		freshSalt, err := randomScramble()
		if err != nil {
			return err
		}
		if err := c.writeAuthSwitchRequest(freshSalt); err != nil {
			return err
		}
		if _, err := c.framer.readPacket(); err != nil {
			return err
		}
		salt = freshSalt
	}

	if c.credChecker != nil {
		ok, err := c.credChecker.Check(resp.username, resp.authResponse, salt[:])
		if err != nil || !ok {
			if c.metrics != nil {
				c.metrics.AuthFailed(resp.username)
			}
			c.framer.writePacket(encodeErrPacket(ErrAccessDenied,
				fmt.Sprintf("Access denied for user '%s'", resp.username)))
			if err != nil {
				return fmt.Errorf("msqlsrv: credential check for %q: %w", resp.username, err)
			}
			return fmt.Errorf("msqlsrv: access denied for user %q", resp.username)
		}
	}

	c.negotiated = clientCaps & (serverCapabilities | capSSL)

	return c.framer.writePacket(encodeOKPacket(0, 0, statusAutocommit, 0, false))
}

// writeInitialHandshake emits Protocol::Handshake (v10) — §4.C step 1.
func (c *Conn) writeInitialHandshake(salt [20]byte) error {
	caps := serverCapabilities
	if c.handler.TLSConfig() != nil {
		caps |= capSSL
	}

	buf := make([]byte, 0, 64+len(c.serverVersion))
	buf = append(buf, 10) // protocol version
	buf = putNulString(buf, c.serverVersion)
	buf = appendUint32(buf, c.connectionID)
	buf = append(buf, salt[:8]...)
	buf = append(buf, 0x00) // filler
	buf = appendUint16(buf, uint16(caps))
	buf = append(buf, 45) // charset: utf8mb4_general_ci
	buf = appendUint16(buf, uint16(statusAutocommit))
	buf = appendUint16(buf, uint16(caps>>16))
	buf = append(buf, 21) // auth-plugin-data-len
	buf = append(buf, make([]byte, 10)...)
	buf = append(buf, salt[8:20]...)
	buf = append(buf, 0x00) // NUL terminator of auth-plugin-data part 2
	buf = putNulString(buf, authPluginName)
	return c.framer.writePacket(buf)
}

// writeAuthSwitchRequest asks the client to retry with mysql_native_password
// (§4.C step 4), used when the client's HandshakeResponse named a different
// plugin.
func (c *Conn) writeAuthSwitchRequest(salt [20]byte) error {
	buf := make([]byte, 0, 32)
	buf = append(buf, 0xfe)
	buf = putNulString(buf, authPluginName)
	buf = append(buf, salt[:]...)
	return c.framer.writePacket(buf)
}

// parseHandshakeResponse parses Protocol::HandshakeResponse41 (§4.C step 3).
func parseHandshakeResponse(payload []byte) (handshakeResponse, error) {
	var resp handshakeResponse
	if len(payload) < 32 {
		return resp, protoErr("handshake response shorter than fixed header", nil)
	}
	resp.capabilities = capabilityFlag(leUint32(payload[0:4]))
	// payload[4:8] max packet size, payload[8] charset, payload[9:32] reserved — all ignored.
	pos := 32

	username, n, err := readNulString(payload[pos:])
	if err != nil {
		return resp, protoErr("reading handshake username", err)
	}
	resp.username = string(username)
	pos += n

	switch {
	case resp.capabilities.has(capPluginAuthLenencData):
		auth, _, n, err := readLenEncString(payload[pos:])
		if err != nil {
			return resp, protoErr("reading lenenc auth response", err)
		}
		resp.authResponse = append([]byte(nil), auth...)
		pos += n
	case resp.capabilities.has(capSecureConnection):
		if pos >= len(payload) {
			return resp, protoErr("missing auth response length", nil)
		}
		l := int(payload[pos])
		pos++
		if pos+l > len(payload) {
			return resp, protoErr("truncated auth response", nil)
		}
		resp.authResponse = append([]byte(nil), payload[pos:pos+l]...)
		pos += l
	default:
		auth, n, err := readNulString(payload[pos:])
		if err != nil {
			return resp, protoErr("reading NUL-terminated auth response", err)
		}
		resp.authResponse = append([]byte(nil), auth...)
		pos += n
	}

	if resp.capabilities.has(capConnectWithDB) && pos < len(payload) {
		db, n, err := readNulString(payload[pos:])
		if err != nil {
			return resp, protoErr("reading default schema", err)
		}
		resp.database = string(db)
		pos += n
	}

	if resp.capabilities.has(capPluginAuth) && pos < len(payload) {
		plugin, n, err := readNulString(payload[pos:])
		if err != nil {
			return resp, protoErr("reading auth plugin name", err)
		}
		resp.authPluginName = string(plugin)
		pos += n
	}

	return resp, nil
}

func randomScramble() ([20]byte, error) {
	var salt [20]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return salt, fmt.Errorf("msqlsrv: generating auth challenge: %w", err)
	}
	// MySQL's scramble must not contain NUL bytes: it is transmitted as
	// part of a NUL-delimited structure in the initial handshake packet.
	for i := range salt {
		if salt[i] == 0 {
			salt[i] = 1
		}
	}
	return salt, nil
}
