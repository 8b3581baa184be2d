package msqlsrv

import (
	"net"
	"testing"
	"time"
)

// scriptedHandler lets each end-to-end test supply only the callbacks it
// exercises; everything else falls back to NopHandler's inert defaults.
type scriptedHandler struct {
	NopHandler
	onQuery   func(string, *QueryResultWriter) error
	onPrepare func(string, *StatementMetaWriter) (uint32, []Column, []Column, error)
	onExecute func(uint32, []ParamValue, *QueryResultWriter) error
}

func (h *scriptedHandler) OnQuery(q string, w *QueryResultWriter) error {
	if h.onQuery != nil {
		return h.onQuery(q, w)
	}
	return h.NopHandler.OnQuery(q, w)
}

func (h *scriptedHandler) OnPrepare(q string, w *StatementMetaWriter) (uint32, []Column, []Column, error) {
	if h.onPrepare != nil {
		return h.onPrepare(q, w)
	}
	return h.NopHandler.OnPrepare(q, w)
}

func (h *scriptedHandler) OnExecute(id uint32, p []ParamValue, w *QueryResultWriter) error {
	if h.onExecute != nil {
		return h.onExecute(id, p, w)
	}
	return h.NopHandler.OnExecute(id, p, w)
}

// testClient drives the client half of a net.Pipe connection through the
// handshake with no TLS and CLIENT_DEPRECATE_EOF negotiated, the path every
// scenario in this file exercises.
type testClient struct {
	f *packetFramer
}

func newTestClient(t *testing.T, conn net.Conn) *testClient {
	t.Helper()
	tc := &testClient{f: newPacketFramer(conn)}

	greeting, err := tc.f.readPacket()
	if err != nil {
		t.Fatalf("reading initial handshake: %v", err)
	}
	if greeting[0] != 10 {
		t.Fatalf("protocol version = %d, want 10", greeting[0])
	}

	caps := serverCapabilities
	resp := make([]byte, 0, 64)
	resp = appendUint32(resp, uint32(caps))
	resp = appendUint32(resp, 1<<24-1)
	resp = append(resp, 45)
	resp = append(resp, make([]byte, 23)...)
	resp = putNulString(resp, "tester")
	resp = append(resp, 0) // zero-length auth response
	resp = putNulString(resp, authPluginName)

	if err := tc.f.writePacket(resp); err != nil {
		t.Fatalf("writing handshake response: %v", err)
	}

	ok, err := tc.f.readPacket()
	if err != nil {
		t.Fatalf("reading handshake OK: %v", err)
	}
	if ok[0] != 0x00 {
		t.Fatalf("handshake result header = 0x%02x, want OK (0x00)", ok[0])
	}
	return tc
}

func (tc *testClient) command(opcode byte, body []byte) error {
	tc.f.resetSeq()
	pkt := append([]byte{opcode}, body...)
	return tc.f.writePacket(pkt)
}

func serveOnPipe(handler Handler) (clientConn net.Conn, done chan error) {
	serverConn, c := net.Pipe()
	done = make(chan error, 1)
	go func() {
		done <- Serve(serverConn, handler)
	}()
	return c, done
}

func TestEndToEndConnectPingQuit(t *testing.T) {
	conn, done := serveOnPipe(NopHandler{})
	defer conn.Close()
	tc := newTestClient(t, conn)

	if err := tc.command(comPing, nil); err != nil {
		t.Fatalf("sending ping: %v", err)
	}
	reply, err := tc.f.readPacket()
	if err != nil {
		t.Fatalf("reading ping reply: %v", err)
	}
	if reply[0] != 0x00 {
		t.Fatalf("ping reply header = 0x%02x, want OK", reply[0])
	}

	if err := tc.command(comQuit, nil); err != nil {
		t.Fatalf("sending quit: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned error after quit: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after COM_QUIT")
	}
}

func TestEndToEndInitDB(t *testing.T) {
	conn, _ := serveOnPipe(NopHandler{})
	defer conn.Close()
	tc := newTestClient(t, conn)

	if err := tc.command(comInitDB, []byte("mydb")); err != nil {
		t.Fatalf("sending init db: %v", err)
	}
	reply, err := tc.f.readPacket()
	if err != nil {
		t.Fatalf("reading init db reply: %v", err)
	}
	if reply[0] != 0x00 {
		t.Fatalf("init db reply header = 0x%02x, want OK", reply[0])
	}
}

func TestEndToEndSingleRowQuery(t *testing.T) {
	h := &scriptedHandler{onQuery: func(q string, w *QueryResultWriter) error {
		rw, err := w.Start([]Column{{Name: "n", Type: TypeLong}})
		if err != nil {
			return err
		}
		if err := rw.WriteRow(int32(7)); err != nil {
			return err
		}
		return rw.Finish()
	}}
	conn, _ := serveOnPipe(h)
	defer conn.Close()
	tc := newTestClient(t, conn)

	if err := tc.command(comQuery, []byte("select 7")); err != nil {
		t.Fatalf("sending query: %v", err)
	}

	header, err := tc.f.readPacket()
	if err != nil {
		t.Fatalf("reading column-count header: %v", err)
	}
	count, _, _, err := readLenEncInt(header)
	if err != nil || count != 1 {
		t.Fatalf("column count = %d, err=%v, want 1", count, err)
	}

	if _, err := tc.f.readPacket(); err != nil {
		t.Fatalf("reading column def: %v", err)
	}
	row, err := tc.f.readPacket()
	if err != nil {
		t.Fatalf("reading row: %v", err)
	}
	if len(row) == 0 {
		t.Fatal("expected a non-empty row packet")
	}
	term, err := tc.f.readPacket()
	if err != nil {
		t.Fatalf("reading terminator: %v", err)
	}
	if term[0] != 0xfe {
		t.Fatalf("terminator header = 0x%02x, want 0xfe (deprecate-EOF OK)", term[0])
	}
}

func TestEndToEndZeroColumnResultHasNoRowPackets(t *testing.T) {
	h := &scriptedHandler{onQuery: func(q string, w *QueryResultWriter) error {
		rw, err := w.Start(nil)
		if err != nil {
			return err
		}
		return rw.Finish()
	}}
	conn, _ := serveOnPipe(h)
	defer conn.Close()
	tc := newTestClient(t, conn)

	if err := tc.command(comQuery, []byte("do nothing")); err != nil {
		t.Fatalf("sending query: %v", err)
	}

	header, err := tc.f.readPacket()
	if err != nil {
		t.Fatalf("reading column-count header: %v", err)
	}
	count, _, _, err := readLenEncInt(header)
	if err != nil || count != 0 {
		t.Fatalf("column count = %d, err=%v, want 0", count, err)
	}

	// With zero columns there are no column-def packets and no legacy EOF
	// separator (negotiated CLIENT_DEPRECATE_EOF); the very next packet is
	// the terminator.
	term, err := tc.f.readPacket()
	if err != nil {
		t.Fatalf("reading terminator: %v", err)
	}
	if term[0] != 0xfe {
		t.Fatalf("terminator header = 0x%02x, want 0xfe", term[0])
	}
}

func TestEndToEndMultiResultSet(t *testing.T) {
	h := &scriptedHandler{onQuery: func(q string, w *QueryResultWriter) error {
		rw, err := w.Start([]Column{{Name: "a", Type: TypeLong}})
		if err != nil {
			return err
		}
		if err := rw.WriteRow(int32(1)); err != nil {
			return err
		}
		next, err := rw.FinishOne()
		if err != nil {
			return err
		}
		return next.Completed(1, 0)
	}}
	conn, _ := serveOnPipe(h)
	defer conn.Close()
	tc := newTestClient(t, conn)

	if err := tc.command(comQuery, []byte("multi")); err != nil {
		t.Fatalf("sending query: %v", err)
	}

	if _, err := tc.f.readPacket(); err != nil { // column count
		t.Fatalf("reading column count: %v", err)
	}
	if _, err := tc.f.readPacket(); err != nil { // column def
		t.Fatalf("reading column def: %v", err)
	}
	if _, err := tc.f.readPacket(); err != nil { // row
		t.Fatalf("reading row: %v", err)
	}
	term, err := tc.f.readPacket() // terminator with SERVER_MORE_RESULTS_EXISTS
	if err != nil {
		t.Fatalf("reading first terminator: %v", err)
	}
	status := uint16(term[3]) | uint16(term[4])<<8
	if serverStatusFlag(status)&statusMoreResultsExists == 0 {
		t.Errorf("expected SERVER_MORE_RESULTS_EXISTS set, status=0x%04x", status)
	}

	second, err := tc.f.readPacket() // second result set's OK
	if err != nil {
		t.Fatalf("reading second result set: %v", err)
	}
	if second[0] != 0x00 {
		t.Fatalf("second result set header = 0x%02x, want OK", second[0])
	}
}

func TestEndToEndMidResultError(t *testing.T) {
	h := &scriptedHandler{onQuery: func(q string, w *QueryResultWriter) error {
		rw, err := w.Start([]Column{{Name: "a", Type: TypeLong}})
		if err != nil {
			return err
		}
		if err := rw.WriteRow(int32(1)); err != nil {
			return err
		}
		return rw.FinishError(ErrInternalError, "boom partway through")
	}}
	conn, _ := serveOnPipe(h)
	defer conn.Close()
	tc := newTestClient(t, conn)

	if err := tc.command(comQuery, []byte("broken")); err != nil {
		t.Fatalf("sending query: %v", err)
	}

	if _, err := tc.f.readPacket(); err != nil { // column count
		t.Fatalf("reading column count: %v", err)
	}
	if _, err := tc.f.readPacket(); err != nil { // column def
		t.Fatalf("reading column def: %v", err)
	}
	if _, err := tc.f.readPacket(); err != nil { // row
		t.Fatalf("reading row: %v", err)
	}
	errPkt, err := tc.f.readPacket()
	if err != nil {
		t.Fatalf("reading error packet: %v", err)
	}
	if errPkt[0] != 0xff {
		t.Fatalf("error packet header = 0x%02x, want 0xff", errPkt[0])
	}
}

func TestEndToEndPreparedStatementExecute(t *testing.T) {
	h := &scriptedHandler{
		onPrepare: func(q string, w *StatementMetaWriter) (uint32, []Column, []Column, error) {
			return 1, []Column{{Name: "id", Type: TypeLong}}, []Column{{Name: "name", Type: TypeVarString}}, nil
		},
		onExecute: func(id uint32, params []ParamValue, w *QueryResultWriter) error {
			rw, err := w.Start([]Column{{Name: "name", Type: TypeVarString}})
			if err != nil {
				return err
			}
			if err := rw.WriteRow("ada"); err != nil {
				return err
			}
			return rw.Finish()
		},
	}
	conn, _ := serveOnPipe(h)
	defer conn.Close()
	tc := newTestClient(t, conn)

	if err := tc.command(comStmtPrepare, []byte("select name from users where id = ?")); err != nil {
		t.Fatalf("sending prepare: %v", err)
	}
	prepOK, err := tc.f.readPacket()
	if err != nil {
		t.Fatalf("reading prepare OK: %v", err)
	}
	if prepOK[0] != 0x00 {
		t.Fatalf("prepare OK header = 0x%02x, want 0x00", prepOK[0])
	}
	stmtID := leUint32(prepOK[1:5])
	if stmtID != 1 {
		t.Fatalf("stmt id = %d, want 1", stmtID)
	}
	numCols := uint16(prepOK[5]) | uint16(prepOK[6])<<8
	numParams := uint16(prepOK[7]) | uint16(prepOK[8])<<8
	if numCols != 1 || numParams != 1 {
		t.Fatalf("numCols=%d numParams=%d, want 1,1", numCols, numParams)
	}

	if _, err := tc.f.readPacket(); err != nil { // param column def
		t.Fatalf("reading param column def: %v", err)
	}
	if _, err := tc.f.readPacket(); err != nil { // result column def
		t.Fatalf("reading result column def: %v", err)
	}

	// COM_STMT_EXECUTE: stmt-id, flags=0, iteration-count=1, then NULL
	// bitmap (1 byte, no nulls), new-params-bound=1, one LONG type tag,
	// then the int32 value.
	body := make([]byte, 0, 32)
	body = appendUint32(body, stmtID)
	body = append(body, 0x00)
	body = appendUint32(body, 1)
	body = append(body, 0x00) // NULL bitmap
	body = append(body, 0x01) // new-params-bound
	body = append(body, byte(TypeLong), 0x00)
	body = appendUint32(body, 5)

	if err := tc.command(comStmtExecute, body); err != nil {
		t.Fatalf("sending execute: %v", err)
	}

	header, err := tc.f.readPacket()
	if err != nil {
		t.Fatalf("reading execute column count: %v", err)
	}
	count, _, _, err := readLenEncInt(header)
	if err != nil || count != 1 {
		t.Fatalf("column count = %d, err=%v, want 1", count, err)
	}
	if _, err := tc.f.readPacket(); err != nil { // column def
		t.Fatalf("reading column def: %v", err)
	}
	row, err := tc.f.readPacket()
	if err != nil {
		t.Fatalf("reading binary row: %v", err)
	}
	if row[0] != 0x00 {
		t.Fatalf("binary row packet header = 0x%02x, want 0x00", row[0])
	}
	if _, err := tc.f.readPacket(); err != nil { // terminator
		t.Fatalf("reading terminator: %v", err)
	}
}
