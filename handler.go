package msqlsrv

import "crypto/tls"

// Handler is the application-supplied dispatch surface (§4.G, the "shim").
// msqlsrv owns framing, the handshake, and reply-shape correctness; Handler
// owns what each request means. Every method may block; msqlsrv does not
// read the next command until the current call returns and, where the
// contract requires it, the writer it was given has been finished.
//
// Implementations that have nothing useful to do for a given callback can
// embed NopHandler and override only what they need.
type Handler interface {
	// OnInit is called for COM_INIT_DB ("USE <schema>"). The implementation
	// must call exactly one of InitWriter.OK or InitWriter.Error.
	OnInit(schema string, w *InitWriter) error

	// OnQuery is called for COM_QUERY. The implementation must drive w to
	// completion: either QueryResultWriter.Completed/Error directly, or
	// Start followed by zero or more rows and a Finish/FinishError.
	OnQuery(query string, w *QueryResultWriter) error

	// OnPrepare is called for COM_STMT_PREPARE. It returns the statement id
	// the implementation wants to use plus the parameter and result column
	// metadata, or writes an error via w and returns nil.
	OnPrepare(query string, w *StatementMetaWriter) (stmtID uint32, params, columns []Column, err error)

	// OnExecute is called for COM_STMT_EXECUTE once the binary parameter
	// block has been decoded. Same completion contract as OnQuery.
	OnExecute(stmtID uint32, params []ParamValue, w *QueryResultWriter) error

	// OnClose is called for COM_STMT_CLOSE. No reply is sent for this
	// command; OnClose cannot fail the connection.
	OnClose(stmtID uint32)

	// TLSConfig returns the server TLS configuration to use for a mid-
	// handshake upgrade, or nil if this server doesn't support TLS.
	TLSConfig() *tls.Config
}

// NopHandler implements Handler with inert defaults: OnInit/OnQuery/
// OnExecute reply OK with zero affected rows, OnPrepare replies with an
// ErrNotSupportedYet error, OnClose is a no-op, TLSConfig returns nil. Embed it in
// a Handler implementation to override only the callbacks that matter.
type NopHandler struct{}

func (NopHandler) OnInit(_ string, w *InitWriter) error {
	return w.OK()
}

func (NopHandler) OnQuery(_ string, w *QueryResultWriter) error {
	return w.Completed(0, 0)
}

func (NopHandler) OnPrepare(_ string, w *StatementMetaWriter) (uint32, []Column, []Column, error) {
	return 0, nil, nil, w.Error(ErrNotSupportedYet, "prepared statements not supported")
}

func (NopHandler) OnExecute(_ uint32, _ []ParamValue, w *QueryResultWriter) error {
	return w.Completed(0, 0)
}

func (NopHandler) OnClose(_ uint32) {}

func (NopHandler) TLSConfig() *tls.Config { return nil }
