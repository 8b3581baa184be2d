// Package msqlsrv implements the server side of the MySQL client/server wire
// protocol. It owns packet framing, the handshake state machine, command
// dispatch and result-set encoding; it knows nothing about SQL semantics,
// storage, or query execution. Applications supply a Handler (see handler.go)
// that decides what each command means and what to send back; msqlsrv turns
// those decisions into protocol-correct bytes on the wire.
//
// Authentication is framed but not verified: the library always advertises
// and negotiates mysql_native_password and accepts any scramble the client
// sends, unless the application installs a CredentialChecker (see
// conn.go). This mirrors a MySQL-compatible proxy that trusts its own
// network perimeter rather than a hardened MySQL server.
package msqlsrv
