package main

import (
	"crypto/tls"
	"fmt"
	"strings"
	"sync"

	"github.com/dbbouncer/msqlsrv"
)

// memTable is one in-memory table of the demo catalog: a fixed column
// schema and a slice of rows, each row a []any lining up with columns.
type memTable struct {
	name    string
	columns []msqlsrv.Column
	rows    [][]any
}

// demoHandler implements msqlsrv.Handler against a tiny, fixed in-memory
// catalog (SPEC_FULL.md §4.K): "SELECT * FROM <table>" and
// "SELECT 1"-style scalar probes are recognized by simple prefix/keyword
// matching (no SQL parsing, per the library's non-goals), everything else
// is treated as a statement that affects zero rows.
type demoHandler struct {
	mu        sync.Mutex
	schema    string
	tlsConfig *tls.Config

	tables map[string]*memTable

	nextStmtID uint32
	statements map[uint32]*preparedQuery
}

type preparedQuery struct {
	table   string
	columns []msqlsrv.Column
	params  []msqlsrv.Column
}

// newDemoHandler seeds a small "users" table so a client driving this demo
// through any of the seven end-to-end scenarios has something to select.
func newDemoHandler(tlsConfig *tls.Config) *demoHandler {
	h := &demoHandler{
		tlsConfig:  tlsConfig,
		statements: make(map[uint32]*preparedQuery),
		tables:     make(map[string]*memTable),
	}
	h.tables["users"] = &memTable{
		name: "users",
		columns: []msqlsrv.Column{
			{Name: "id", Type: msqlsrv.TypeLong, Flags: msqlsrv.FlagNotNull | msqlsrv.FlagPriKey},
			{Name: "name", Type: msqlsrv.TypeVarString},
			{Name: "email", Type: msqlsrv.TypeVarString},
		},
		rows: [][]any{
			{int32(1), "ada", "ada@example.com"},
			{int32(2), "grace", "grace@example.com"},
		},
	}
	return h
}

func (h *demoHandler) TLSConfig() *tls.Config {
	return h.tlsConfig
}

func (h *demoHandler) OnInit(schema string, w *msqlsrv.InitWriter) error {
	h.mu.Lock()
	h.schema = schema
	h.mu.Unlock()
	return w.OK()
}

func (h *demoHandler) OnClose(stmtID uint32) {
	h.mu.Lock()
	delete(h.statements, stmtID)
	h.mu.Unlock()
}

func (h *demoHandler) OnQuery(query string, w *msqlsrv.QueryResultWriter) error {
	q := strings.TrimSpace(query)
	switch {
	case strings.EqualFold(q, "select 1"):
		return writeScalar(w, "1", int32(1))
	case strings.EqualFold(q, "select @@version"):
		return writeScalar(w, "@@version", "8.0.0-msqlsrv")
	}

	table, ok := h.tableForQuery(q)
	if !ok {
		return w.Completed(0, 0)
	}

	rw, err := w.Start(table.columns)
	if err != nil {
		return err
	}
	for _, row := range table.rows {
		if err := rw.WriteRow(row...); err != nil {
			return err
		}
	}
	return rw.Finish()
}

func (h *demoHandler) OnPrepare(query string, w *msqlsrv.StatementMetaWriter) (uint32, []msqlsrv.Column, []msqlsrv.Column, error) {
	q := strings.TrimSpace(query)
	table, ok := h.tableForQuery(q)
	if !ok {
		return 0, nil, nil, w.Error(msqlsrv.ErrNotSupportedYet, fmt.Sprintf("cannot prepare: %s", q))
	}

	var params []msqlsrv.Column
	if strings.Contains(q, "?") {
		params = []msqlsrv.Column{{Name: "id", Type: msqlsrv.TypeLong}}
	}

	h.mu.Lock()
	h.nextStmtID++
	id := h.nextStmtID
	h.statements[id] = &preparedQuery{table: table.name, columns: table.columns, params: params}
	h.mu.Unlock()

	return id, params, table.columns, nil
}

func (h *demoHandler) OnExecute(stmtID uint32, params []msqlsrv.ParamValue, w *msqlsrv.QueryResultWriter) error {
	h.mu.Lock()
	stmt, ok := h.statements[stmtID]
	h.mu.Unlock()
	if !ok {
		return w.Error(msqlsrv.ErrUnknownStmtHandler, fmt.Sprintf("unknown statement id %d", stmtID))
	}

	table := h.tables[stmt.table]
	if table == nil {
		return w.Completed(0, 0)
	}

	rw, err := w.Start(table.columns)
	if err != nil {
		return err
	}

	rows := table.rows
	if len(params) > 0 && params[0].Kind != msqlsrv.ParamNull {
		id, _ := paramAsInt(params[0])
		rows = filterByID(table.rows, id)
	}
	for _, row := range rows {
		if err := rw.WriteRow(row...); err != nil {
			return err
		}
	}
	return rw.Finish()
}

// tableForQuery recognizes "SELECT ... FROM <name>" case-insensitively and
// returns the matching in-memory table, if any.
func (h *demoHandler) tableForQuery(q string) (*memTable, bool) {
	lower := strings.ToLower(q)
	idx := strings.Index(lower, "from ")
	if idx < 0 {
		return nil, false
	}
	rest := strings.TrimSpace(q[idx+len("from "):])
	name := strings.ToLower(strings.Fields(rest)[0])
	t, ok := h.tables[name]
	return t, ok
}

func writeScalar(w *msqlsrv.QueryResultWriter, name string, v any) error {
	col := msqlsrv.Column{Name: name, Type: scalarColumnType(v)}
	rw, err := w.Start([]msqlsrv.Column{col})
	if err != nil {
		return err
	}
	if err := rw.WriteRow(v); err != nil {
		return err
	}
	return rw.Finish()
}

func scalarColumnType(v any) msqlsrv.ColumnType {
	switch v.(type) {
	case int32, int64, int:
		return msqlsrv.TypeLong
	default:
		return msqlsrv.TypeVarString
	}
}

func paramAsInt(p msqlsrv.ParamValue) (int64, bool) {
	switch p.Kind {
	case msqlsrv.ParamInt:
		return p.Int, true
	case msqlsrv.ParamUint:
		return int64(p.Uint), true
	default:
		return 0, false
	}
}

func filterByID(rows [][]any, id int64) [][]any {
	var out [][]any
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		switch v := row[0].(type) {
		case int32:
			if int64(v) == id {
				out = append(out, row)
			}
		case int64:
			if v == id {
				out = append(out, row)
			}
		}
	}
	return out
}
