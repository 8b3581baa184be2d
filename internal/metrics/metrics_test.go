package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConnectionLifecycle(t *testing.T) {
	c := New()

	c.ConnectionOpened()
	c.ConnectionOpened()
	if got := testutil.ToFloat64(c.connectionsActive); got != 2 {
		t.Errorf("connectionsActive = %v, want 2", got)
	}

	c.ConnectionClosed(nil)
	if got := testutil.ToFloat64(c.connectionsActive); got != 1 {
		t.Errorf("connectionsActive after close = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.connectionsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("connectionsTotal{ok} = %v, want 1", got)
	}

	c.ConnectionClosed(errors.New("boom"))
	if got := testutil.ToFloat64(c.connectionsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("connectionsTotal{error} = %v, want 1", got)
	}
}

func TestCommandHandled(t *testing.T) {
	c := New()

	c.CommandHandled(0x03, 5*time.Millisecond, nil)
	if got := testutil.ToFloat64(c.commandsTotal.WithLabelValues("query", "ok")); got != 1 {
		t.Errorf("commandsTotal{query,ok} = %v, want 1", got)
	}

	c.CommandHandled(0x17, time.Millisecond, errors.New("fail"))
	if got := testutil.ToFloat64(c.commandsTotal.WithLabelValues("stmt_execute", "err")); got != 1 {
		t.Errorf("commandsTotal{stmt_execute,err} = %v, want 1", got)
	}

	c.CommandHandled(0x7f, time.Millisecond, nil)
	if got := testutil.ToFloat64(c.commandsTotal.WithLabelValues("0x7f", "ok")); got != 1 {
		t.Errorf("commandsTotal{0x7f,ok} = %v, want 1", got)
	}
}

func TestAuthFailed(t *testing.T) {
	c := New()
	c.AuthFailed("bad password")
	c.AuthFailed("unknown user")
	if got := testutil.ToFloat64(c.authFailuresTotal); got != 2 {
		t.Errorf("authFailuresTotal = %v, want 2", got)
	}
}

func TestOpcodeLabel(t *testing.T) {
	cases := map[byte]string{
		0x01: "quit",
		0x02: "init_db",
		0x0e: "ping",
		0x16: "stmt_prepare",
		0x1d: "stmt_fetch",
		0x99: "0x99",
	}
	for op, want := range cases {
		if got := opcodeLabel(op); got != want {
			t.Errorf("opcodeLabel(0x%02x) = %q, want %q", op, got, want)
		}
	}
}
