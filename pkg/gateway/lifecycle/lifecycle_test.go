package lifecycle

import (
	"context"
	"testing"
	"time"
)

func TestLifecycle_WaitForInflight(t *testing.T) {
	var l Lifecycle
	done, ok := l.Begin()
	if !ok {
		t.Fatal("begin refused before draining")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if l.Wait(ctx) {
		t.Fatal("wait returned true with work in flight")
	}
	if !l.IsDraining() {
		t.Fatal("wait should start draining")
	}
	if _, ok := l.Begin(); ok {
		t.Fatal("begin accepted while draining")
	}

	done()
	done()
	if !l.Wait(context.Background()) {
		t.Fatal("wait returned false after work finished")
	}
}

func TestLifecycle_NilSafe(t *testing.T) {
	var l *Lifecycle
	l.SetDraining(true)
	if l.IsDraining() {
		t.Fatal("nil lifecycle reports draining")
	}
	if _, ok := l.Begin(); !ok {
		t.Fatal("nil lifecycle refused work")
	}
}
