package logbus

import (
	"bytes"
	"strings"
	"testing"
)

func TestSnapshotKeepsNewestInOrder(t *testing.T) {
	b := New(3)
	for _, typ := range []string{"a", "b", "c", "d", "e"} {
		b.Publish(typ, nil)
	}
	snap := b.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len(snapshot) = %d, want 3", len(snap))
	}
	for i, want := range []string{"c", "d", "e"} {
		if snap[i].Type != want {
			t.Errorf("snapshot[%d] = %q, want %q", i, snap[i].Type, want)
		}
	}
}

func TestLevelFilterAndConsole(t *testing.T) {
	var out bytes.Buffer
	b := New(10, WithLevel("info"), WithConsole(&out))
	b.Log("debug", "hidden", nil)
	b.Log("info", "task claimed", map[string]any{"taskId": "t1", "attempt": 1})

	snap := b.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("len(snapshot) = %d, want 1", len(snap))
	}
	data, ok := snap[0].Data.(LogData)
	if !ok || data.Msg != "task claimed" {
		t.Fatalf("snapshot[0] = %+v", snap[0])
	}
	line := out.String()
	if !strings.Contains(line, "INFO task claimed attempt=1 taskId=t1") {
		t.Errorf("console line = %q", line)
	}
	if strings.Contains(line, "hidden") {
		t.Errorf("debug message leaked to console: %q", line)
	}
}

func TestSubscribeReceivesAndCancels(t *testing.T) {
	b := New(10)
	ch, cancel := b.Subscribe(4)
	b.Publish("log", "x")
	msg := <-ch
	if msg.Type != "log" {
		t.Errorf("Type = %q, want log", msg.Type)
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	b.Close()
	closed, _ := b.Subscribe(1)
	if _, ok := <-closed; ok {
		t.Error("subscribe after close should return a closed channel")
	}
}
