package logbus

import (
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

type Message struct {
	Type string `json:"type"`
	Time int64  `json:"time"`
	Data any    `json:"data"`
}

type LogData struct {
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

var levelRank = map[string]int{
	"trace": 0,
	"debug": 1,
	"info":  2,
	"warn":  3,
	"error": 4,
}

// Bus keeps the most recent messages in a ring and fans them out to subscribers.
type Bus struct {
	mu       sync.RWMutex
	buf      []Message
	next     int
	full     bool
	subs     map[chan Message]struct{}
	closed   bool
	minLevel int
	console  *log.Logger
}

type Option func(*Bus)

// WithLevel drops log messages below level. Unknown levels are ignored.
func WithLevel(level string) Option {
	return func(b *Bus) {
		if r, ok := levelRank[strings.ToLower(level)]; ok {
			b.minLevel = r
		}
	}
}

// WithConsole mirrors every accepted log message to w as one line.
func WithConsole(w io.Writer) Option {
	return func(b *Bus) {
		if w != nil {
			b.console = log.New(w, "", log.LstdFlags|log.Lmicroseconds)
		}
	}
}

func New(capacity int, opts ...Option) *Bus {
	if capacity <= 0 {
		capacity = 200
	}
	b := &Bus{
		buf:      make([]Message, capacity),
		subs:     make(map[chan Message]struct{}),
		minLevel: levelRank["info"],
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// Snapshot returns the buffered messages oldest first.
func (b *Bus) Snapshot() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.full {
		return append([]Message(nil), b.buf[:b.next]...)
	}
	out := make([]Message, 0, len(b.buf))
	out = append(out, b.buf[b.next:]...)
	return append(out, b.buf[:b.next]...)
}

func (b *Bus) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Message, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish records msg and delivers it to subscribers. Slow subscribers miss messages.
func (b *Bus) Publish(typ string, data any) {
	msg := Message{Type: typ, Time: time.Now().UnixMilli(), Data: data}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.buf[b.next] = msg
	b.next = (b.next + 1) % len(b.buf)
	if b.next == 0 {
		b.full = true
	}
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Enabled reports whether messages at level pass the filter.
func (b *Bus) Enabled(level string) bool {
	r, ok := levelRank[level]
	return !ok || r >= b.minLevel
}

func (b *Bus) Log(level, message string, fields map[string]any) {
	if !b.Enabled(level) {
		return
	}
	if b.console != nil {
		b.console.Print(formatLine(level, message, fields))
	}
	b.Publish("log", LogData{Level: level, Msg: message, Fields: fields})
}

func formatLine(level, message string, fields map[string]any) string {
	var sb strings.Builder
	sb.WriteString(strings.ToUpper(level))
	sb.WriteByte(' ')
	sb.WriteString(message)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, fields[k])
	}
	return sb.String()
}
