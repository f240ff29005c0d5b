package worker

import (
	"bufio"
	"context"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/hivecache/hivecache/internal/config"
	"github.com/hivecache/hivecache/internal/ioadapter"
	"github.com/hivecache/hivecache/internal/metrics"
	"github.com/hivecache/hivecache/internal/storagedb"
	"github.com/hivecache/hivecache/internal/transaction"
)

func startTestWorker(t *testing.T) (*Worker, func()) {
	t.Helper()
	transaction.Init(1)
	cfg := *config.DefaultConfig()
	cfg.MaxKeys = 1024
	db := storagedb.New(cfg, 1)
	m := metrics.New(prometheus.NewRegistry())

	w := New(0, &cfg, db, m, zerolog.Nop())
	if err := w.Start(context.Background(), "127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return w, func() { w.Stop() }
}

func sendCommand(t *testing.T, addr string, args ...string) string {
	t.Helper()
	conn, err := ioadapter.Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	req := "*" + itoa(len(args)) + "\r\n"
	for _, a := range args {
		req += "$" + itoa(len(a)) + "\r\n" + a + "\r\n"
	}
	if _, err := conn.Send([]byte(req)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	r := bufio.NewReader(connReader{conn})
	line, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		t.Fatalf("read reply: %v", err)
	}
	return line
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func TestPingPong(t *testing.T) {
	w, stop := startTestWorker(t)
	defer stop()

	reply := sendCommand(t, w.ln.Addr().String(), "PING")
	if reply != "+PONG\r\n" {
		t.Fatalf("got %q, want +PONG\\r\\n", reply)
	}
}

func TestSetDel(t *testing.T) {
	w, stop := startTestWorker(t)
	defer stop()
	addr := w.ln.Addr().String()

	if reply := sendCommand(t, addr, "SET", "foo", "bar"); reply != "+OK\r\n" {
		t.Fatalf("SET reply = %q", reply)
	}
	if reply := sendCommand(t, addr, "DEL", "foo"); reply != ":1\r\n" {
		t.Fatalf("DEL reply = %q, want :1", reply)
	}
	if reply := sendCommand(t, addr, "DEL", "foo"); reply != ":0\r\n" {
		t.Fatalf("DEL on missing key = %q, want :0", reply)
	}
}

func TestUnknownCommand(t *testing.T) {
	w, stop := startTestWorker(t)
	defer stop()

	reply := sendCommand(t, w.ln.Addr().String(), "BOGUS")
	if len(reply) == 0 || reply[0] != '-' {
		t.Fatalf("expected an error reply, got %q", reply)
	}
}
