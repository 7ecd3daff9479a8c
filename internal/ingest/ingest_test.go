package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jessegalley/ioprobe/internal/layout"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		raw  string
		want Header
		ok   bool
	}{
		{"file.bin|1048576", Header{"file.bin", 1048576}, true},
		{"f| 42 ", Header{"f", 42}, true},
		{"empty|0", Header{"empty", 0}, true},
		{"badheader", Header{}, false},
		{"a|1|2", Header{}, false},
		{"x|abc", Header{}, false},
		{"x|-1", Header{}, false},
		{"|5", Header{}, false},
		{"../etc/passwd|5", Header{}, false},
		{"dir/file|5", Header{}, false},
		{"..|5", Header{}, false},
		{"\xff\xfe|3", Header{}, false},
		{"f|9223372036854775807", Header{"f", 9223372036854775807}, true},
		{"f|9223372036854775808", Header{}, false},
		{"f|18446744073709551615", Header{}, false},
	}
	for _, tt := range tests {
		raw := make([]byte, HeaderSize)
		copy(raw, tt.raw)
		got, err := ParseHeader(raw)
		if tt.ok {
			if err != nil || got != tt.want {
				t.Errorf("ParseHeader(%q) = %+v, %v, want %+v", tt.raw, got, err, tt.want)
			}
			continue
		}
		var perr *ProtocolError
		if !errors.As(err, &perr) || !errors.Is(err, ErrMalformedHeader) {
			t.Errorf("ParseHeader(%q) error = %v, want a malformed header", tt.raw, err)
		}
	}

	if _, err := ParseHeader([]byte("short|1")); err == nil {
		t.Error("header shorter than the preamble accepted")
	}
}

func TestEncodeHeader(t *testing.T) {
	raw, err := EncodeHeader(Header{FileName: "up.bin", DeclaredSize: 1 << 20})
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != HeaderSize || !bytes.HasPrefix(raw, []byte("up.bin|1048576\x00")) {
		t.Errorf("EncodeHeader = %q", bytes.TrimRight(raw, "\x00"))
	}

	if _, err := EncodeHeader(Header{FileName: strings.Repeat("n", HeaderSize)}); err == nil {
		t.Error("oversized header encoded")
	}
	if _, err := EncodeHeader(Header{FileName: "big", DeclaredSize: 1 << 63}); err == nil {
		t.Error("size beyond a file offset encoded")
	}
	if _, err := EncodeHeader(Header{FileName: "../x"}); err == nil {
		t.Error("path like file name encoded")
	}
}

// sendRaw plays the client side of a pipe: header, then payload, then close
func sendRaw(t *testing.T, conn net.Conn, header []byte, payload io.Reader) {
	t.Helper()
	go func() {
		defer conn.Close()
		if _, err := conn.Write(header); err != nil {
			return
		}
		if payload != nil {
			io.Copy(conn, payload)
		}
	}()
}

func mustHeader(t *testing.T, h Header) []byte {
	t.Helper()
	raw, err := EncodeHeader(h)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestReceiveRoundTrip(t *testing.T) {
	const size = 1048576
	dir := t.TempDir()
	client, server := net.Pipe()
	defer server.Close()
	sendRaw(t, client, mustHeader(t, Header{"pattern.bin", size}), layout.NewPatternReader(size))

	res := Receive(context.Background(), server, ReceiverConfig{Dir: dir, Capacity: 4}, log.NewNopLogger())
	if res.Err != nil || res.State != Done {
		t.Fatalf("Receive = %v in state %v", res.Err, res.State)
	}
	if res.Received != size || res.Written != size || res.Incomplete {
		t.Errorf("received %d, written %d, incomplete %v", res.Received, res.Written, res.Incomplete)
	}
	if res.Path != filepath.Join(dir, "pattern.bin") {
		t.Errorf("path %q", res.Path)
	}
	if err := layout.VerifyFile(res.Path, size); err != nil {
		t.Error(err)
	}
}

func TestReceiveBadHeaderCreatesNothing(t *testing.T) {
	dir := t.TempDir()
	client, server := net.Pipe()
	defer server.Close()
	raw := make([]byte, HeaderSize)
	copy(raw, "badheader")
	sendRaw(t, client, raw, nil)

	res := Receive(context.Background(), server, ReceiverConfig{Dir: dir}, log.NewNopLogger())
	if res.State != Aborted || !errors.Is(res.Err, ErrMalformedHeader) {
		t.Errorf("Receive = %v in state %v", res.Err, res.State)
	}
	if res.Written != 0 || res.Path != "" {
		t.Errorf("written %d to %q", res.Written, res.Path)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("storage dir holds %d entries", len(entries))
	}
}

func TestReceiveOversizedDeclarationCreatesNothing(t *testing.T) {
	dir := t.TempDir()
	client, server := net.Pipe()
	defer server.Close()
	raw := make([]byte, HeaderSize)
	copy(raw, "big.dat|18446744073709551615")
	sendRaw(t, client, raw, strings.NewReader("abcde"))

	res := Receive(context.Background(), server, ReceiverConfig{Dir: dir}, log.NewNopLogger())
	if res.State != Aborted || !errors.Is(res.Err, ErrMalformedHeader) {
		t.Errorf("Receive = %v in state %v", res.Err, res.State)
	}
	if res.Received != 0 || res.Path != "" {
		t.Errorf("received %d into %q", res.Received, res.Path)
	}
	if _, err := os.Stat(filepath.Join(dir, "big.dat")); !os.IsNotExist(err) {
		t.Errorf("file created for a rejected header: %v", err)
	}
}

func TestReceiveTruncatedHeader(t *testing.T) {
	dir := t.TempDir()
	client, server := net.Pipe()
	defer server.Close()
	sendRaw(t, client, []byte("up.bin|10"), nil)

	res := Receive(context.Background(), server, ReceiverConfig{Dir: dir}, log.NewNopLogger())
	var perr *ProtocolError
	if res.State != Aborted || !errors.As(res.Err, &perr) || perr.Stage != "header" {
		t.Errorf("Receive = %v in state %v", res.Err, res.State)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("storage dir holds %d entries", len(entries))
	}
}

func TestReceiveEarlyClose(t *testing.T) {
	const size = 1048576
	dir := t.TempDir()
	client, server := net.Pipe()
	defer server.Close()
	sendRaw(t, client, mustHeader(t, Header{"half.bin", size}), layout.NewPatternReader(size/2))

	res := Receive(context.Background(), server, ReceiverConfig{Dir: dir}, log.NewNopLogger())
	if !res.Incomplete || !errors.Is(res.Err, ErrIncompleteTransfer) {
		t.Fatalf("Receive = %v, incomplete %v", res.Err, res.Incomplete)
	}
	var perr *ProtocolError
	if !errors.As(res.Err, &perr) {
		t.Errorf("incomplete transfer not reported as a protocol error: %v", res.Err)
	}
	if res.State != Done || res.Written != size/2 {
		t.Errorf("state %v, written %d", res.State, res.Written)
	}

	// the received half is kept
	if err := layout.VerifyFile(filepath.Join(dir, "half.bin"), size/2); err != nil {
		t.Error(err)
	}
}

func TestReceiveCancelRemovesFile(t *testing.T) {
	dir := t.TempDir()
	client, server := net.Pipe()
	defer client.Close()

	// send the header and a little data, then stall
	go func() {
		raw, _ := EncodeHeader(Header{"stalled.bin", 1 << 20})
		client.Write(raw)
		client.Write(make([]byte, 1000))
	}()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	done := make(chan Result, 1)
	go func() { done <- Receive(ctx, server, ReceiverConfig{Dir: dir}, log.NewNopLogger()) }()
	select {
	case res := <-done:
		if res.State != Aborted || !errors.Is(res.Err, context.Canceled) {
			t.Errorf("Receive = %v in state %v", res.Err, res.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive ignored cancellation")
	}
	if _, err := os.Stat(filepath.Join(dir, "stalled.bin")); !os.IsNotExist(err) {
		t.Errorf("aborted file left behind: %v", err)
	}
}

func TestReceiveMissingDir(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	sendRaw(t, client, mustHeader(t, Header{"x.bin", 10}), layout.NewPatternReader(10))

	dir := filepath.Join(t.TempDir(), "missing")
	res := Receive(context.Background(), server, ReceiverConfig{Dir: dir}, log.NewNopLogger())
	if res.State != Aborted || !errors.Is(res.Err, os.ErrNotExist) {
		t.Errorf("Receive = %v in state %v", res.Err, res.State)
	}
}

func TestStateString(t *testing.T) {
	if Streaming.String() != "streaming" || Aborted.String() != "aborted" || State(42).String() != "unknown" {
		t.Error("unexpected state names")
	}
}

func TestServerEndToEnd(t *testing.T) {
	const size = 256 * 1024
	dir := t.TempDir()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	var out bytes.Buffer
	srv := NewServer(ReceiverConfig{Dir: dir}, metrics, &out, log.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	res, err := Send(ctx, ln.Addr().String(), Header{"up.bin", size}, layout.NewPatternReader(size), SendOptions{DialTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != size {
		t.Errorf("sent %d", res.Sent)
	}

	// a malformed upload is aborted without a file
	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	raw := make([]byte, HeaderSize)
	copy(raw, "badheader")
	conn.Write(raw)
	io.Copy(io.Discard, conn)
	conn.Close()

	// Send returns once the server hung up, so the metrics are settled
	if got := testutil.ToFloat64(metrics.Bytes); got != size {
		t.Errorf("bytes metric %v", got)
	}
	if got := testutil.ToFloat64(metrics.Transfers.WithLabelValues(OutcomeComplete)); got != 1 {
		t.Errorf("complete transfers %v", got)
	}
	if got := testutil.ToFloat64(metrics.Transfers.WithLabelValues(OutcomeAborted)); got != 1 {
		t.Errorf("aborted transfers %v", got)
	}
	if got := testutil.ToFloat64(metrics.Active); got != 0 {
		t.Errorf("active connections %v", got)
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if !strings.Contains(out.String(), "File up.bin received: Written 262144 bytes") {
		t.Errorf("completion output %q", out.String())
	}
	if err := layout.VerifyFile(filepath.Join(dir, "up.bin"), size); err != nil {
		t.Error(err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("storage dir holds %d entries", len(entries))
	}
}
