package transport

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

const capture = "{\"a\":1}\n{\"b\":2}\n"

func newCaptureDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	files := map[string]string{
		"bench.jsonl": capture,
		"run-2.jsonl": capture,
		"notes.txt":   "ignored",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	return dir
}

func readAll(t *testing.T, p Port, limit int) []byte {
	t.Helper()

	var out bytes.Buffer
	buf := make([]byte, 32)
	for i := 0; i < limit; i++ {
		n, err := p.Read(buf)
		out.Write(buf[:n])
		if errors.Is(err, io.EOF) {
			return out.Bytes()
		}
		if err != nil {
			t.Fatalf("unexpected read error: %v", err)
		}
		if n > 4 {
			t.Fatalf("expected chunks of at most 4 bytes, got %d", n)
		}
	}
	return out.Bytes()
}

func TestReplay_Ports(t *testing.T) {
	r := NewReplay(newCaptureDir(t))

	ports, err := r.Ports()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"bench.jsonl", "run-2.jsonl"}
	if !slices.Equal(ports, want) {
		t.Errorf("expected %v, got %v", want, ports)
	}
}

func TestReplay_Open(t *testing.T) {
	r := NewReplay(newCaptureDir(t))

	tests := []struct {
		name    string
		port    string
		wantErr bool
	}{
		{name: "capture", port: "bench.jsonl"},
		{name: "missing", port: "absent.jsonl", wantErr: true},
		{name: "wrong extension", port: "notes.txt", wantErr: true},
		{name: "path traversal", port: "../bench.jsonl", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := r.Open(tt.port, DefaultBaudRate)
			if tt.wantErr {
				if !errors.Is(err, ErrPortUnavailable) {
					t.Fatalf("expected ErrPortUnavailable, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			_ = p.Close()
		})
	}
}

func TestReplay_Read(t *testing.T) {
	r := NewReplay(newCaptureDir(t), WithReplayChunkSize(4))

	p, err := r.Open("bench.jsonl", DefaultBaudRate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	if got := readAll(t, p, 100); string(got) != capture {
		t.Errorf("expected %q, got %q", capture, got)
	}
}

func TestReplay_Loop(t *testing.T) {
	r := NewReplay(newCaptureDir(t), WithReplayChunkSize(4), WithReplayLoop(true))

	p, err := r.Open("bench.jsonl", DefaultBaudRate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	got := readAll(t, p, 20)
	if !bytes.HasPrefix(got, []byte(capture+"{\"a")) {
		t.Errorf("expected capture to repeat, got %q", got)
	}
}

func TestReplay_Close(t *testing.T) {
	r := NewReplay(newCaptureDir(t), WithReplayInterval(time.Hour))

	p, err := r.Open("bench.jsonl", DefaultBaudRate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n, err := p.Write([]byte("ON\n")); err != nil || n != 3 {
		t.Fatalf("expected write of 3 bytes, got %d %v", n, err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := p.Read(make([]byte, 8))
		done <- err
	}()

	if err = p.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if err = p.Close(); err != nil {
		t.Fatalf("second close must be a no-op, got %v", err)
	}

	select {
	case err = <-done:
		if !errors.Is(err, ErrPortClosed) {
			t.Errorf("expected ErrPortClosed from blocked read, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("read did not unblock after close")
	}

	if _, err = p.Write([]byte("OFF\n")); !errors.Is(err, ErrPortClosed) {
		t.Errorf("expected ErrPortClosed from write, got %v", err)
	}
}
