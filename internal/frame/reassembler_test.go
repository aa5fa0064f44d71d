package frame

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type candidate struct {
	Record   string
	TooLarge bool
}

func collect(t *testing.T, r *Reassembler, chunks ...[]byte) []candidate {
	t.Helper()

	var out []candidate
	for _, chunk := range chunks {
		for record, err := range r.Feed(chunk) {
			if err != nil {
				if !errors.Is(err, ErrFrameTooLarge) {
					t.Fatalf("unexpected error: %v", err)
				}
				out = append(out, candidate{TooLarge: true})
				continue
			}
			out = append(out, candidate{Record: record})
		}
	}
	return out
}

func split(stream []byte, sizes func(remaining int) int) [][]byte {
	var chunks [][]byte
	for len(stream) > 0 {
		n := min(sizes(len(stream)), len(stream))
		chunks = append(chunks, stream[:n])
		stream = stream[n:]
	}
	return chunks
}

func TestReassembler_TwoRecordsInOneChunk(t *testing.T) {
	r := NewReassembler()

	got := collect(t, r, []byte("{\"a\":1}\n{\"b\":2}\n"))
	want := []candidate{{Record: `{"a":1}`}, {Record: `{"b":2}`}}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected candidates (-want +got):\n%s", diff)
	}
	if r.Pending() != 0 {
		t.Errorf("expected empty buffer, got %d pending bytes", r.Pending())
	}
}

func TestReassembler_Edges(t *testing.T) {
	tests := []struct {
		name    string
		chunks  []string
		want    []candidate
		pending int
	}{
		{
			name:   "empty chunk",
			chunks: []string{""},
		},
		{
			name:   "lone delimiter",
			chunks: []string{"\n"},
			want:   []candidate{{Record: ""}},
		},
		{
			name:   "back to back delimiters",
			chunks: []string{"a\n\n\nb\n"},
			want:   []candidate{{Record: "a"}, {Record: ""}, {Record: ""}, {Record: "b"}},
		},
		{
			name:   "crlf",
			chunks: []string{"{\"a\":1}\r\n"},
			want:   []candidate{{Record: `{"a":1}`}},
		},
		{
			name:   "trailing whitespace only",
			chunks: []string{"  {\"a\":1} \t\n"},
			want:   []candidate{{Record: `  {"a":1}`}},
		},
		{
			name:    "partial record carried over",
			chunks:  []string{"{\"a\"", ":1}\n{\"b\""},
			want:    []candidate{{Record: `{"a":1}`}},
			pending: 4,
		},
		{
			name:   "delimiter split from record",
			chunks: []string{"{\"a\":1}", "\n"},
			want:   []candidate{{Record: `{"a":1}`}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReassembler()

			chunks := make([][]byte, len(tt.chunks))
			for i, c := range tt.chunks {
				chunks[i] = []byte(c)
			}

			got := collect(t, r, chunks...)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("unexpected candidates (-want +got):\n%s", diff)
			}
			if r.Pending() != tt.pending {
				t.Errorf("expected %d pending bytes, got %d", tt.pending, r.Pending())
			}
		})
	}
}

func TestReassembler_ChunkingInvariance(t *testing.T) {
	big := strings.Repeat("x", 600)
	stream := []byte(validRecord + "\n\n{}\r\n" + big + "\n" + "{\"a\":1}\n" + big + big + "\n" + "tail")

	whole := collect(t, NewReassembler(WithMaxFrameSize(512)), stream)
	if len(whole) != 6 {
		t.Fatalf("expected 6 candidates, got %d: %+v", len(whole), whole)
	}

	rnd := rand.New(rand.NewSource(1))
	strategies := map[string]func(int) int{
		"single bytes": func(int) int { return 1 },
		"seven bytes":  func(int) int { return 7 },
		"frame sized":  func(int) int { return 512 },
		"random":       func(int) int { return rnd.Intn(64) + 1 },
	}

	for name, sizes := range strategies {
		t.Run(name, func(t *testing.T) {
			r := NewReassembler(WithMaxFrameSize(512))

			got := collect(t, r, split(stream, sizes)...)
			if diff := cmp.Diff(whole, got); diff != "" {
				t.Errorf("candidates depend on chunking (-whole +chunked):\n%s", diff)
			}
			if r.Pending() != len("tail") {
				t.Errorf("expected tail to stay buffered, got %d pending bytes", r.Pending())
			}
		})
	}
}

func TestReassembler_RandomChunking(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	var sb strings.Builder
	for i := 0; i < 200; i++ {
		switch rnd.Intn(4) {
		case 0:
			sb.WriteString(validRecord)
		case 1:
			sb.WriteString(strings.Repeat("y", rnd.Intn(1000)))
		case 2:
			sb.WriteString("{}")
		}
		sb.WriteByte('\n')
	}
	stream := []byte(sb.String())

	want := collect(t, NewReassembler(WithMaxFrameSize(512)), stream)

	for round := 0; round < 20; round++ {
		r := NewReassembler(WithMaxFrameSize(512))
		got := collect(t, r, split(stream, func(int) int { return rnd.Intn(96) + 1 })...)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("round %d: candidates depend on chunking (-whole +chunked):\n%s", round, diff)
		}
	}
}

func TestReassembler_FrameTooLarge(t *testing.T) {
	r := NewReassembler(WithMaxFrameSize(8))

	// the pending tail alone crosses the limit
	got := collect(t, r, []byte("0123456789"), []byte("abc"), []byte("def\n{\"a\":1}\n"))
	want := []candidate{{TooLarge: true}, {Record: `{"a":1}`}}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected candidates (-want +got):\n%s", diff)
	}
	if r.Pending() != 0 {
		t.Errorf("expected empty buffer, got %d", r.Pending())
	}
}

func TestReassembler_FrameTooLarge_Message(t *testing.T) {
	r := NewReassembler(WithMaxFrameSize(4))

	for _, err := range r.Feed([]byte("0123456789\n")) {
		if err == nil {
			t.Fatal("expected error")
		}
		if !strings.Contains(err.Error(), "10 B") || !strings.Contains(err.Error(), "4 B") {
			t.Errorf("expected humanized sizes in %q", err.Error())
		}
	}
}

func TestReassembler_EarlyStop(t *testing.T) {
	r := NewReassembler()

	for record := range r.Feed([]byte("a\nb\nc\n")) {
		if record != "a" {
			t.Fatalf("expected a, got %q", record)
		}
		break
	}

	got := collect(t, r, nil)
	want := []candidate{{Record: "b"}, {Record: "c"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unconsumed records lost (-want +got):\n%s", diff)
	}
}

func TestReassembler_Reset(t *testing.T) {
	r := NewReassembler(WithMaxFrameSize(4))

	_ = collect(t, r, []byte("{\"partial"))
	r.Reset()

	if r.Pending() != 0 {
		t.Fatalf("expected empty buffer after reset, got %d", r.Pending())
	}

	got := collect(t, r, []byte("ok\n"))
	if diff := cmp.Diff([]candidate{{Record: "ok"}}, got); diff != "" {
		t.Errorf("residual bytes after reset (-want +got):\n%s", diff)
	}
}
