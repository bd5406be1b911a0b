package firestore

import (
	"fmt"
	"testing"
)

func TestChunkDeduplicatesAndSplits(t *testing.T) {
	values := make([]string, 0, 65)
	for i := 0; i < 64; i++ {
		values = append(values, fmt.Sprintf("id-%02d", i))
	}
	values = append(values, "id-00", " ", "")

	chunks := Chunk(values, 30)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 30 || len(chunks[1]) != 30 || len(chunks[2]) != 4 {
		t.Fatalf("unexpected chunk sizes %d/%d/%d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
	if chunks[2][3] != "id-63" {
		t.Fatalf("unexpected tail %q", chunks[2][3])
	}
	if got := Chunk(nil, 30); len(got) != 0 {
		t.Fatalf("expected no chunks for empty input, got %d", len(got))
	}
}
