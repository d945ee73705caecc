package telegram

import (
	"strings"
	"testing"
)

func TestChunkText_ShortTextSingleChunk(t *testing.T) {
	chunks := chunkText("hello", telegramMaxMessageLen)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Errorf("expected single chunk, got %v", chunks)
	}
}

func TestChunkText_SplitsOnNewlinePastMidpoint(t *testing.T) {
	line := strings.Repeat("a", 10)
	text := strings.Join([]string{line, line, line, line}, "\n")
	chunks := chunkText(text, 25)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len(c) > 25 {
			t.Errorf("chunk exceeds max length: %q", c)
		}
	}
	if strings.Join(chunks, "") != text {
		t.Errorf("chunks lost content: got %q, want %q", strings.Join(chunks, ""), text)
	}
}

func TestChunkText_HardCutWithoutNewline(t *testing.T) {
	text := strings.Repeat("b", 50)
	chunks := chunkText(text, 20)

	if strings.Join(chunks, "") != text {
		t.Errorf("chunks lost content")
	}
	for _, c := range chunks {
		if len(c) > 20 {
			t.Errorf("chunk exceeds max length: %d", len(c))
		}
	}
}
