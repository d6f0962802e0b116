package bus

import (
	"strings"
	"testing"
)

func TestSplitMessageShortText(t *testing.T) {
	chunks := SplitMessage("hello", 100)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
}

func TestSplitMessageParagraphBoundaries(t *testing.T) {
	a := strings.Repeat("a", 60)
	b := strings.Repeat("b", 60)
	c := strings.Repeat("c", 60)
	text := a + "\n\n" + b + "\n\n" + c

	chunks := SplitMessage(text, 130)
	if len(chunks) != 2 {
		t.Fatalf("expected two chunks, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0] != a+"\n\n"+b {
		t.Fatalf("first chunk should hold two paragraphs: %q", chunks[0])
	}
	if chunks[1] != c {
		t.Fatalf("second chunk should hold the last paragraph: %q", chunks[1])
	}
}

func TestSplitMessagePreservesOrder(t *testing.T) {
	var paragraphs []string
	for i := 0; i < 10; i++ {
		paragraphs = append(paragraphs, strings.Repeat(string(rune('a'+i)), 50))
	}
	text := strings.Join(paragraphs, "\n\n")

	chunks := SplitMessage(text, 120)
	joined := strings.Join(chunks, "\n\n")
	if joined != text {
		t.Fatalf("rejoined chunks must equal the original text")
	}
	for _, chunk := range chunks {
		if len(chunk) > 120 {
			t.Fatalf("chunk exceeds limit: %d chars", len(chunk))
		}
	}
}

func TestSplitMessageOversizedParagraph(t *testing.T) {
	text := strings.Repeat("x", 250)
	chunks := SplitMessage(text, 100)
	if len(chunks) != 3 {
		t.Fatalf("expected three chunks, got %d", len(chunks))
	}
	if strings.Join(chunks, "") != text {
		t.Fatalf("hard-split chunks must concatenate back to the original")
	}
}
