package reconcile

import (
	"strings"
	"testing"
)

const sampleReport = `total number of questions : 2

Question 1: What is the capital of France?
Options:
A) Berlin
B) Paris
C) Madrid
Answer: b

Question 2: Which are primary colors?
Options:
A) Red
B) Green
C) Blue
Answer: a and c
`

func TestParse(t *testing.T) {
	entries := Parse(sampleReport)
	if len(entries) != 2 {
		t.Fatalf("Parse() found %d entries, want 2", len(entries))
	}

	first := entries[0]
	if first.Number != 1 || first.Text != "What is the capital of France?" {
		t.Fatalf("unexpected first entry: %+v", first)
	}
	if len(first.Options) != 3 || first.Options[1].Letter != "B" || first.Options[1].Text != "Paris" {
		t.Fatalf("unexpected options: %+v", first.Options)
	}
	if first.Answer != "b" {
		t.Fatalf("first answer = %q, want %q", first.Answer, "b")
	}
	if entries[1].Answer != "a and c" {
		t.Fatalf("multi-valued answer = %q, want %q", entries[1].Answer, "a and c")
	}
}

func TestParseLowercasesAnswer(t *testing.T) {
	entries := Parse("Question 1: Q?\nAnswer: A And B")
	if len(entries) != 1 || entries[0].Answer != "a and b" {
		t.Fatalf("answer not normalized: %+v", entries)
	}
}

func TestDedupeCaseAndWhitespace(t *testing.T) {
	raw := `Question 1: What is Go?
Answer: a
Question 2:   what is go?
Answer: b
Question 3: What is Rust?
Answer: c
`
	entries := Dedupe(Parse(raw))
	if len(entries) != 2 {
		t.Fatalf("Dedupe() kept %d entries, want 2", len(entries))
	}
	// First occurrence wins.
	if entries[0].Answer != "a" {
		t.Fatalf("surviving duplicate answer = %q, want %q", entries[0].Answer, "a")
	}
}

func TestSequentialNumbersAreSynthesized(t *testing.T) {
	raw := `Question 1: First?
Answer: a
Question 2: Second?
Answer: b
Question 3: Third?
Answer: c
`
	report := Canonicalize(raw)
	if !strings.Contains(report, "Question R1: First?") {
		t.Fatalf("sequential numbering was not relabeled:\n%s", report)
	}
	if !strings.Contains(report, "Summary: R1(a), R2(b), R3(c)") {
		t.Fatalf("summary line missing R labels:\n%s", report)
	}
}

func TestSparseNumbersArePreserved(t *testing.T) {
	raw := `Question 4: Fourth?
Answer: a
Question 9: Ninth?
Answer: b
Question 12: Twelfth?
Answer: c
`
	report := Canonicalize(raw)
	if !strings.Contains(report, "Question 4: Fourth?") ||
		!strings.Contains(report, "Question 9: Ninth?") ||
		!strings.Contains(report, "Question 12: Twelfth?") {
		t.Fatalf("original numbering not preserved:\n%s", report)
	}
	if strings.Contains(report, "Question R") {
		t.Fatalf("sparse numbering incorrectly relabeled:\n%s", report)
	}
	if !strings.Contains(report, "Summary: 4(a), 9(b), 12(c)") {
		t.Fatalf("summary line wrong:\n%s", report)
	}
}

func TestCanonicalizeSortsByNumber(t *testing.T) {
	raw := `Question 9: Later?
Answer: b
Question 4: Earlier?
Answer: a
`
	report := Canonicalize(raw)
	if strings.Index(report, "Question 4:") > strings.Index(report, "Question 9:") {
		t.Fatalf("entries not sorted ascending:\n%s", report)
	}
}

func TestCanonicalizeUnparseablePassthrough(t *testing.T) {
	raw := "The answer to everything is 42, obviously."
	if got := Canonicalize(raw); got != raw {
		t.Fatalf("unparseable input was not passed through verbatim:\ngot  %q\nwant %q", got, raw)
	}
}

func TestCanonicalizeEmpty(t *testing.T) {
	got := Canonicalize("")
	if !strings.Contains(got, "total number of questions : 0") {
		t.Fatalf("empty input report = %q", got)
	}
}

func TestCanonicalizeWhitespaceOnlyPassthrough(t *testing.T) {
	// Only the empty string gets the placeholder; whitespace counts as
	// unparseable output and comes back verbatim.
	raw := "   \n  "
	if got := Canonicalize(raw); got != raw {
		t.Fatalf("whitespace-only input was not passed through verbatim:\ngot  %q\nwant %q", got, raw)
	}
}

func TestFormatMissingAnswer(t *testing.T) {
	report := Canonicalize("Question 7: Mystery?\n")
	if !strings.Contains(report, "Answer: not visible") {
		t.Fatalf("missing answer not marked not visible:\n%s", report)
	}
}

func TestCanonicalizeTotalCountReflectsDedupe(t *testing.T) {
	raw := `total number of questions : 3

Question 5: Same thing?
Answer: a

Question 8: SAME THING?
Answer: a

Question 11: Different?
Answer: d
`
	report := Canonicalize(raw)
	if !strings.HasPrefix(report, "total number of questions : 2") {
		t.Fatalf("total count not recomputed after dedupe:\n%s", report)
	}
}
