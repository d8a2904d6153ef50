// Package reconcile parses the analysis capability's structured text output
// into question/answer entries, deduplicates them, decides whether the
// numbering came from the source material or was synthesized, and
// re-serializes a canonical report.
package reconcile

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const answerNotVisible = "not visible"

var (
	questionRe = regexp.MustCompile(`(?i)^Question\s+(\d+):\s*(.+)$`)
	optionsRe  = regexp.MustCompile(`(?i)^Options:?$`)
	optionRe   = regexp.MustCompile(`^([A-Za-z])\)\s*(.+)$`)
	answerRe   = regexp.MustCompile(`(?i)^Answer:\s*(.+)$`)
)

// Option is one lettered choice of a multiple-choice question.
type Option struct {
	Letter string
	Text   string
}

// Entry is one reconciled question. Number carries the capability's label;
// NumberIsOriginal is false when the numbering looks synthesized (a
// contiguous 1..N sequence) rather than read off the source material.
type Entry struct {
	Number           int
	NumberIsOriginal bool
	Text             string
	Options          []Option
	Answer           string
}

// Parse extracts entries from raw capability output. Lines that match no
// known marker are ignored.
func Parse(raw string) []Entry {
	var entries []Entry
	var current *Entry
	collectingOptions := false

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := questionRe.FindStringSubmatch(line); m != nil {
			if current != nil {
				entries = append(entries, *current)
			}
			num, _ := strconv.Atoi(m[1])
			current = &Entry{
				Number:           num,
				NumberIsOriginal: true,
				Text:             strings.TrimSpace(m[2]),
			}
			collectingOptions = false
			continue
		}
		if current == nil {
			continue
		}
		if optionsRe.MatchString(line) {
			collectingOptions = true
			continue
		}
		if collectingOptions {
			if m := optionRe.FindStringSubmatch(line); m != nil {
				current.Options = append(current.Options, Option{
					Letter: strings.ToUpper(m[1]),
					Text:   strings.TrimSpace(m[2]),
				})
				continue
			}
		}
		if m := answerRe.FindStringSubmatch(line); m != nil {
			current.Answer = strings.ToLower(strings.TrimSpace(m[1]))
			collectingOptions = false
		}
	}
	if current != nil {
		entries = append(entries, *current)
	}
	return entries
}

// Dedupe drops entries whose normalized question text already appeared.
// First occurrence wins.
func Dedupe(entries []Entry) []Entry {
	seen := make(map[string]bool, len(entries))
	out := entries[:0:0]
	for _, e := range entries {
		key := strings.ToLower(strings.TrimSpace(e.Text))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

// markProvenance flags entries as synthesized when their numbers form a
// contiguous sequence starting at 1. Real source numbering is rarely exactly
// 1..N; an explicit capability flag would be more robust, but the output
// contract has no field for it.
func markProvenance(entries []Entry) {
	if len(entries) == 0 {
		return
	}
	if entries[0].Number != 1 {
		return
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Number != entries[i-1].Number+1 {
			return
		}
	}
	for i := range entries {
		entries[i].NumberIsOriginal = false
	}
}

// Format serializes entries into the canonical report: a total-count line, a
// compact summary line, then one block per entry. Entries must already be
// deduplicated.
func Format(entries []Entry) string {
	labels := make([]string, len(entries))
	for i, e := range entries {
		if e.NumberIsOriginal {
			labels[i] = strconv.Itoa(e.Number)
		} else {
			labels[i] = fmt.Sprintf("R%d", i+1)
		}
	}

	summary := make([]string, len(entries))
	for i, e := range entries {
		summary[i] = fmt.Sprintf("%s(%s)", labels[i], answerOr(e.Answer))
	}

	out := []string{
		fmt.Sprintf("total number of questions : %d", len(entries)),
		"",
		"Summary: " + strings.Join(summary, ", "),
		"",
	}
	for i, e := range entries {
		out = append(out, fmt.Sprintf("Question %s: %s", labels[i], e.Text))
		if len(e.Options) > 0 {
			out = append(out, "Options:")
			for _, opt := range e.Options {
				out = append(out, fmt.Sprintf("%s) %s", opt.Letter, opt.Text))
			}
		}
		out = append(out, "Answer: "+answerOr(e.Answer))
		out = append(out, "")
	}
	return strings.Join(out, "\n")
}

// Canonicalize runs the full reconciliation pass over raw capability output.
// If no entries parse, the raw text is returned unmodified so an answer in an
// unanticipated format is never silently discarded.
func Canonicalize(raw string) string {
	if raw == "" {
		return "total number of questions : 0\n\nNo questions found."
	}

	entries := Dedupe(Parse(raw))
	if len(entries) == 0 {
		return raw
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Number < entries[j].Number
	})
	markProvenance(entries)

	return Format(entries)
}

func answerOr(answer string) string {
	if answer == "" {
		return answerNotVisible
	}
	return answer
}
