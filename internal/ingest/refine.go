package ingest

import (
	"regexp"
	"strings"
)

// equationHeading is inserted above bracketed or $$-delimited display math
// so the chunker treats each equation block as its own section.
const equationHeading = "###### Equation Block"

// boldLineRe matches a line that is nothing but a single bold span.
var boldLineRe = regexp.MustCompile(`^\*\*(.+?)\*\*$`)

// structuralKeywords is the closed vocabulary of section-opening nouns.
// A line starting with one of these (optionally followed by a number and a
// ':' or '.') marks a natural section boundary in teaching material.
var structuralKeywords = []string{
	"chapter", "section", "unit", "module", "lesson", "part",
	"theorem", "lemma", "corollary", "proposition", "definition", "proof",
	"example", "exercise", "problem", "solution",
	"summary", "introduction", "conclusion", "overview", "review", "appendix",
}

var keywordLineRe = regexp.MustCompile(
	`(?i)^(` + strings.Join(structuralKeywords, "|") + `)\b(\s+\d+)?\s*[:.]?(\s|$)`)

// equationLineRe matches a whole-line bracketed or $$-delimited block.
var equationLineRe = regexp.MustCompile(`^(\[.+\]|\$\$.+\$\$)$`)

// PromoteStructuralMarkers rewrites text so that visually or lexically
// marked structure becomes explicit Markdown headings, biasing the chunker
// toward natural section boundaries without any model calls.
//
// Rules are applied per line, first match wins:
//  1. a line that is solely a bold span becomes a level-4 heading
//  2. a line opening with a structural keyword becomes a level-5 heading,
//     unless it is already a heading
//  3. a bracketed or $$-delimited line gains a level-6 "Equation Block"
//     heading above it, the line itself kept verbatim
//
// The transform is deterministic, order-preserving, and idempotent: no line
// is dropped or reordered, and already-promoted lines are left alone.
func PromoteStructuralMarkers(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if m := boldLineRe.FindStringSubmatch(trimmed); m != nil {
			out = append(out, "#### "+m[1])
			continue
		}

		if !strings.HasPrefix(trimmed, "#") && keywordLineRe.MatchString(trimmed) {
			out = append(out, "##### "+trimmed)
			continue
		}

		if equationLineRe.MatchString(trimmed) {
			// Idempotence: skip the marker when the previous pass already
			// inserted one above this line.
			if len(out) == 0 || out[len(out)-1] != equationHeading {
				out = append(out, equationHeading)
			}
			out = append(out, line)
			continue
		}

		out = append(out, line)
	}

	return strings.Join(out, "\n")
}
