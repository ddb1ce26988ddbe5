package ingest

import (
	"strings"
	"testing"
)

func TestPromoteStructuralMarkers_BoldLine(t *testing.T) {
	got := PromoteStructuralMarkers("**Key Takeaways**")
	if got != "#### Key Takeaways" {
		t.Errorf("bold line = %q, want level-4 heading", got)
	}
}

func TestPromoteStructuralMarkers_Keywords(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"chapter with number and colon", "Chapter 3: Thermodynamics", "##### Chapter 3: Thermodynamics"},
		{"theorem with dot", "Theorem 2.", "##### Theorem 2."},
		{"summary bare", "Summary", "##### Summary"},
		{"case insensitive", "EXERCISE 12: practice", "##### EXERCISE 12: practice"},
		{"keyword mid-line untouched", "The chapter ends here", "The chapter ends here"},
		{"keyword as prefix of word untouched", "Chapters are long", "Chapters are long"},
		{"existing heading untouched", "## Chapter 1", "## Chapter 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PromoteStructuralMarkers(tt.in); got != tt.want {
				t.Errorf("PromoteStructuralMarkers(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPromoteStructuralMarkers_EquationBlock(t *testing.T) {
	in := "[E = mc^2]"
	got := PromoteStructuralMarkers(in)
	want := "###### Equation Block\n[E = mc^2]"
	if got != want {
		t.Errorf("equation = %q, want %q", got, want)
	}

	in = "$$\\int_0^1 x dx$$"
	got = PromoteStructuralMarkers(in)
	if !strings.HasPrefix(got, "###### Equation Block\n") {
		t.Errorf("dollar equation missing marker: %q", got)
	}
	if !strings.HasSuffix(got, in) {
		t.Errorf("original equation line not preserved verbatim: %q", got)
	}
}

func TestPromoteStructuralMarkers_FirstMatchWins(t *testing.T) {
	// Bold rule outranks the keyword rule.
	got := PromoteStructuralMarkers("**Chapter 1**")
	if got != "#### Chapter 1" {
		t.Errorf("bold chapter = %q, want level-4 heading", got)
	}
}

func TestPromoteStructuralMarkers_PreservesLines(t *testing.T) {
	in := "line one\n\nChapter 2: Light\nplain text\n[a + b]\nend"
	got := PromoteStructuralMarkers(in)

	for _, line := range []string{"line one", "plain text", "[a + b]", "end"} {
		if !strings.Contains(got, line) {
			t.Errorf("output dropped line %q:\n%s", line, got)
		}
	}

	// Only the equation marker may add lines.
	inLines := len(strings.Split(in, "\n"))
	gotLines := len(strings.Split(got, "\n"))
	if gotLines != inLines+1 {
		t.Errorf("line count = %d, want %d (one inserted equation marker)", gotLines, inLines)
	}
}

func TestPromoteStructuralMarkers_Idempotent(t *testing.T) {
	inputs := []string{
		"**Bold Title**\nChapter 1: Intro\n[x = y]\nplain",
		"already\nplain text only",
		"$$a$$\n$$b$$",
	}

	for _, in := range inputs {
		once := PromoteStructuralMarkers(in)
		twice := PromoteStructuralMarkers(once)
		if once != twice {
			t.Errorf("not idempotent for %q:\nonce:  %q\ntwice: %q", in, once, twice)
		}
	}
}
