package normalize

import (
	"strings"
	"testing"
)

func TestMeridiemGetsTrailingSpace(t *testing.T) {
	got := Apply(" 8 a.m.next")
	if !strings.Contains(got.Text, " a.m. ") {
		t.Fatalf("expected space after a.m., got %q", got.Text)
	}
	if got.SSML {
		t.Fatal("plain text must not be classified as SSML")
	}

	got = Apply("at 5 p.m.Tomorrow")
	if got.Text != "at 5 p.m. Tomorrow" {
		t.Fatalf("unexpected p.m. fix: %q", got.Text)
	}
}

func TestMeridiemAlreadySpaced(t *testing.T) {
	in := "wake me at 7 a.m. please"
	if got := Apply(in); got.Text != in {
		t.Fatalf("expected unchanged text, got %q", got.Text)
	}
}

func TestInitialismCollapse(t *testing.T) {
	got := Apply("A I")
	if got.Text != "A.I. " {
		t.Fatalf("expected %q, got %q", "A.I. ", got.Text)
	}
	if got.SSML {
		t.Fatal("initialism must not be classified as SSML")
	}

	got = Apply("the U S A is large")
	if got.Text != "the U.S.A. is large" {
		t.Fatalf("unexpected initialism merge: %q", got.Text)
	}
}

func TestSingleCapitalIsLeftAlone(t *testing.T) {
	in := "I think so"
	if got := Apply(in); got.Text != in {
		t.Fatalf("expected unchanged text, got %q", got.Text)
	}
}

func TestLeadingAngleBracketIsSSML(t *testing.T) {
	in := "  <speak>Hello</speak>"
	got := Apply(in)
	if !got.SSML {
		t.Fatal("expected SSML classification")
	}
	if got.Text != in {
		t.Fatalf("expected SSML text unchanged, got %q", got.Text)
	}
}

func TestSingleLetterWithSemicolon(t *testing.T) {
	got := Apply("A;")
	want := `<say-as interpret-as="spell-out">A</say-as>`
	if got.Text != want {
		t.Fatalf("expected %q, got %q", want, got.Text)
	}
	if !got.SSML {
		t.Fatal("expected SSML classification")
	}

	got = Apply("<;")
	if got.Text != `<say-as interpret-as="spell-out"><</say-as>` || !got.SSML {
		t.Fatalf("unexpected rewrite of %q: %+v", "<;", got)
	}
}

func TestQuotedLetterIsSpelledOut(t *testing.T) {
	got := Apply("The letter 'B' is here")
	want := `The letter <say-as interpret-as="spell-out">B</say-as> is here`
	if got.Text != want {
		t.Fatalf("expected %q, got %q", want, got.Text)
	}
	if !got.SSML {
		t.Fatal("expected SSML classification")
	}
}

func TestQuotedNonLetterIsUnchanged(t *testing.T) {
	for _, in := range []string{"press 'BB' now", "press 'b' now", "press '1' now"} {
		got := Apply(in)
		if got.Text != in {
			t.Fatalf("expected %q unchanged, got %q", in, got.Text)
		}
		if got.SSML {
			t.Fatalf("expected %q to stay plain", in)
		}
	}
}

func TestApplyIsDeterministic(t *testing.T) {
	inputs := []string{"", " ", "A I 'C' 9 a.m.x", "ü;", "<speak/>", "'Z'"}
	for _, in := range inputs {
		first := Apply(in)
		second := Apply(in)
		if first != second {
			t.Fatalf("non-deterministic result for %q: %+v vs %+v", in, first, second)
		}
	}
}

func TestMeridiemAtEndOfText(t *testing.T) {
	if got := Apply("see you at 8 a.m."); got.Text != "see you at 8 a.m. " {
		t.Fatalf("expected trailing space, got %q", got.Text)
	}
	in := "see you at 8 a.m.\n"
	if got := Apply(in); got.Text != in {
		t.Fatalf("expected newline kept as whitespace, got %q", got.Text)
	}
}

func TestInitialismBeforeTrailingNewline(t *testing.T) {
	if got := Apply("A B\n"); got.Text != "A.B. \n" {
		t.Fatalf("expected %q, got %q", "A.B. \n", got.Text)
	}
	in := "A B\n\n"
	if got := Apply(in); got.Text != in {
		t.Fatalf("only one trailing newline ends the sentence, got %q", got.Text)
	}
}
