package sanitize

import (
	"errors"
	"strings"
	"testing"
)

func TestCleanStripsMarkup(t *testing.T) {
	got, err := Clean("<script>alert('x')</script>Hello <b>world</b>", 1000)
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if strings.Contains(got, "<") || strings.Contains(got, "script") && strings.Contains(got, "alert") {
		t.Fatalf("markup survived: %q", got)
	}
	if !strings.Contains(got, "Hello") || !strings.Contains(got, "world") {
		t.Fatalf("text content lost: %q", got)
	}
}

func TestCleanRejectsOverlongText(t *testing.T) {
	_, err := Clean(strings.Repeat("a", 101), 100)
	var secErr *SecurityError
	if !errors.As(err, &secErr) {
		t.Fatalf("expected SecurityError, got %v", err)
	}
}

func TestCleanDropsControlBytes(t *testing.T) {
	got, err := Clean("hi\x00the\x07re\nok", 100)
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if strings.ContainsRune(got, 0) || strings.ContainsRune(got, 7) {
		t.Fatalf("control bytes survived: %q", got)
	}
	if !strings.Contains(got, "\n") {
		t.Fatalf("newline should survive: %q", got)
	}
}

func TestSpeakableTextDecodesEntities(t *testing.T) {
	cleaned, err := Clean(`it's "quoted" & more`, 100)
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	spoken := SpeakableText(cleaned)
	if strings.Contains(spoken, "&amp;") || strings.Contains(spoken, "&#") {
		t.Fatalf("entities survived: %q", spoken)
	}
	if !strings.Contains(spoken, `"quoted"`) {
		t.Fatalf("quotes not restored: %q", spoken)
	}
}

func TestLanguage(t *testing.T) {
	for _, ok := range []string{"en", "en-US", "fr", "ja"} {
		if _, err := Language(ok); err != nil {
			t.Errorf("Language(%q) = %v, want nil", ok, err)
		}
	}
	for _, bad := range []string{"", "english", "xx", "en_US; DROP"} {
		if _, err := Language(bad); err == nil {
			t.Errorf("Language(%q) succeeded, want error", bad)
		}
	}
	if got, err := Language("EN"); err != nil || got != "en" {
		t.Errorf("Language(EN) = %q, %v", got, err)
	}
}

func TestSpeed(t *testing.T) {
	if got, err := Speed(0, 0.5, 2.0); err != nil || got != 1.0 {
		t.Fatalf("zero speed should default to 1.0, got %v, %v", got, err)
	}
	if _, err := Speed(3.0, 0.5, 2.0); err == nil {
		t.Fatal("expected out-of-range speed rejected")
	}
	if got, err := Speed(1.25, 0.5, 2.0); err != nil || got != 1.25 {
		t.Fatalf("in-range speed mangled: %v, %v", got, err)
	}
}

func TestFilenameRejectsTraversal(t *testing.T) {
	for _, bad := range []string{"../etc/passwd", "a/b.wav", `a\b.wav`, ""} {
		if _, err := Filename(bad); err == nil {
			t.Errorf("Filename(%q) succeeded, want error", bad)
		}
	}
	if _, err := Filename("recording 01.wav"); err != nil {
		t.Errorf("plain filename rejected: %v", err)
	}
}

func TestAudioFormat(t *testing.T) {
	if got, err := AudioFormat("clip.WAV"); err != nil || got != "wav" {
		t.Fatalf("AudioFormat(clip.WAV) = %q, %v", got, err)
	}
	for _, bad := range []string{"clip.exe", "noext", "trailing."} {
		if _, err := AudioFormat(bad); err == nil {
			t.Errorf("AudioFormat(%q) succeeded, want error", bad)
		}
	}
}

func TestHistoryValidation(t *testing.T) {
	good := []HistoryMessage{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}
	out, err := History(good, 50, 100)
	if err != nil || len(out) != 2 {
		t.Fatalf("History = %v, %v", out, err)
	}

	if _, err := History([]HistoryMessage{{Role: "root", Content: "x"}}, 50, 100); err == nil {
		t.Fatal("expected invalid role rejected")
	}
	long := make([]HistoryMessage, 51)
	for i := range long {
		long[i] = HistoryMessage{Role: "user", Content: "x"}
	}
	if _, err := History(long, 50, 100); err == nil {
		t.Fatal("expected oversized history rejected")
	}
}
