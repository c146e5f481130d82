package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yungbote/graphsmith-backend/internal/platform/logger"
	"github.com/yungbote/graphsmith-backend/internal/types"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func TestLocalLoaderReadsText(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "note.txt"), []byte("hello graph"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	l := NewLocalLoader(dir)
	c, err := l.Load(context.Background(), "note.txt")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Text != "hello graph" || c.Title != "note.txt" || c.Size != int64(len("hello graph")) {
		t.Fatalf("unexpected content: %+v", c)
	}
}

func TestLocalLoaderTagsMissing(t *testing.T) {
	l := NewLocalLoader(t.TempDir())
	_, err := l.Load(context.Background(), "gone.txt")
	if !errors.Is(err, types.ErrSourceNotFound) {
		t.Fatalf("missing file must map to ErrSourceNotFound, got %v", err)
	}
}

func TestLocalLoaderBlocksEscape(t *testing.T) {
	dir := t.TempDir()
	l := NewLocalLoader(dir)
	_, err := l.Load(context.Background(), "../../../etc/passwd")
	// Clean pins the ref inside the base, so the joined path either resolves
	// inside the dir (not found) or is rejected outright.
	if err == nil {
		t.Fatalf("path escape must not load")
	}
}

func TestRegistryDispatch(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	r := NewRegistry(testLogger(t))
	r.Register(types.SourceUpload, NewLocalLoader(dir))

	if _, err := r.Load(context.Background(), types.SourceUpload, "a.txt"); err != nil {
		t.Fatalf("registered loader must dispatch: %v", err)
	}
	if _, err := r.Load(context.Background(), types.SourceWeb, "http://x"); err == nil {
		t.Fatalf("unregistered source type must error")
	}
}

func TestStripHTML(t *testing.T) {
	html := `<html><head><title>T</title><script>var x=1;</script></head>
<body><h1>Heading</h1><p>First &amp; second.</p><style>p{}</style></body></html>`
	text := StripHTML(html)
	if text == "" {
		t.Fatalf("expected text")
	}
	for _, bad := range []string{"<", ">", "var x", "p{}"} {
		if strings.Contains(text, bad) {
			t.Fatalf("markup leaked through: %q in %q", bad, text)
		}
	}
	if !strings.Contains(text, "First & second.") {
		t.Fatalf("entities must unescape: %q", text)
	}
}

func TestYoutubeVideoID(t *testing.T) {
	cases := map[string]string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ": "dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ":                "dQw4w9WgXcQ",
		"https://www.youtube.com/shorts/dQw4w9WgXcQ":  "dQw4w9WgXcQ",
		"dQw4w9WgXcQ":                                 "dQw4w9WgXcQ",
		"https://example.com/watch?v=dQw4w9WgXcQ":     "",
		"not a video":                                 "",
	}
	for ref, want := range cases {
		if got := YoutubeVideoID(ref); got != want {
			t.Fatalf("YoutubeVideoID(%q) = %q, want %q", ref, got, want)
		}
	}
}

func TestParseTimedText(t *testing.T) {
	raw := []byte(`<?xml version="1.0"?><transcript>
<text start="0" dur="2">Hello &amp; welcome</text>
<text start="2" dur="2">to the talk</text>
</transcript>`)
	text, err := parseTimedText(raw)
	if err != nil {
		t.Fatalf("parseTimedText: %v", err)
	}
	if text != "Hello & welcome to the talk" {
		t.Fatalf("unexpected transcript: %q", text)
	}
}

func TestParseGCSRef(t *testing.T) {
	bucket, object, err := parseGCSRef("gs://my-bucket/path/to/doc.txt")
	if err != nil {
		t.Fatalf("parseGCSRef: %v", err)
	}
	if bucket != "my-bucket" || object != "path/to/doc.txt" {
		t.Fatalf("unexpected parse: %q %q", bucket, object)
	}
	if _, _, err := parseGCSRef("s3://bucket/key"); !errors.Is(err, types.ErrSourceNotFound) {
		t.Fatalf("non-gs scheme must be rejected")
	}
	if _, _, err := parseGCSRef("gs://bucket-only"); !errors.Is(err, types.ErrSourceNotFound) {
		t.Fatalf("ref without object must be rejected")
	}
}

func TestWikipediaTitle(t *testing.T) {
	if got := wikipediaTitle("https://en.wikipedia.org/wiki/Marie_Curie"); got != "Marie Curie" {
		t.Fatalf("url ref must resolve to title, got %q", got)
	}
	if got := wikipediaTitle("Alan Turing"); got != "Alan Turing" {
		t.Fatalf("bare title must pass through, got %q", got)
	}
}
