package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/yungbote/graphsmith-backend/internal/types"
)

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe         = regexp.MustCompile(`<[^>]+>`)
	spaceRe       = regexp.MustCompile(`[ \t]+`)
	blankRe       = regexp.MustCompile(`\n{3,}`)
	titleRe       = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
)

// WebLoader fetches a page over HTTP and strips markup down to readable
// text. Not a full readability pass; extraction tolerates boilerplate.
type WebLoader struct {
	client *http.Client
}

func NewWebLoader(timeout time.Duration) *WebLoader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebLoader{client: &http.Client{Timeout: timeout}}
}

func (l *WebLoader) Load(ctx context.Context, ref string) (Content, error) {
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Content{}, fmt.Errorf("loader: invalid url %q: %w", ref, types.ErrSourceNotFound)
	}
	body, status, err := l.fetch(ctx, ref)
	if err != nil {
		return Content{}, err
	}
	switch {
	case status == http.StatusNotFound:
		return Content{}, fmt.Errorf("loader: %q: %w", ref, types.ErrSourceNotFound)
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return Content{}, fmt.Errorf("loader: %q: %w", ref, types.ErrSourceAccessDenied)
	case status >= 400:
		return Content{}, fmt.Errorf("loader: %q: unexpected status %d", ref, status)
	}

	title := ""
	if m := titleRe.FindStringSubmatch(body); len(m) == 2 {
		title = strings.TrimSpace(m[1])
	}
	text := StripHTML(body)
	return Content{Text: text, Title: title, Size: int64(len(body))}, nil
}

func (l *WebLoader) fetch(ctx context.Context, rawURL string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("loader: build request: %w", err)
	}
	req.Header.Set("User-Agent", "graphsmith/1.0")
	resp, err := l.client.Do(req)
	if err != nil {
		return "", 0, types.Transient("fetch "+rawURL, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", 0, types.Transient("read "+rawURL, err)
	}
	return string(body), resp.StatusCode, nil
}

// StripHTML removes scripts, styles and tags, unescapes common entities and
// normalizes whitespace.
func StripHTML(html string) string {
	s := scriptStyleRe.ReplaceAllString(html, " ")
	s = tagRe.ReplaceAllString(s, "\n")
	replacer := strings.NewReplacer(
		"&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">",
		"&quot;", `"`, "&#39;", "'",
	)
	s = replacer.Replace(s)
	s = spaceRe.ReplaceAllString(s, " ")
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(blankRe.ReplaceAllString(b.String(), "\n\n"))
}

// WikipediaLoader pulls the plain-text extract of an article via the REST
// API. Refs are article titles or full wikipedia URLs.
type WikipediaLoader struct {
	client  *http.Client
	baseURL string
}

func NewWikipediaLoader(timeout time.Duration) *WikipediaLoader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WikipediaLoader{
		client:  &http.Client{Timeout: timeout},
		baseURL: "https://en.wikipedia.org/w/api.php",
	}
}

func (l *WikipediaLoader) Load(ctx context.Context, ref string) (Content, error) {
	title := wikipediaTitle(ref)
	if title == "" {
		return Content{}, fmt.Errorf("loader: empty wikipedia ref: %w", types.ErrSourceNotFound)
	}

	q := url.Values{}
	q.Set("action", "query")
	q.Set("prop", "extracts")
	q.Set("explaintext", "1")
	q.Set("format", "json")
	q.Set("redirects", "1")
	q.Set("titles", title)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Content{}, fmt.Errorf("loader: build request: %w", err)
	}
	req.Header.Set("User-Agent", "graphsmith/1.0")
	resp, err := l.client.Do(req)
	if err != nil {
		return Content{}, types.Transient("wikipedia "+title, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Content{}, fmt.Errorf("loader: wikipedia %q: status %d", title, resp.StatusCode)
	}

	var payload struct {
		Query struct {
			Pages map[string]struct {
				Title   string `json:"title"`
				Extract string `json:"extract"`
				Missing *struct{} `json:"missing"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Content{}, fmt.Errorf("loader: wikipedia %q: decode: %w", title, err)
	}
	for id, page := range payload.Query.Pages {
		if id == "-1" || page.Missing != nil || page.Extract == "" {
			continue
		}
		return Content{Text: page.Extract, Title: page.Title, Size: int64(len(page.Extract))}, nil
	}
	return Content{}, fmt.Errorf("loader: wikipedia %q: %w", title, types.ErrSourceNotFound)
}

func wikipediaTitle(ref string) string {
	ref = strings.TrimSpace(ref)
	if u, err := url.Parse(ref); err == nil && strings.Contains(u.Host, "wikipedia.org") {
		if i := strings.LastIndex(u.Path, "/wiki/"); i >= 0 {
			title, _ := url.PathUnescape(u.Path[i+len("/wiki/"):])
			return strings.ReplaceAll(title, "_", " ")
		}
	}
	return ref
}
