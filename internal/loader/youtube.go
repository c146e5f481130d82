package loader

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yungbote/graphsmith-backend/internal/types"
)

// YoutubeLoader pulls a video's caption track through the public timedtext
// endpoint. Only videos with published captions load; everything else is a
// not-found.
type YoutubeLoader struct {
	client   *http.Client
	language string
}

func NewYoutubeLoader(timeout time.Duration, language string) *YoutubeLoader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if language == "" {
		language = "en"
	}
	return &YoutubeLoader{client: &http.Client{Timeout: timeout}, language: language}
}

func (l *YoutubeLoader) Load(ctx context.Context, ref string) (Content, error) {
	videoID := YoutubeVideoID(ref)
	if videoID == "" {
		return Content{}, fmt.Errorf("loader: cannot parse youtube ref %q: %w", ref, types.ErrSourceNotFound)
	}

	q := url.Values{}
	q.Set("v", videoID)
	q.Set("lang", l.language)
	endpoint := "https://www.youtube.com/api/timedtext?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Content{}, fmt.Errorf("loader: build request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return Content{}, types.Transient("youtube "+videoID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Content{}, fmt.Errorf("loader: youtube %q: status %d", videoID, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Content{}, types.Transient("youtube read "+videoID, err)
	}

	text, err := parseTimedText(body)
	if err != nil {
		return Content{}, fmt.Errorf("loader: youtube %q: %w", videoID, err)
	}
	if text == "" {
		return Content{}, fmt.Errorf("loader: youtube %q has no captions: %w", videoID, types.ErrSourceNotFound)
	}
	return Content{Text: text, Title: "youtube:" + videoID, Size: int64(len(text))}, nil
}

type timedText struct {
	Texts []struct {
		Body string `xml:",chardata"`
	} `xml:"text"`
}

func parseTimedText(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var tt timedText
	if err := xml.Unmarshal(raw, &tt); err != nil {
		return "", fmt.Errorf("parse timedtext: %w", err)
	}
	var b strings.Builder
	for _, t := range tt.Texts {
		line := strings.TrimSpace(html.UnescapeString(t.Body))
		if line == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(line)
	}
	return b.String(), nil
}

// YoutubeVideoID pulls the 11-character id out of watch URLs, short links
// and bare ids.
func YoutubeVideoID(ref string) string {
	ref = strings.TrimSpace(ref)
	if u, err := url.Parse(ref); err == nil && u.Host != "" {
		host := strings.TrimPrefix(u.Host, "www.")
		switch host {
		case "youtube.com", "m.youtube.com":
			if id := u.Query().Get("v"); id != "" {
				return id
			}
			if strings.HasPrefix(u.Path, "/shorts/") || strings.HasPrefix(u.Path, "/embed/") {
				parts := strings.Split(strings.Trim(u.Path, "/"), "/")
				if len(parts) == 2 {
					return parts[1]
				}
			}
		case "youtu.be":
			return strings.Trim(u.Path, "/")
		}
		return ""
	}
	if len(ref) == 11 && !strings.ContainsAny(ref, " /?&") {
		return ref
	}
	return ""
}
