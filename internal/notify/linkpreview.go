package notify

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
)

const (
	previewMaxBody    = 50 * 1024 // readable text input cap
	previewTimeout    = 10 * time.Second
	previewExcerptLen = 280
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

// LinkPreview is the readable context of a URL found in a visitor message.
type LinkPreview struct {
	URL     string
	Title   string
	Excerpt string
}

// LinkPreviewer fetches URLs mentioned in visitor messages and extracts a
// readable title and opening text, so agents see what a link points at
// without clicking through.
type LinkPreviewer struct {
	client *http.Client
}

// NewLinkPreviewer creates a previewer with its own bounded HTTP client.
func NewLinkPreviewer() *LinkPreviewer {
	return &LinkPreviewer{client: &http.Client{Timeout: previewTimeout}}
}

// Preview resolves the first URL in text. Any failure yields nil: previews
// are garnish on a notification, never load-bearing.
func (l *LinkPreviewer) Preview(ctx context.Context, text string) *LinkPreview {
	raw := urlPattern.FindString(text)
	if raw == "" {
		return nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", "livechat/1.0")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return nil
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, previewMaxBody), parsed)
	if err != nil {
		return nil
	}
	var textBuf bytes.Buffer
	if err := article.RenderText(&textBuf); err != nil {
		return nil
	}

	excerpt := strings.Join(strings.Fields(textBuf.String()), " ")
	if runes := []rune(excerpt); len(runes) > previewExcerptLen {
		excerpt = string(runes[:previewExcerptLen]) + "..."
	}
	return &LinkPreview{URL: raw, Title: article.Title(), Excerpt: excerpt}
}

// render formats the preview as one notification field value.
func (p *LinkPreview) render() string {
	if p.Title == "" {
		return p.Excerpt
	}
	if p.Excerpt == "" {
		return p.Title
	}
	return p.Title + "\n" + p.Excerpt
}
