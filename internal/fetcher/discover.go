package fetcher

import (
	"context"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
)

// workbookHref matches hrefs pointing at an Excel workbook, with or without a
// query string. Statistical-office pages link the file from a landing page
// instead of exposing a stable URL.
var workbookHref = regexp.MustCompile(`(?i)\.xlsx(\?|$)`)

// fileURLPattern recognizes direct data-file URLs the messy pipeline can
// download without page discovery.
var fileURLPattern = regexp.MustCompile(`(?i)\.(xlsx|xls|csv|zip)(\?|$)`)

// IsFileURL reports whether the URL points straight at a downloadable data
// file rather than a landing page.
func IsFileURL(rawURL string) bool {
	return fileURLPattern.MatchString(rawURL)
}

// DiscoverWorkbookLink fetches an HTML page and returns the first workbook
// link on it, absolutized against the page URL. Returns an error when the
// page has no workbook link; the caller records that as a fetch failure.
func DiscoverWorkbookLink(ctx context.Context, f Fetcher, pageURL string) (string, error) {
	body, err := f.Download(ctx, pageURL)
	if err != nil {
		return "", eris.Wrapf(err, "discover: fetch page %s", pageURL)
	}
	defer body.Close() //nolint:errcheck

	link, err := firstWorkbookHref(body)
	if err != nil {
		return "", eris.Wrapf(err, "discover: parse page %s", pageURL)
	}
	if link == "" {
		return "", eris.Errorf("discover: no workbook link on %s", pageURL)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return "", eris.Wrapf(err, "discover: parse page url %s", pageURL)
	}
	ref, err := url.Parse(link)
	if err != nil {
		return "", eris.Wrapf(err, "discover: parse link %q", link)
	}
	return base.ResolveReference(ref).String(), nil
}

// firstWorkbookHref scans anchor tags in document order and returns the first
// workbook href, or empty when none match.
func firstWorkbookHref(r io.Reader) (string, error) {
	tokenizer := html.NewTokenizer(r)
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if err := tokenizer.Err(); err != io.EOF {
				return "", err
			}
			return "", nil
		case html.StartTagToken, html.SelfClosingTagToken:
			token := tokenizer.Token()
			if token.Data != "a" {
				continue
			}
			for _, attr := range token.Attr {
				if strings.EqualFold(attr.Key, "href") && workbookHref.MatchString(attr.Val) {
					return attr.Val, nil
				}
			}
		}
	}
}
