// Package icon はコードに表示するアイコン画像の取得とキャッシュを提供する。
package icon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const userAgent = "Iceblink/1.0 (+icon fetcher)"

// ErrNotFound はどの候補URLからもアイコンを取得できなかったことを表す。
var ErrNotFound = errors.New("icon not found")

// Icon は取得したアイコン画像。
type Icon struct {
	Data     []byte
	MimeType string
}

// URLGuard は外部URLへのアクセスを制限する。
// security.SSRFGuardが満たす。
type URLGuard interface {
	ValidateURL(rawURL string) error
	NewClient(timeout time.Duration) *http.Client
}

// Fetcher はアイコンURLまたはWebサイトからアイコン画像を取得する。
type Fetcher struct {
	guard   URLGuard
	client  *http.Client
	timeout time.Duration
	maxSize int64
}

// NewFetcher は新しいFetcherを生成する。
// guardがnilの場合は制限のない標準クライアントを使う（テスト用）。
func NewFetcher(guard URLGuard, timeout time.Duration, maxSize int64) *Fetcher {
	f := &Fetcher{guard: guard, timeout: timeout, maxSize: maxSize}
	if guard != nil {
		f.client = guard.NewClient(timeout)
	} else {
		f.client = &http.Client{Timeout: timeout}
	}
	return f
}

// Fetch は次の順にアイコンを探す。
//  1. iconURL
//  2. websiteURLのHTMLにある<link rel="icon">
//  3. websiteURLのホストの/favicon.ico
//
// 全体でFetcherのtimeoutを上限とする。
func (f *Fetcher) Fetch(ctx context.Context, iconURL, websiteURL string) (*Icon, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var errs []error

	if iconURL != "" {
		ic, err := f.fetchImage(ctx, iconURL)
		if err == nil {
			return ic, nil
		}
		errs = append(errs, err)
	}

	if websiteURL != "" {
		if linked, err := f.discoverIconURL(ctx, websiteURL); err != nil {
			errs = append(errs, err)
		} else if linked != "" {
			ic, err := f.fetchImage(ctx, linked)
			if err == nil {
				return ic, nil
			}
			errs = append(errs, err)
		}

		if fallback := defaultFaviconURL(websiteURL); fallback != "" {
			ic, err := f.fetchImage(ctx, fallback)
			if err == nil {
				return ic, nil
			}
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		return nil, ErrNotFound
	}
	return nil, fmt.Errorf("%w: %w", ErrNotFound, errors.Join(errs...))
}

// fetchImage は画像を1件取得する。サイズ超過や画像以外の応答はエラーとする。
func (f *Fetcher) fetchImage(ctx context.Context, rawURL string) (*Icon, error) {
	body, contentType, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	mimeType := mediaType(contentType)
	if !isImage(mimeType) {
		mimeType = mediaType(http.DetectContentType(body))
	}
	if !isImage(mimeType) {
		return nil, fmt.Errorf("%s: not an image (%s)", rawURL, contentType)
	}

	return &Icon{Data: body, MimeType: mimeType}, nil
}

// discoverIconURL はWebサイトのheadからアイコンのリンクを探す。
// 見つからない場合は空文字列を返す。
func (f *Fetcher) discoverIconURL(ctx context.Context, websiteURL string) (string, error) {
	body, _, err := f.get(ctx, websiteURL)
	if err != nil {
		return "", err
	}
	return findIconLink(body, websiteURL), nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, string, error) {
	if f.guard != nil {
		if err := f.guard.ValidateURL(rawURL); err != nil {
			return nil, "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("get %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", rawURL, err)
	}
	if int64(len(body)) > f.maxSize {
		return nil, "", fmt.Errorf("get %s: response exceeds %d bytes", rawURL, f.maxSize)
	}

	return body, resp.Header.Get("Content-Type"), nil
}

// findIconLink はHTMLのheadからアイコンのURLを取り出し、baseURLで絶対URLに解決する。
// rel="icon"（"shortcut icon"を含む）をapple-touch-iconより優先する。
func findIconLink(body []byte, baseURL string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}

	var touchIcon string
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return resolve(base, touchIcon)

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tag := string(tn)
			if tag == "body" {
				return resolve(base, touchIcon)
			}
			if tag != "link" || !hasAttr {
				continue
			}

			var rel, href string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(string(val))
				case "href":
					href = strings.TrimSpace(string(val))
				}
				if !more {
					break
				}
			}
			if href == "" {
				continue
			}

			for _, token := range strings.Fields(rel) {
				switch token {
				case "icon":
					return resolve(base, href)
				case "apple-touch-icon":
					if touchIcon == "" {
						touchIcon = href
					}
				}
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "head" {
				return resolve(base, touchIcon)
			}
		}
	}
}

func resolve(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

// defaultFaviconURL はサイトURLから/favicon.icoのURLを組み立てる。
func defaultFaviconURL(siteURL string) string {
	u, err := url.Parse(siteURL)
	if err != nil || u.Host == "" {
		return ""
	}
	u.Path = "/favicon.ico"
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// mediaType はContent-Typeからパラメータを除いたメディアタイプを返す。
func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(strings.ToLower(mt))
}

func isImage(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}
