package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/martinemde/taskloop/toolblock"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const maxSearchResults = 8

func fetchTool(opts Options) Handler {
	return func(ctx context.Context, call toolblock.Call, env Environment) Result {
		raw := call.Arg(toolblock.ArgValue)
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Fail("fetch", "invalid URL %q: only http and https URLs are supported", raw)
		}

		body, contentType, err := httpGet(ctx, opts, u.String())
		if err != nil {
			return Fail("fetch", "fetch %s: %v", raw, err)
		}

		text := string(body)
		if strings.Contains(contentType, "html") || looksLikeHTML(body) {
			md, err := htmlToMarkdown(body)
			if err != nil {
				return Fail("fetch", "cannot convert %s to markdown: %v", raw, err)
			}
			text = md
		}
		text = strings.TrimSpace(text)
		if text == "" {
			text = "(empty response)"
		}
		return Succeed("fetch", "# "+raw+"\n\n"+text)
	}
}

func webTool(opts Options) Handler {
	return func(ctx context.Context, call toolblock.Call, env Environment) Result {
		query := call.Arg(toolblock.ArgValue)
		endpoint := opts.SearchURL + "?q=" + url.QueryEscape(query)

		body, _, err := httpGet(ctx, opts, endpoint)
		if err != nil {
			return Fail("web", "search failed: %v", err)
		}
		results, err := parseSearchResults(body)
		if err != nil {
			return Fail("web", "cannot parse search results: %v", err)
		}
		if len(results) == 0 {
			return Succeed("web", "No results found.")
		}

		var sb strings.Builder
		for i, r := range results {
			fmt.Fprintf(&sb, "%d. [%s](%s)\n", i+1, r.title, r.url)
			if r.snippet != "" {
				fmt.Fprintf(&sb, "   %s\n", r.snippet)
			}
		}
		return Succeed("web", strings.TrimSuffix(sb.String(), "\n"))
	}
}

func httpGet(ctx context.Context, opts Options, target string) ([]byte, string, error) {
	if opts.HTTPTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.HTTPTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", opts.UserAgent)
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.5")

	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, opts.MaxFetchBytes))
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func looksLikeHTML(body []byte) bool {
	head := bytes.ToLower(body[:min(len(body), 512)])
	return bytes.Contains(head, []byte("<html")) || bytes.Contains(head, []byte("<!doctype html"))
}

// noiseElements never carry page content.
var noiseElements = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Svg: true,
	atom.Nav: true, atom.Footer: true, atom.Iframe: true, atom.Form: true,
}

func htmlToMarkdown(body []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	root := findElement(doc, atom.Main)
	if root == nil {
		root = findElement(doc, atom.Article)
	}
	if root == nil {
		root = doc
	}
	removeNoise(root)

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return "", err
	}
	return htmltomarkdown.ConvertString(buf.String())
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func removeNoise(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && noiseElements[c.DataAtom] {
			n.RemoveChild(c)
		} else if c.Type == html.CommentNode {
			n.RemoveChild(c)
		} else {
			removeNoise(c)
		}
		c = next
	}
}

type searchResult struct {
	title   string
	url     string
	snippet string
}

// parseSearchResults reads DuckDuckGo's HTML results page.
func parseSearchResults(body []byte) ([]searchResult, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var results []searchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= maxSearchResults {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			switch {
			case hasClass(n, "result__a"):
				results = append(results, searchResult{
					title: strings.TrimSpace(textContent(n)),
					url:   resolveResultURL(attr(n, "href")),
				})
				return
			case hasClass(n, "result__snippet") && len(results) > 0:
				results[len(results)-1].snippet = strings.Join(strings.Fields(textContent(n)), " ")
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results, nil
}

// resolveResultURL unwraps DuckDuckGo redirect links.
func resolveResultURL(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}
