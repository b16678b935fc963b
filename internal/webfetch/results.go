package webfetch

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// parseResults extracts result links from the DuckDuckGo html response.
func parseResults(body string) []Result {
	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil
	}

	var results []Result
	seen := make(map[string]bool)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" && hasResultClass(n) {
			href := attr(n, "href")
			title := strings.TrimSpace(textOf(n))
			if href != "" && title != "" {
				clean := cleanURL(href)
				if !seen[clean] {
					seen[clean] = true
					results = append(results, Result{Title: title, URL: clean})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return results
}

func hasResultClass(n *html.Node) bool {
	for _, class := range strings.Fields(attr(n, "class")) {
		if class == "result__a" || class == "result__url" {
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

func textOf(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textOf(c))
	}
	return b.String()
}

// cleanURL unwraps DuckDuckGo's //duckduckgo.com/l/?uddg=<encoded> redirect
// form and normalizes scheme-relative and bare hrefs.
func cleanURL(href string) string {
	if strings.HasPrefix(href, "//duckduckgo.com/l/?") || strings.HasPrefix(href, "/l/?") {
		full := href
		if strings.HasPrefix(href, "//") {
			full = "https:" + href
		} else {
			full = "https://duckduckgo.com" + href
		}
		if u, err := url.Parse(full); err == nil {
			if target := u.Query().Get("uddg"); target != "" {
				return target
			}
		}
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	if strings.HasPrefix(href, "http") {
		return href
	}
	return "https://" + strings.TrimLeft(href, "/")
}
