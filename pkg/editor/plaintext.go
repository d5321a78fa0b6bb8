package editor

import (
	"strings"

	"golang.org/x/net/html"
)

// PlainText strips markup from chapter content and collapses whitespace.
func PlainText(markup string) string {
	if strings.TrimSpace(markup) == "" {
		return ""
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), nil)
	if err != nil {
		return strings.Join(strings.Fields(markup), " ")
	}
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return strings.Join(strings.Fields(buf.String()), " ")
}

// WordCount counts whitespace-separated words of the plain text.
func WordCount(markup string) int {
	return len(strings.Fields(PlainText(markup)))
}
