package telegram

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Telegram's sendMessage HTML mode accepts only a handful of inline
// tags. Anything else in the rendered markdown must be unwrapped to
// its text content.
var allowedTags = map[string]string{
	"b":      "b",
	"strong": "b",
	"i":      "i",
	"em":     "i",
	"u":      "u",
	"ins":    "u",
	"s":      "s",
	"strike": "s",
	"del":    "s",
	"code":   "code",
	"pre":    "pre",
	"a":      "a",
}

// RenderHTML converts model-produced markdown into Telegram-safe HTML.
// Unsupported block structure degrades to plain text with newlines; on
// any parse failure the escaped source text is returned so a reply is
// never lost.
func RenderHTML(markdown string) string {
	var rendered bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &rendered); err != nil {
		return html.EscapeString(markdown)
	}

	nodes, err := html.ParseFragment(&rendered, &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return html.EscapeString(markdown)
	}

	var out strings.Builder
	for _, n := range nodes {
		writeNode(&out, n)
	}
	return strings.TrimSpace(out.String())
}

func writeNode(out *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		out.WriteString(html.EscapeString(n.Data))
		return
	case html.ElementNode:
		if tag, ok := allowedTags[n.Data]; ok {
			out.WriteString("<" + tag)
			if tag == "a" {
				for _, attr := range n.Attr {
					if attr.Key == "href" {
						out.WriteString(` href="` + html.EscapeString(attr.Val) + `"`)
						break
					}
				}
			}
			out.WriteString(">")
			writeChildren(out, n)
			out.WriteString("</" + tag + ">")
			return
		}

		// Block elements become plain text with separators.
		switch n.Data {
		case "br":
			out.WriteString("\n")
			return
		case "p", "blockquote":
			writeChildren(out, n)
			out.WriteString("\n\n")
			return
		case "h1", "h2", "h3", "h4", "h5", "h6":
			out.WriteString("<b>")
			writeChildren(out, n)
			out.WriteString("</b>\n\n")
			return
		case "li":
			out.WriteString("• ")
			writeChildren(out, n)
			out.WriteString("\n")
			return
		case "hr":
			out.WriteString("\n")
			return
		}
	}
	writeChildren(out, n)
}

func writeChildren(out *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeNode(out, c)
	}
}
