package htmlutil

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

// Text returns the whitespace-trimmed text of the first node in sel.
func Text(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	return strings.TrimSpace(GetText(sel.Nodes[0]))
}

// Attr returns the whitespace-trimmed value of an attribute on the first node
// in sel, exists is false if the attribute isn't present.
func Attr(sel *goquery.Selection, name string) (value string, exists bool) {
	value, exists = sel.Attr(name)
	return strings.TrimSpace(value), exists
}
