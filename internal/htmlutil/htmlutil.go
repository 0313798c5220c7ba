package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// nodes whose text never renders
var hiddenTags = "script, style, noscript, template, head"

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
		if child.Type == html.ElementNode && isBlock(child.Data) {
			buffer.WriteByte('\n')
		}
		child = child.NextSibling
	}
}

func isBlock(tag string) bool {
	switch tag {
	case "div", "p", "br", "tr", "li", "h1", "h2", "h3", "h4", "h5", "h6", "table", "form", "section":
		return true
	}
	return false
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) || c == '\t' {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// Clean collapses runs of whitespace and drops non-printable runes.
func Clean(s string) string {
	lines := []string{}
	for _, line := range strings.Split(s, "\n") {
		line = removeNonPrintable(line)
		line = innerWhitespace.ReplaceAllString(line, " ")
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// VisibleText returns the text a reader would see in the given document,
// ignoring script and style content. Malformed markup is parsed leniently.
func VisibleText(document string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return ""
	}
	doc.Find(hiddenTags).Remove()

	var out strings.Builder
	for _, n := range doc.Nodes {
		out.WriteString(GetText(n))
	}
	return Clean(out.String())
}
