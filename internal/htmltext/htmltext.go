package htmltext

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultSkipTags are elements whose subtree never contributes text.
var DefaultSkipTags = []string{
	"head", "script", "style", "noscript", "img", "video", "iframe",
	"svg", "nav", "template",
}

// blockTags end the current line before and after their content.
var blockTags = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Br: true, atom.Dd: true, atom.Div: true, atom.Dl: true, atom.Dt: true,
	atom.Fieldset: true, atom.Figcaption: true, atom.Figure: true, atom.Footer: true,
	atom.Form: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.H5: true, atom.H6: true, atom.Header: true, atom.Hr: true, atom.Li: true,
	atom.Main: true, atom.Ol: true, atom.P: true, atom.Pre: true, atom.Section: true,
	atom.Table: true, atom.Td: true, atom.Th: true, atom.Title: true, atom.Tr: true,
	atom.Ul: true,
}

// Converter renders HTML as plain text, one block element per line.
// Links contribute their text only.
type Converter struct {
	skip map[string]bool
}

// New returns a Converter skipping the given tags, or DefaultSkipTags when
// none are given.
func New(skipTags ...string) *Converter {
	if len(skipTags) == 0 {
		skipTags = DefaultSkipTags
	}
	c := &Converter{skip: make(map[string]bool, len(skipTags))}
	for _, t := range skipTags {
		c.skip[strings.ToLower(t)] = true
	}
	return c
}

// Convert returns the visible text of doc. Whitespace inside a line is
// collapsed to single spaces and empty lines are dropped.
func (c *Converter) Convert(doc string) (string, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", fmt.Errorf("htmltext: parse: %w", err)
	}

	var w lineWriter
	c.walk(root, &w)
	return w.String(), nil
}

func (c *Converter) walk(n *html.Node, w *lineWriter) {
	switch n.Type {
	case html.TextNode:
		w.text(n.Data)
		return
	case html.CommentNode, html.DoctypeNode:
		return
	case html.ElementNode:
		if c.skip[n.Data] {
			return
		}
	}

	block := n.Type == html.ElementNode && blockTags[n.DataAtom]
	if block {
		w.newline()
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.walk(child, w)
	}
	if block {
		w.newline()
	}
}

// lineWriter accumulates raw text and emits one collapsed line per block.
type lineWriter struct {
	lines []string
	cur   strings.Builder
}

func (w *lineWriter) text(s string) {
	w.cur.WriteString(s)
}

func (w *lineWriter) newline() {
	line := collapseSpaces(w.cur.String())
	w.cur.Reset()
	if line != "" {
		w.lines = append(w.lines, line)
	}
}

func (w *lineWriter) String() string {
	w.newline()
	return strings.Join(w.lines, "\n")
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
