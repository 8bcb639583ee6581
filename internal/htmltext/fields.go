package htmltext

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// SampleTags are the elements sampled for gate text, in probe order.
var SampleTags = []string{"h1", "h2", "h3", "p", "a"}

// DescriptionNames are the meta name/property values read as descriptions,
// in probe order.
var DescriptionNames = []string{"description", "og:description", "twitter:description"}

// Fields are the parts of a page a language gate probes.
type Fields struct {
	Title        string
	Lang         string
	Descriptions []string
	// Samples holds up to perTag texts for each of SampleTags, grouped in
	// SampleTags order.
	Samples []string
}

// Fields extracts the title, the root lang attribute, meta descriptions and
// per-tag text samples from doc.
func (c *Converter) Fields(doc string, perTag int) (*Fields, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("htmltext: parse: %w", err)
	}

	f := &Fields{}
	descs := make(map[string]string)
	samples := make(map[string][]string)

	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			case atom.Html:
				if f.Lang == "" {
					f.Lang = strings.TrimSpace(attr(n, "lang"))
				}
			case atom.Title:
				if f.Title == "" {
					f.Title = textContent(n)
				}
			case atom.Meta:
				key := strings.ToLower(attr(n, "name"))
				if key == "" {
					key = strings.ToLower(attr(n, "property"))
				}
				if content := strings.TrimSpace(attr(n, "content")); key != "" && content != "" {
					if _, seen := descs[key]; !seen {
						descs[key] = content
					}
				}
			}

			for _, tag := range SampleTags {
				if n.Data == tag && len(samples[tag]) < perTag {
					if text := textContent(n); text != "" {
						samples[tag] = append(samples[tag], text)
					}
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			visit(child)
		}
	}
	visit(root)

	for _, name := range DescriptionNames {
		if d, ok := descs[name]; ok {
			f.Descriptions = append(f.Descriptions, d)
		}
	}
	for _, tag := range SampleTags {
		f.Samples = append(f.Samples, samples[tag]...)
	}
	return f, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// textContent returns the collapsed text below n, ignoring scripts and styles.
func textContent(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
			return
		case n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style):
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			visit(child)
		}
	}
	visit(n)
	return collapseSpaces(b.String())
}
