package render

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// stripUnsafe is the best-effort defense used when no sanitizer library is
// available: it removes script elements with their content and every inline
// event-handler attribute. It does not filter URLs, styles or other elements,
// so it is weaker than a real sanitizer.
func stripUnsafe(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && c.DataAtom == atom.Script {
			n.RemoveChild(c)
			c = next
			continue
		}
		if c.Type == html.ElementNode {
			kept := c.Attr[:0]
			for _, a := range c.Attr {
				if !strings.HasPrefix(strings.ToLower(a.Key), "on") {
					kept = append(kept, a)
				}
			}
			c.Attr = kept
		}
		stripUnsafe(c)
		c = next
	}
}
