// Package section maps diff hunks to the logical page region they belong to
// (hero, pricing, features, ...) to enrich alerts. It never affects whether a
// change is stored — a failure here degrades to an empty section list.
//
// The cascade walks a parsed DOM tree (golang.org/x/net/html) looking for the
// hunk's text, in contrast to the Normalizer, which is deliberately
// regex-only; locating an ancestor element requires an actual tree to walk.
package section

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/ramfiaogusto/watchtower/internal/core"
)

const snippetLimit = 200

// sectionKeywords maps a section type to the keywords used to recognize it in
// selectors, class/id attributes, and heading text.
var sectionKeywords = map[string][]string{
	"hero":         {"hero", "banner", "jumbotron", "masthead"},
	"pricing":      {"pricing", "price", "plans", "tier"},
	"features":     {"feature", "features", "capabilities"},
	"testimonials": {"testimonial", "review", "quote"},
	"cta":          {"cta", "call-to-action", "signup", "get-started"},
	"navigation":   {"nav", "navbar", "menu"},
	"header":       {"header", "topbar"},
	"footer":       {"footer"},
	"form":         {"form", "contact-form", "signup-form"},
	"about":        {"about", "about-us", "mission"},
	"team":         {"team", "staff", "people"},
	"gallery":      {"gallery", "portfolio", "showcase"},
	"blog":         {"blog", "news", "articles"},
	"faq":          {"faq", "questions"},
	"content":      {"content", "main", "body-content"},
}

// orderedSectionTypes preserves a deterministic scan order for keyword matching.
var orderedSectionTypes = []string{
	"hero", "pricing", "features", "testimonials", "cta", "navigation",
	"header", "footer", "form", "about", "team", "gallery", "blog", "faq", "content",
}

var semanticTags = map[atom.Atom]bool{
	atom.Header: true, atom.Nav: true, atom.Main: true, atom.Section: true,
	atom.Article: true, atom.Aside: true, atom.Footer: true,
}

// Extractor implements core.SectionExtractor.
type Extractor struct{}

// New returns an Extractor. It holds no state.
func New() *Extractor {
	return &Extractor{}
}

// Extract implements core.SectionExtractor.Extract.
func (e *Extractor) Extract(rawNewHTML string, hunks []core.Hunk) ([]core.AffectedSection, error) {
	doc, err := html.Parse(strings.NewReader(rawNewHTML))
	if err != nil {
		return nil, fmt.Errorf("section: parse HTML: %w", err)
	}

	var out []core.AffectedSection
	for _, h := range hunks {
		if h.Kind == core.HunkUnchanged {
			continue
		}
		out = append(out, extractForHunk(doc, h))
	}
	return out, nil
}

func extractForHunk(doc *html.Node, h core.Hunk) core.AffectedSection {
	needle := searchNeedle(h.Text)

	located := findNodeContainingText(doc, needle)

	selector, sectionType, node, strategyConfidence := cascade(doc, located, needle)

	sectionType, contentBonus := classifySectionType(selector, node, sectionType)

	confidence := 0.5 + strategyConfidence + contentBonus
	if confidence > 1.0 {
		confidence = 1.0
	}

	snippet := truncate(h.Text, snippetLimit)
	before, after := "", ""
	if h.Kind == core.HunkRemoved {
		before = snippet
	} else {
		after = snippet
	}

	return core.AffectedSection{
		Selector:      selector,
		SectionType:   sectionType,
		Confidence:    confidence,
		BeforeSnippet: before,
		AfterSnippet:  after,
		Changes:       extractAttributeChanges(h),
	}
}

// trackedAttributes are the attributes worth surfacing on their own in an
// alert, as opposed to buried in a snippet of surrounding markup. Normalizer
// already strips style, data-* and the describedby/labelledby/controls aria-*
// attributes and masks hashed id/class values before a hunk ever reaches
// here, so anything left matching these names is a real content change: a
// link target, an image, a form default, or label text.
var trackedAttributes = []string{"href", "src", "alt", "value", "content", "placeholder", "title"}

var attributeChangeRe = regexp.MustCompile(`\b(` + strings.Join(trackedAttributes, "|") + `)="([^"]*)"`)

// extractAttributeChanges pulls attribute="value" assignments out of the
// hunk's normalized HTML text and reports each as its own SectionChange, so
// an alert on e.g. a pricing CTA can name the href that changed instead of
// only showing a snippet of surrounding markup.
func extractAttributeChanges(h core.Hunk) []core.SectionChange {
	matches := attributeChangeRe.FindAllStringSubmatch(h.Text, -1)
	if len(matches) == 0 {
		return nil
	}

	changes := make([]core.SectionChange, 0, len(matches))
	for _, m := range matches {
		sc := core.SectionChange{Attribute: m[1]}
		value := truncate(m[2], snippetLimit)
		if h.Kind == core.HunkRemoved {
			sc.Before = value
		} else {
			sc.After = value
		}
		changes = append(changes, sc)
	}
	return changes
}

// cascade runs the §4.4 detection strategies in order until one matches,
// returning the matched selector, a best-effort section type guess from the
// selector alone, the matched node, and the strategy's confidence bonus.
func cascade(doc, located *html.Node, needle string) (selector, sectionType string, node *html.Node, bonus float64) {
	// 1. Explicit selectors: known ids/classes that contain the hunk text.
	if located != nil {
		if sel, st, n, ok := explicitSelectorMatch(located); ok {
			return sel, st, n, selectorBonus(sel, st)
		}
	}

	// 2. Semantic HTML5 ancestors.
	if located != nil {
		if n := nearestSemanticAncestor(located); n != nil {
			sel := describeNode(n)
			return sel, "", n, selectorBonus(sel, "") + 0.1
		}
	}

	// 3. Header-keyword matching.
	if n, st := headerKeywordMatch(doc); n != nil {
		sel := describeNode(n)
		return sel, st, n, selectorBonus(sel, st)
	}

	// 4. Content-search fallback: nearest div/section/article ancestor of the located node.
	if located != nil {
		if n := nearestContainerAncestor(located); n != nil {
			sel := describeNode(n)
			return sel, "", n, selectorBonus(sel, "")
		}
	}

	// 5. Structural analogy: a container with 2-6 similarly-classed children.
	if n := structuralAnalogy(doc, needle); n != nil {
		sel := describeNode(n)
		return sel, "", n, selectorBonus(sel, "")
	}

	return "body", "content", doc, 0
}

// explicitSelectorMatch looks for a known id/class ancestor of located.
func explicitSelectorMatch(located *html.Node) (selector, sectionType string, node *html.Node, ok bool) {
	for n := located; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		id := attrVal(n, "id")
		for _, st := range orderedSectionTypes {
			if id != "" && strings.EqualFold(id, st) {
				return "#" + id, st, n, true
			}
		}
		class := attrVal(n, "class")
		classLower := strings.ToLower(class)
		for _, st := range orderedSectionTypes {
			for _, kw := range sectionKeywords[st] {
				if strings.Contains(classLower, kw) {
					return "." + firstClass(class), st, n, true
				}
			}
		}
		if ds := attrVal(n, "data-section"); ds != "" {
			return fmt.Sprintf("[data-section=%s]", ds), strings.ToLower(ds), n, true
		}
	}
	return "", "", nil, false
}

// nearestSemanticAncestor walks up from located to the nearest HTML5
// semantic landmark, or a div/section whose class/id matches a domain keyword.
func nearestSemanticAncestor(located *html.Node) *html.Node {
	for n := located; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		if semanticTags[n.DataAtom] {
			return n
		}
		if n.DataAtom == atom.Div || n.DataAtom == atom.Section {
			if matchesAnyKeyword(n) {
				return n
			}
		}
	}
	return nil
}

// headerKeywordMatch scans h1..h4 for section keywords and returns the
// enclosing section element.
func headerKeywordMatch(doc *html.Node) (*html.Node, string) {
	var found *html.Node
	var foundType string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.H1, atom.H2, atom.H3, atom.H4:
				text := strings.ToLower(collectText(n))
				for _, st := range orderedSectionTypes {
					for _, kw := range sectionKeywords[st] {
						if strings.Contains(text, kw) {
							found = nearestContainerAncestor(n)
							if found == nil {
								found = n
							}
							foundType = st
							return
						}
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
			if found != nil {
				return
			}
		}
	}
	walk(doc)
	return found, foundType
}

// nearestContainerAncestor returns the nearest div/section/article ancestor
// of n (n included).
func nearestContainerAncestor(n *html.Node) *html.Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode {
			switch cur.DataAtom {
			case atom.Div, atom.Section, atom.Article:
				return cur
			}
		}
	}
	return nil
}

// structuralAnalogy finds a container with 2-6 similarly-classed children
// that contains needle somewhere in its subtree text.
func structuralAnalogy(doc *html.Node, needle string) *html.Node {
	var best *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if best != nil {
			return
		}
		if n.Type == html.ElementNode {
			if hasSimilarlyClassedChildren(n) && (needle == "" || strings.Contains(collectText(n), needle)) {
				best = n
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
			if best != nil {
				return
			}
		}
	}
	walk(doc)
	return best
}

func hasSimilarlyClassedChildren(n *html.Node) bool {
	counts := map[string]int{}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		cls := attrVal(c, "class")
		if cls == "" {
			continue
		}
		counts[firstClass(cls)]++
	}
	for _, count := range counts {
		if count >= 2 && count <= 6 {
			return true
		}
	}
	return false
}

// classifySectionType resolves the final section type: prefer the cascade's
// selector-derived guess, else fall back to content heuristics.
func classifySectionType(selector string, node *html.Node, guessed string) (string, float64) {
	if guessed != "" {
		return guessed, 0
	}

	selLower := strings.ToLower(selector)
	for _, st := range orderedSectionTypes {
		for _, kw := range sectionKeywords[st] {
			if strings.Contains(selLower, kw) {
				return st, 0.15
			}
		}
	}

	if node == nil {
		return "content", 0
	}
	text := collectText(node)
	lower := strings.ToLower(text)

	switch {
	case strings.ContainsAny(text, "$€£¥"):
		return "pricing", 0.15
	case hasDescendant(node, atom.Form) || hasDescendant(node, atom.Input):
		return "form", 0.15
	case strings.Contains(text, "“") || strings.Contains(text, "’") || strings.ContainsAny(text, "★✮"):
		return "testimonials", 0.15
	case containsAny(lower, "get started", "sign up", "try now", "buy now", "subscribe"):
		return "cta", 0.15
	}

	return "content", 0
}

func hasDescendant(n *html.Node, a atom.Atom) bool {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if hasDescendant(c, a) {
			return true
		}
	}
	return false
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// selectorBonus implements the §4.4 confidence scoring for the selector shape.
func selectorBonus(selector, sectionType string) float64 {
	var bonus float64
	low := strings.ToLower(selector)
	if sectionType != "" && strings.Contains(low, "#"+sectionType) {
		bonus += 0.3
	}
	if sectionType != "" && strings.Contains(low, "."+sectionType) {
		bonus += 0.2
	}
	if isSemanticTagSelector(low) {
		bonus += 0.1
	}
	return bonus
}

func isSemanticTagSelector(selector string) bool {
	for tag := range semanticTags {
		if strings.HasPrefix(selector, "<"+tag.String()) || strings.HasPrefix(selector, tag.String()) {
			return true
		}
	}
	return false
}

func matchesAnyKeyword(n *html.Node) bool {
	classLower := strings.ToLower(attrVal(n, "class"))
	idLower := strings.ToLower(attrVal(n, "id"))
	for _, kws := range sectionKeywords {
		for _, kw := range kws {
			if strings.Contains(classLower, kw) || strings.Contains(idLower, kw) {
				return true
			}
		}
	}
	return false
}

// describeNode builds a human-readable selector string for n: #id, .class or the tag name.
func describeNode(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return "body"
	}
	if id := attrVal(n, "id"); id != "" {
		return "#" + id
	}
	if class := attrVal(n, "class"); class != "" {
		return "." + firstClass(class)
	}
	return n.Data
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func firstClass(class string) string {
	fields := strings.Fields(class)
	if len(fields) == 0 {
		return class
	}
	return fields[0]
}

// searchNeedle returns the lead substring of hunk text used to locate it in
// the DOM, per §4.4 strategy 4 ("first 50 characters").
func searchNeedle(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > 50 {
		return text[:50]
	}
	return text
}

// findNodeContainingText returns the parent element of the first text node,
// in document order, that contains needle.
func findNodeContainingText(doc *html.Node, needle string) *html.Node {
	if needle == "" {
		return nil
	}
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.TextNode && strings.Contains(n.Data, needle) {
			found = n.Parent
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
			if found != nil {
				return
			}
		}
	}
	walk(doc)
	return found
}

func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
