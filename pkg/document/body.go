package document

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var fencePattern = regexp.MustCompile("(?s)^```[A-Za-z]*[ \t]*\r?\n(.*?)\r?\n?```$")

// Clean strips a surrounding code fence and, when the reply is a whole HTML
// document, keeps only the inner body.
func Clean(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}

	lower := strings.ToLower(s)
	if !strings.Contains(lower, "<body") && !strings.Contains(lower, "<html") {
		return s
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	inner, err := doc.Find("body").First().Html()
	if err != nil {
		return s
	}
	return strings.TrimSpace(inner)
}

var mathElements = []string{
	"math", "semantics", "annotation", "mrow", "mi", "mn", "mo", "mtext", "mspace",
	"msup", "msub", "msubsup", "mfrac", "msqrt", "mroot", "munder", "mover",
	"munderover", "mtable", "mtr", "mtd", "mstyle", "mfenced",
}

// newPolicy allows user-generated-content markup plus MathML. Scripts, event
// handlers and javascript: URLs are removed.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("dir", "class").Globally()
	p.AllowElements(mathElements...)
	p.AllowNoAttrs().OnElements(mathElements...)
	p.AllowAttrs("display", "xmlns").OnElements("math")
	p.AllowAttrs("mathvariant").OnElements("mi", "mn", "mo", "mtext", "mstyle")
	p.AllowAttrs("encoding").OnElements("annotation")
	return p
}
