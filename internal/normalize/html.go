package normalize

import (
	"context"
	"os"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// chromeSelectors are the page furniture stripped before conversion. The
// 2003-2014 digest pages wrap the content in standard sec.gov navigation.
var chromeSelectors = []string{
	"script",
	"style",
	"noscript",
	"nav",
	"header",
	"footer",
	"#header",
	"#footer",
	"#navbar",
	".navigation",
	".breadcrumb",
}

// HTMLParser converts the html-era digest pages to markdown-flavored text.
type HTMLParser struct {
	converter *md.Converter
}

// NewHTMLParser creates an HTMLParser.
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{
		converter: md.NewConverter("www.sec.gov", true, nil),
	}
}

// Parse strips page chrome from the document and converts the remainder to
// markdown text.
func (h *HTMLParser) Parse(_ context.Context, rawPath string) (string, error) {
	file, err := os.Open(rawPath)
	if err != nil {
		return "", eris.Wrapf(err, "normalize: open %s", rawPath)
	}
	defer file.Close() //nolint:errcheck

	doc, err := goquery.NewDocumentFromReader(file)
	if err != nil {
		return "", eris.Wrapf(err, "normalize: parse html %s", rawPath)
	}

	for _, sel := range chromeSelectors {
		doc.Find(sel).Remove()
	}

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}

	text := h.converter.Convert(body)
	return strings.TrimSpace(text) + "\n", nil
}
