package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/JakeFAU/icp-exporter/internal/icp"
)

const (
	pageCountSelector = "div#pagelist > span"
	resultRowSelector = "tbody#result_table > tr"
)

var digitRun = regexp.MustCompile(`\d+`)

// ParsePage decodes one page of the paginated listing. A missing or
// non-numeric page count fails with icp.ErrParse so callers retry instead of
// treating the page as empty.
func ParsePage(payload []byte, contentType string) (icp.Page, error) {
	reader, err := charset.NewReader(bytes.NewReader(payload), contentType)
	if err != nil {
		return icp.Page{}, fmt.Errorf("%w: decode charset: %v", icp.ErrParse, err)
	}
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return icp.Page{}, fmt.Errorf("%w: parse html: %v", icp.ErrParse, err)
	}

	total, err := totalPages(doc)
	if err != nil {
		return icp.Page{}, err
	}

	rows := make([]icp.Record, 0)
	doc.Find(resultRowSelector).Each(func(_ int, tr *goquery.Selection) {
		rows = append(rows, recordFromRow(tr))
	})
	return icp.Page{TotalPages: total, Rows: rows}, nil
}

// totalPages reads the page total from the first span of the pagination bar,
// e.g. "共12页". The surrounding text is not numeric and is ignored.
func totalPages(doc *goquery.Document) (int, error) {
	span := doc.Find(pageCountSelector).First()
	if span.Length() == 0 {
		return 0, fmt.Errorf("%w: pagination element missing", icp.ErrParse)
	}
	raw := strings.TrimSpace(span.Text())
	match := digitRun.FindString(raw)
	if match == "" {
		return 0, fmt.Errorf("%w: page count %q is not numeric", icp.ErrParse, raw)
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0, fmt.Errorf("%w: page count %q: %v", icp.ErrParse, raw, err)
	}
	return n, nil
}

func recordFromRow(tr *goquery.Selection) icp.Record {
	cells := tr.ChildrenFiltered("td")
	text := func(i int) string {
		return strings.TrimSpace(cells.Eq(i).Text())
	}

	var homepages []string
	cells.Eq(5).Find("span a").Each(func(_ int, a *goquery.Selection) {
		if v := strings.TrimSpace(a.Text()); v != "" {
			homepages = append(homepages, v)
		}
	})

	return icp.Record{
		Domain:        strings.TrimSpace(cells.Eq(0).Find("a").First().Text()),
		OwnerName:     text(1),
		OwnerType:     text(2),
		CertificateID: text(3),
		SiteName:      text(4),
		Homepage:      strings.Join(homepages, " "),
		RegisteredAt:  text(6),
	}
}
