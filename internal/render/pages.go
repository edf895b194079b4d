package render

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PageTool counts and extracts PDF pages
type PageTool interface {
	Count(path string) (int, error)
	// Extract writes page (one based) of in to out
	Extract(in, out string, page int) error
}

var disableConfigDir sync.Once

// PDFCPU implements PageTool with pdfcpu
type PDFCPU struct{}

func (PDFCPU) Count(path string) (int, error) {
	disableConfigDir.Do(api.DisableConfigDir)
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages of %s: %w", path, err)
	}
	return n, nil
}

func (PDFCPU) Extract(in, out string, page int) error {
	disableConfigDir.Do(api.DisableConfigDir)
	if err := api.TrimFile(in, out, []string{strconv.Itoa(page)}, nil); err != nil {
		return fmt.Errorf("failed to extract page %d of %s: %w", page, in, err)
	}
	return nil
}

// Inspector returns the text of every page of a PDF
type Inspector interface {
	PageTexts(path string) ([]string, error)
}

// FitzInspector reads page text through MuPDF
type FitzInspector struct{}

func (FitzInspector) PageTexts(path string) ([]string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	texts := make([]string, 0, doc.NumPage())
	for n := 0; n < doc.NumPage(); n++ {
		text, err := doc.Text(n)
		if err != nil {
			return nil, fmt.Errorf("failed to read text of page %d: %w", n+1, err)
		}
		texts = append(texts, text)
	}
	return texts, nil
}

// placeholder matches the error values spreadsheet engines print in place of a result
var placeholder = regexp.MustCompile(`#NAME\?|#VALUE!|#REF!|Err:5\d\d`)

// Placeholders returns the formula error texts found on the pages, in page order
func Placeholders(texts []string) []string {
	var found []string
	for _, t := range texts {
		found = append(found, placeholder.FindAllString(t, -1)...)
	}
	return found
}
