package pptx

import (
	"archive/zip"
	"fmt"
	"html"
	"io"
	"regexp"
	"sort"
	"strconv"
)

// slideEntryRe matches slide parts inside the package, capturing the slide
// number. Notes, masters and layouts live elsewhere and are not matched.
var slideEntryRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// textRunRe matches one DrawingML text run element, either with content
// (group 1) or self-closing. Runs carry no nested markup, so a non-greedy
// span up to the closing tag is exact.
var textRunRe = regexp.MustCompile(`(?s)<a:t(?:\s[^>]*)?>(.*?)</a:t>|<a:t(?:\s[^>]*)?/>`)

// Read extracts slide texts from a .pptx package.
func Read(r io.ReaderAt, size int64) (*Deck, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("not a valid pptx package: %w", err)
	}

	type numbered struct {
		num  int
		file *zip.File
	}
	entries := make([]numbered, 0)
	for _, f := range zr.File {
		m := slideEntryRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		num, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		entries = append(entries, numbered{num: num, file: f})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("pptx package contains no slides")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].num < entries[j].num })

	deck := &Deck{Slides: make([]Slide, 0, len(entries))}
	for i, entry := range entries {
		content, err := readZipEntry(entry.file)
		if err != nil {
			return nil, fmt.Errorf("read slide %d: %w", entry.num, err)
		}
		deck.Slides = append(deck.Slides, Slide{
			Index: i + 1,
			Texts: extractTexts(content),
		})
	}
	return deck, nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// extractTexts pulls run texts in document order. Self-closing runs count as
// empty strings so run positions line up between read and rewrite.
func extractTexts(slideXML []byte) []string {
	matches := textRunRe.FindAllSubmatchIndex(slideXML, -1)
	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		if m[2] < 0 {
			texts = append(texts, "")
			continue
		}
		texts = append(texts, html.UnescapeString(string(slideXML[m[2]:m[3]])))
	}
	return texts
}
