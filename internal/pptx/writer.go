package pptx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Rewrite streams the package, replacing slide run texts with those in
// texts (keyed by 1-based slide index) and copying every other entry
// untouched. Runs without a replacement keep their original text, so
// partially translated decks stay intact.
func Rewrite(r io.ReaderAt, size int64, w io.Writer, texts map[int][]string) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return fmt.Errorf("not a valid pptx package: %w", err)
	}

	// Entry order inside the zip is not guaranteed to follow slide numbers;
	// map each slide entry to its deck position the same way Read does.
	nums := make([]int, 0)
	names := make(map[int]string)
	for _, f := range zr.File {
		m := slideEntryRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		nums = append(nums, n)
		names[n] = f.Name
	}
	sort.Ints(nums)
	slideByEntry := make(map[string]int, len(nums))
	for i, n := range nums {
		slideByEntry[names[n]] = i + 1
	}

	zw := zip.NewWriter(w)
	for _, f := range zr.File {
		content, err := readZipEntry(f)
		if err != nil {
			return fmt.Errorf("read entry %s: %w", f.Name, err)
		}
		if idx, ok := slideByEntry[f.Name]; ok {
			if replacement, ok := texts[idx]; ok {
				content = replaceTexts(content, replacement)
			}
		}

		hdr := &zip.FileHeader{
			Name:     f.Name,
			Method:   f.Method,
			Modified: f.Modified,
		}
		dst, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("write entry %s: %w", f.Name, err)
		}
		if _, err := dst.Write(content); err != nil {
			return fmt.Errorf("write entry %s: %w", f.Name, err)
		}
	}
	return zw.Close()
}

// replaceTexts swaps each run's content with the matching replacement,
// escaping it for XML. Extra replacements are ignored; missing ones keep the
// original run.
func replaceTexts(slideXML []byte, texts []string) []byte {
	matches := textRunRe.FindAllSubmatchIndex(slideXML, -1)
	if len(matches) == 0 {
		return slideXML
	}

	var out bytes.Buffer
	out.Grow(len(slideXML))
	prev := 0
	for i, m := range matches {
		if i >= len(texts) {
			break
		}
		out.Write(slideXML[prev:m[0]])
		out.WriteString("<a:t>")
		_ = xml.EscapeText(&out, []byte(texts[i]))
		out.WriteString("</a:t>")
		prev = m[1]
	}
	out.Write(slideXML[prev:])
	return out.Bytes()
}
