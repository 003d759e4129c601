package pptx

import "strings"

// Slide holds the text runs of one slide in document order.
type Slide struct {
	Index int // 1-based position in deck order
	Texts []string
}

// JoinedText concatenates the slide's runs for language detection and
// prompting. Runs are newline-separated to keep bullet boundaries.
func (s Slide) JoinedText() string {
	return strings.Join(s.Texts, "\n")
}

// Deck is the text content of a presentation. Layout, images and styling
// stay inside the original file; rewriting swaps run text in place.
type Deck struct {
	Slides []Slide
}

// SlideCount returns the number of slides.
func (d *Deck) SlideCount() int {
	return len(d.Slides)
}
