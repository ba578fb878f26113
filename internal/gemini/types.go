package gemini

import "fmt"

type PartKind int

const (
	PartText PartKind = iota + 1
	PartInlineData
)

// Blob is inline binary data; Data is standard base64.
type Blob struct {
	MimeType string
	Data     string
}

// Part is one fragment of a request or response. Exactly one of Text or Blob is
// meaningful, selected by Kind.
type Part struct {
	Kind PartKind
	Text string
	Blob Blob
}

func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

func InlinePart(mimeType, data string) Part {
	return Part{Kind: PartInlineData, Blob: Blob{MimeType: mimeType, Data: data}}
}

func (p Part) IsImage() bool {
	return p.Kind == PartInlineData && p.Blob.Data != ""
}

type Request struct {
	Parts              []Part
	ResponseModalities []string
}

type Candidate struct {
	Parts []Part
}

type Response struct {
	Candidates []Candidate
}

// FirstImage walks every candidate and every part in order and returns the first
// inline image. Position within the part list does not matter.
func (r Response) FirstImage() (Blob, bool) {
	for _, c := range r.Candidates {
		for _, p := range c.Parts {
			if p.IsImage() {
				return p.Blob, true
			}
		}
	}
	return Blob{}, false
}

// Text concatenates text parts of the first candidate.
func (r Response) Text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var out string
	for _, p := range r.Candidates[0].Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

func (r Response) HasParts() bool {
	for _, c := range r.Candidates {
		if len(c.Parts) > 0 {
			return true
		}
	}
	return false
}

func (b Blob) DataURL() string {
	mimeType := b.MimeType
	if mimeType == "" {
		mimeType = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, b.Data)
}
