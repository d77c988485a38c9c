package domain

import "fmt"

// MaxSegments bounds the number of parts an image-text session may be split into.
const MaxSegments = 15

// Segment is one part of an image-text payload sent across several messages.
type Segment struct {
	SessionID   uint8
	Sender      string
	Number      int
	Total       int
	ImageLength int
	TextLength  int
	Content     string
}

// SessionKey identifies the session a segment belongs to.
func (s Segment) SessionKey() string {
	return fmt.Sprintf("%d:%s", s.SessionID, s.Sender)
}
