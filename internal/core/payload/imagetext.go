package payload

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"relay-gateway/internal/core/domain"
)

// ErrNotImageText is returned when text does not carry image-text metadata.
var ErrNotImageText = errors.New("not an image-text payload")

const (
	imageTextPrefix = "04"
	shortMetaHex    = 4
	longMetaHex     = 12
)

// ParseImageText splits an image-text segment into its metadata and content.
//
// Layout: "04" + metadata hex + content. Short metadata is two bytes
// (session id, segment info); long metadata adds little-endian uint16 image
// and text lengths. The segment info byte packs the segment number in the high
// nibble and the total in the low nibble.
func ParseImageText(text, sender string) (domain.Segment, error) {
	text = strings.TrimSpace(text)
	if len(text) < len(imageTextPrefix)+shortMetaHex || !strings.HasPrefix(text, imageTextPrefix) {
		return domain.Segment{}, ErrNotImageText
	}

	var (
		meta    []byte
		content string
	)
	if len(text) >= len(imageTextPrefix)+longMetaHex {
		if b, err := hex.DecodeString(text[2 : 2+longMetaHex]); err == nil {
			meta, content = b, text[2+longMetaHex:]
		}
	}
	if meta == nil {
		b, err := hex.DecodeString(text[2 : 2+shortMetaHex])
		if err != nil {
			return domain.Segment{}, ErrNotImageText
		}
		meta, content = b, text[2+shortMetaHex:]
	}

	seg, err := parseSegmentMeta(meta)
	if err != nil {
		return domain.Segment{}, err
	}
	if content == "" {
		return domain.Segment{}, fmt.Errorf("%w: no content after metadata", ErrNotImageText)
	}
	seg.Sender = sender
	seg.Content = content
	return seg, nil
}

// IsImageText reports whether text parses as a valid image-text segment.
func IsImageText(text string) bool {
	_, err := ParseImageText(text, "")
	return err == nil
}

func parseSegmentMeta(meta []byte) (domain.Segment, error) {
	if len(meta) != shortMetaHex/2 && len(meta) != longMetaHex/2 {
		return domain.Segment{}, fmt.Errorf("%w: metadata length %d", ErrNotImageText, len(meta))
	}

	info := meta[1]
	seg := domain.Segment{
		SessionID: meta[0],
		Number:    int(info>>4) & 0x0F,
		Total:     int(info) & 0x0F,
	}
	switch {
	case seg.Number >= domain.MaxSegments || seg.Total > domain.MaxSegments:
		return domain.Segment{}, fmt.Errorf("%w: segment %d of %d exceeds limit", ErrNotImageText, seg.Number, seg.Total)
	case seg.Total == 0:
		return domain.Segment{}, fmt.Errorf("%w: zero total segments", ErrNotImageText)
	case seg.Number >= seg.Total:
		return domain.Segment{}, fmt.Errorf("%w: segment %d >= total %d", ErrNotImageText, seg.Number, seg.Total)
	}

	if len(meta) == longMetaHex/2 {
		seg.ImageLength = int(binary.LittleEndian.Uint16(meta[2:4]))
		seg.TextLength = int(binary.LittleEndian.Uint16(meta[4:6]))
	}
	return seg, nil
}
