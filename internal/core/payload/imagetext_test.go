package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseImageText_Short(t *testing.T) {
	seg, err := ParseImageText("040713abc", "+237600000001")
	require.NoError(t, err)

	assert.Equal(t, uint8(7), seg.SessionID)
	assert.Equal(t, 1, seg.Number)
	assert.Equal(t, 3, seg.Total)
	assert.Equal(t, 0, seg.ImageLength)
	assert.Equal(t, 0, seg.TextLength)
	assert.Equal(t, "abc", seg.Content)
	assert.Equal(t, "+237600000001", seg.Sender)
}

func TestParseImageText_Long(t *testing.T) {
	seg, err := ParseImageText("04070200010500QUJD", "+237600000001")
	require.NoError(t, err)

	assert.Equal(t, uint8(7), seg.SessionID)
	assert.Equal(t, 0, seg.Number)
	assert.Equal(t, 2, seg.Total)
	assert.Equal(t, 256, seg.ImageLength)
	assert.Equal(t, 5, seg.TextLength)
	assert.Equal(t, "QUJD", seg.Content)
}

func TestParseImageText_Rejects(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"too short", "0407"},
		{"wrong prefix", "050713abc"},
		{"non hex metadata", "04zz13abc"},
		{"segment equals total", "040033abc"},
		{"zero total", "040010abc"},
		{"segment above limit", "0400f0abc"},
		{"no content", "040713"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseImageText(tt.text, "x")
			assert.ErrorIs(t, err, ErrNotImageText)
			assert.False(t, IsImageText(tt.text))
		})
	}
}

func TestIsImageText(t *testing.T) {
	assert.True(t, IsImageText("040713abc"))
	assert.False(t, IsImageText(b64("\x00hello")))
}
