package avatar

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// FallbackColor is used when there is no username to derive a color from.
const FallbackColor = "#cccccc"

var palette = []string{
	"#FFD700", "#FFA07A", "#87CEEB", "#98FB98", "#DDA0DD",
	"#FFB6C1", "#FFC0CB", "#20B2AA", "#FF6347", "#708090",
	"#9370DB", "#90EE90", "#B0E0E6",
}

// Avatar is the identity badge rendered next to a user.
type Avatar struct {
	Initial string `json:"initial"`
	Color   string `json:"color"`
}

// Assign maps a username to its avatar. The color is a pure function of the
// username so every client renders the same badge for the same user.
func Assign(username string) Avatar {
	if username == "" {
		return Avatar{Initial: "?", Color: FallbackColor}
	}
	first, _ := utf8.DecodeRuneInString(username)
	return Avatar{
		Initial: strings.ToUpper(string(first)),
		Color:   palette[index(username)],
	}
}

// index reproduces the 32-bit string hash the mobile clients use, so the
// palette slot is identical across platforms.
func index(username string) int {
	var h int64
	for _, c := range utf16.Encode([]rune(username)) {
		shifted := int64(int32(uint32(h) << 5))
		h = int64(c) + shifted - h
	}
	if h < 0 {
		h = -h
	}
	return int(h % int64(len(palette)))
}
