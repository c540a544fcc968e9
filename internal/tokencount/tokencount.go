// Package tokencount estimates how many model tokens a piece of webhook
// content will cost the workflow it triggers. The estimate is operational
// telemetry only; it never gates a launch.
package tokencount

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

var (
	once sync.Once
	enc  *tiktoken.Tiktoken
)

// Estimate returns the token count of text under cl100k_base. When the
// encoding cannot be loaded (offline host), it falls back to the usual
// chars/4 approximation rather than failing.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	once.Do(func() {
		loaded, err := tiktoken.GetEncoding(encodingName)
		if err == nil {
			enc = loaded
		}
	})
	if enc == nil {
		return approximate(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func approximate(text string) int {
	n := utf8.RuneCountInString(text)
	est := n / 4
	if est == 0 {
		est = 1
	}
	return est
}
