package tasks

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// convertSimplifiedToTraditional mirrors
// original_source/karaoke/utils/translate.py: NFKC-normalize each
// whitespace-separated token. The Python original also ran the result
// through OpenCC's s2tw conversion table; no OpenCC binding exists among
// the retrieved examples (DESIGN.md records the drop), so this only
// performs the normalization half and passes the script through unchanged.
func convertSimplifiedToTraditional(text string) string {
	text = strings.TrimSpace(text)
	parts := strings.Split(text, " ")
	for i, p := range parts {
		parts[i] = norm.NFKC.String(p)
	}
	return strings.Join(parts, " ")
}
