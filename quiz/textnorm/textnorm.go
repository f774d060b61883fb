// Package textnorm canonicalizes guess and answer strings before they are
// compared.
package textnorm

import (
	"strings"

	"github.com/mozillazg/go-unidecode"
)

// Normalize lower-cases text, transliterates it to ASCII, replaces anything
// outside [a-z0-9] with a space and collapses whitespace. It is idempotent.
func Normalize(text string) string {
	ascii := strings.ToLower(unidecode.Unidecode(strings.ToLower(text)))

	var b strings.Builder
	b.Grow(len(ascii))
	for i := 0; i < len(ascii); i++ {
		c := ascii[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
