package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Café!":               "cafe",
		"  Hello,   World  ":  "hello world",
		"Beyoncé - Halo":      "beyonce halo",
		"AC/DC":               "ac dc",
		"Mötley Crüe\t(Live)": "motley crue live",
		"":                    "",
		"   \t\n ":            "",
		"!!!":                 "",
		"Guns N' Roses 1987":  "guns n roses 1987",
		"ÆON":                 "aeon",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	for _, in := range []string{"Café!", "Sigur Rós", "  a  b  ", "Ça plane pour moi", "ÆON"} {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestNormalizeIgnoresCaseAndDiacritics(t *testing.T) {
	assert.Equal(t, Normalize("cafe"), Normalize("Café!"))
	assert.Equal(t, Normalize("CAFE"), Normalize("café"))
}
