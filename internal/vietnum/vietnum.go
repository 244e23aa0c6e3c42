// Package vietnum renders integers as Vietnamese number words, the way an
// amount is written out on an invoice.
package vietnum

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var digits = [...]string{
	"không", "một", "hai", "ba", "bốn", "năm", "sáu", "bảy", "tám", "chín",
}

// Words spells n in Vietnamese with the first letter capitalized.
// Zero reads as "Không" and negatives are prefixed with "âm".
func Words(n int64) string {
	if n == 0 {
		return capitalize(digits[0])
	}

	var parts []string
	if n < 0 {
		parts = append(parts, "âm")
		n = -n
	}

	// Split into base-1000 chunks, most significant first.
	var chunks []int64
	for n > 0 {
		chunks = append([]int64{n % 1000}, chunks...)
		n /= 1000
	}

	for i, chunk := range chunks {
		if chunk == 0 {
			continue
		}
		leading := i == 0
		parts = append(parts, chunkWords(chunk, leading)...)
		if scale := scaleName(len(chunks) - 1 - i); scale != "" {
			parts = append(parts, scale)
		}
	}

	return capitalize(strings.Join(parts, " "))
}

// chunkWords spells a 0..999 chunk. Non-leading chunks keep their zero
// hundreds ("không trăm") so that 1005 reads "một nghìn không trăm linh năm".
func chunkWords(chunk int64, leading bool) []string {
	h := chunk / 100
	t := (chunk / 10) % 10
	u := chunk % 10

	var words []string
	if h > 0 {
		words = append(words, digits[h], "trăm")
	} else if !leading {
		words = append(words, digits[0], "trăm")
	}

	switch {
	case t == 0:
		if u > 0 {
			if len(words) > 0 {
				words = append(words, "linh")
			}
			words = append(words, digits[u])
		}
	case t == 1:
		words = append(words, "mười")
		switch u {
		case 0:
		case 5:
			words = append(words, "lăm")
		default:
			words = append(words, digits[u])
		}
	default:
		words = append(words, digits[t], "mươi")
		switch u {
		case 0:
		case 1:
			words = append(words, "mốt")
		case 5:
			words = append(words, "lăm")
		default:
			words = append(words, digits[u])
		}
	}
	return words
}

// scaleName names the power-of-1000 position: nghìn, triệu, tỷ, and the
// repeated tỷ forms beyond a billion (nghìn tỷ, triệu tỷ, tỷ tỷ).
func scaleName(pos int) string {
	base := [...]string{"", "nghìn", "triệu"}
	name := base[pos%3]
	for i := 0; i < pos/3; i++ {
		if name == "" {
			name = "tỷ"
		} else {
			name += " tỷ"
		}
	}
	return name
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
