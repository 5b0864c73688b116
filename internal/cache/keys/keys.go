// Package keys derives deterministic response cache keys from feature
// requests.
package keys

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/geo-search-bridge/internal/core/model"
)

const prefix = "gsb"

const maxWhereTextLen = 160

var punctuation = regexp.MustCompile(`\s*([=<>!\.,\(\)])\s*`)

// Key returns the cache key of a request:
//
//	gsb:<backend>:<dataset>:<layer>:<tile|q>:where=<readable where>:f=<hash>
//
// The hash covers every query parameter, with the where clause normalized so
// that spacing variants share a key.
func Key(req model.Request) string {
	q := req.Query
	q.Where = NormalizeWhere(q.Where)

	scope := "q"
	if req.VectorTile {
		scope = "vt"
		if q.Tile != nil {
			scope = "t" + sanitize(q.Tile.String())
		}
	}

	whereSafe := sanitize(q.Where)
	if len(whereSafe) > maxWhereTextLen {
		whereSafe = whereSafe[:maxWhereTextLen]
	}

	// encoding/json orders struct fields by declaration and map keys
	// lexically, so the encoding is canonical.
	canon, err := json.Marshal(q)
	if err != nil {
		canon = fmt.Appendf(nil, "%+v", q)
	}
	sum := xxhash.Sum64(canon)

	return fmt.Sprintf("%s:%s:%s:%s:%s:where=%s:f=%016x",
		prefix,
		sanitize(strings.TrimSpace(req.Backend)),
		sanitize(strings.TrimSpace(req.Dataset)),
		layerPart(req.Layer),
		scope,
		whereSafe,
		sum,
	)
}

func layerPart(layer string) string {
	layer = strings.TrimSpace(layer)
	if layer == "" {
		return "all"
	}
	return sanitize(layer)
}

// NormalizeWhere collapses whitespace and removes it around punctuation.
func NormalizeWhere(s string) string {
	if s == "" {
		return ""
	}
	s = collapseASCIIWhitespace(strings.TrimSpace(s))
	return punctuation.ReplaceAllString(s, "$1")
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case isASCIIWhitespace(r):
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '=':
			out = r
		default:
			// Any other rune (including ':' and non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if isASCIIWhitespace(r) {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isASCIIWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
