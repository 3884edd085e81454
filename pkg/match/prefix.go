package match

import "strings"

// DerivePrefix returns the literal directory part of pattern: everything up
// to the last "/" before the first unescaped glob character. Escaped glob
// characters are unescaped in the result.
//
//	"2024/**/*.parquet"   -> "2024/"
//	"*.json"              -> ""
//	"logs/app-{a,b}/*.log" -> "logs/"
//	"exact/file.txt"      -> "exact/file.txt"
//	"data/\[old\]/*.csv"  -> "data/[old]/"
func DerivePrefix(pattern string) string {
	pattern = strings.TrimPrefix(pattern, "/")
	i := firstMeta(pattern)
	switch {
	case i < 0:
		return unescape(pattern)
	case i == 0:
		return ""
	}
	slash := strings.LastIndex(pattern[:i], "/")
	if slash < 0 {
		return ""
	}
	return unescape(pattern[:slash+1])
}

// IsGlobPattern reports whether pattern has an unescaped glob character.
func IsGlobPattern(pattern string) bool {
	return firstMeta(pattern) >= 0
}

func isMeta(c byte) bool {
	return c == '*' || c == '?' || c == '[' || c == '{'
}

// firstMeta returns the index of the first unescaped glob character, or -1.
func firstMeta(pattern string) int {
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c == '\\' && i+1 < len(pattern) {
			if next := pattern[i+1]; isMeta(next) || next == '\\' {
				i++
			}
			continue
		}
		if isMeta(c) {
			return i
		}
	}
	return -1
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) && strings.IndexByte(`*?[]{}\`, s[i+1]) >= 0 {
			i++
			c = s[i]
		}
		b.WriteByte(c)
	}
	return b.String()
}
