// internal/service/fraud/domain/text.go
package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// 全角字符、兼容字符先统一，再转小写；孟加拉文的元音符号属于 Mark，需要保留
func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

func newAddressFolder() transform.Transformer {
	return transform.Chain(
		norm.NFKC,
		runes.Map(unicode.ToLower),
		runes.Remove(runes.Predicate(func(r rune) bool { return !isWordRune(r) })),
	)
}

func newNameFolder() transform.Transformer {
	return transform.Chain(
		norm.NFKC,
		runes.Map(unicode.ToLower),
		runes.Map(func(r rune) rune {
			if isWordRune(r) {
				return r
			}
			return ' '
		}),
	)
}

// NormalizeAddress 把地址行、城市、邮编拼接后去掉标点和空白并转小写，
// "House 12, Road-5" 与 "house 12 road 5" 得到同一个结果。
func NormalizeAddress(line, city, postcode string) string {
	joined := strings.Join([]string{line, city, postcode}, " ")
	out, _, err := transform.String(newAddressFolder(), joined)
	if err != nil {
		return ""
	}
	return out
}

// NormalizeName 规范化姓名：小写、标点换成空格、合并连续空白。
func NormalizeName(first, last string) string {
	out, _, err := transform.String(newNameFolder(), first+" "+last)
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(out), " ")
}
