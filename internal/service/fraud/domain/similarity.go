// internal/service/fraud/domain/similarity.go
package domain

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// NameSimilarity 返回两个已规范化姓名的相似度百分比 [0,100]。
// 使用归一化编辑距离：100 * (1 - d / max(len(a), len(b)))，按 rune 计算长度，
// 满足交换律，且编辑距离越大相似度越低。
func NameSimilarity(a, b string) int {
	if a == "" && b == "" {
		return 100
	}
	if a == "" || b == "" {
		return 0
	}
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	d := levenshtein.ComputeDistance(a, b)
	return 100 * (longest - d) / longest
}
