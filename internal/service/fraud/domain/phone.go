// internal/service/fraud/domain/phone.go
package domain

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidPhone 表示号码不属于孟加拉手机号段。调用方应当跳过基于手机号的检查，
// 而不是把它当作失败。
var ErrInvalidPhone = errors.New("invalid bangladeshi mobile number")

// 01 + 运营商位(3-9) + 8 位用户号，共 11 位
var mobilePattern = regexp.MustCompile(`^01[3-9][0-9]{8}$`)

// 国家码前缀，按长度从长到短匹配
var countryPrefixes = []string{"+880", "00880", "880"}

var phoneCleaner = strings.NewReplacer(
	" ", "", "\t", "", "\n", "", "\r", "", "\u00a0", "",
	"-", "", "(", "", ")", "", ".", "",
)

// PhoneNumber 是规范化之后的手机号，零值表示无效号码。
type PhoneNumber struct {
	canonical string
}

// NormalizePhone 把店铺提交的各种写法统一成 01XXXXXXXXX。
func NormalizePhone(raw string) (PhoneNumber, error) {
	s := phoneCleaner.Replace(bengaliToASCII(strings.TrimSpace(raw)))
	if s == "" {
		return PhoneNumber{}, ErrInvalidPhone
	}

	for _, prefix := range countryPrefixes {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimPrefix(s, prefix)
			// +880 1712345678 → 01712345678
			if len(s) == 10 && s[0] != '0' {
				s = "0" + s
			}
			break
		}
	}

	if !mobilePattern.MatchString(s) {
		return PhoneNumber{}, ErrInvalidPhone
	}
	return PhoneNumber{canonical: s}, nil
}

// MustPhone 只用于测试和常量初始化。
func MustPhone(raw string) PhoneNumber {
	p, err := NormalizePhone(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p PhoneNumber) String() string { return p.canonical }

func (p PhoneNumber) IsZero() bool { return p.canonical == "" }

// Variants 返回存储层里可能出现的所有写法，用于 SQL 的 IN 匹配。
func (p PhoneNumber) Variants() []string {
	if p.IsZero() {
		return nil
	}
	local := p.canonical[1:]
	return []string{
		p.canonical,
		local,
		"880" + local,
		"+880" + local,
	}
}

// SameIdentity 判断两个号码是否为同一个身份：变体集合有交集即可。
func SameIdentity(a, b PhoneNumber) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	seen := make(map[string]struct{}, 4)
	for _, v := range a.Variants() {
		seen[v] = struct{}{}
	}
	for _, v := range b.Variants() {
		if _, ok := seen[v]; ok {
			return true
		}
	}
	return false
}

// bengaliToASCII 把孟加拉数字 ০-৯ 转成 ASCII 数字。
func bengaliToASCII(s string) string {
	if !strings.ContainsFunc(s, isBengaliDigit) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isBengaliDigit(r) {
			r = '0' + (r - '০')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isBengaliDigit(r rune) bool { return r >= '০' && r <= '৯' }
