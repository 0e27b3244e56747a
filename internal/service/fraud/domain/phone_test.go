package domain

import (
	"errors"
	"testing"
)

func TestNormalizePhone_EquivalentForms(t *testing.T) {
	inputs := []string{
		"01712345678",
		"+8801712345678",
		"8801712345678",
		"008801712345678",
		"01712-345678",
		"(017) 1234 5678",
		"+880 1712-345678",
		"০১৭১২৩৪৫৬৭৮",
	}

	for _, raw := range inputs {
		t.Run(raw, func(t *testing.T) {
			p, err := NormalizePhone(raw)
			if err != nil {
				t.Fatalf("NormalizePhone(%q) returned error: %v", raw, err)
			}
			if p.String() != "01712345678" {
				t.Fatalf("expected canonical 01712345678, got %s", p.String())
			}
		})
	}
}

func TestNormalizePhone_Invalid(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"0171234567",   // 10 位
		"01212345678",  // 012 不在 3-9 号段
		"017123456789", // 12 位
		"1712345678",   // 缺少前导 0 且没有国家码
		"0291234567",   // 座机
		"abc",
		"+91 9876543210",
	}

	for _, raw := range inputs {
		t.Run(raw, func(t *testing.T) {
			if _, err := NormalizePhone(raw); !errors.Is(err, ErrInvalidPhone) {
				t.Fatalf("expected ErrInvalidPhone for %q, got %v", raw, err)
			}
		})
	}
}

func TestPhoneNumber_Variants(t *testing.T) {
	p := MustPhone("+8801912345678")

	want := []string{"01912345678", "1912345678", "8801912345678", "+8801912345678"}
	got := p.Variants()
	if len(got) != len(want) {
		t.Fatalf("expected %d variants, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("variant %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	for _, v := range got {
		q, err := NormalizePhone(v)
		if v == "1912345678" {
			// 去掉前导 0 的写法只用于存储匹配，不作为合法输入
			continue
		}
		if err != nil || q != p {
			t.Fatalf("variant %s does not normalize back to %s (err=%v)", v, p, err)
		}
	}
}

func TestSameIdentity(t *testing.T) {
	a := MustPhone("01712-345678")
	b := MustPhone("+8801712345678")
	c := MustPhone("01812345678")

	if !SameIdentity(a, b) {
		t.Fatalf("expected %s and %s to be the same identity", a, b)
	}
	if SameIdentity(a, c) {
		t.Fatalf("expected %s and %s to be different identities", a, c)
	}
	if SameIdentity(PhoneNumber{}, PhoneNumber{}) {
		t.Fatalf("zero phones must never match")
	}
}
