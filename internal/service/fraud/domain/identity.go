// internal/service/fraud/domain/identity.go
package domain

import (
	"net/netip"
	"strings"
	"time"
)

// IdentityKind 区分冷却检查作用的身份类型。
type IdentityKind string

const (
	IdentityPhone IdentityKind = "phone"
	IdentityIP    IdentityKind = "ip"
)

// Identity 是一次匹配请求的主体：规范化的手机号或客户端 IP。
type Identity struct {
	Kind  IdentityKind
	Phone PhoneNumber
	IP    string
}

func PhoneIdentity(p PhoneNumber) Identity { return Identity{Kind: IdentityPhone, Phone: p} }

func IPIdentity(ip string) Identity { return Identity{Kind: IdentityIP, IP: CanonicalIP(ip)} }

// CanonicalIP 把 IPv4 映射地址 ::ffff:a.b.c.d 还原为 a.b.c.d，双栈前端上报的两种写法因此视为同一客户端。
// 无法解析的值只去掉首尾空白。
func CanonicalIP(raw string) string {
	raw = strings.TrimSpace(raw)
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return raw
	}
	return addr.Unmap().String()
}

// Values 返回存储层用于等值匹配的所有写法。
func (i Identity) Values() []string {
	switch i.Kind {
	case IdentityPhone:
		return i.Phone.Variants()
	case IdentityIP:
		if i.IP == "" {
			return nil
		}
		// 规范化之前写入的订单可能存着映射写法
		if addr, err := netip.ParseAddr(i.IP); err == nil && addr.Is4() {
			return []string{i.IP, "::ffff:" + i.IP}
		}
		return []string{i.IP}
	}
	return nil
}

// IsPlaceholder 判断身份是否代表"缺失数据"。
// 空值、0.0.0.0、回环地址等永远不能触发拦截。
func (i Identity) IsPlaceholder() bool {
	switch i.Kind {
	case IdentityPhone:
		return i.Phone.IsZero()
	case IdentityIP:
		return IsPlaceholderIP(i.IP)
	}
	return true
}

func (i Identity) String() string {
	if i.Kind == IdentityPhone {
		return i.Phone.String()
	}
	return i.IP
}

// IsPlaceholderIP 对无法解析、未指定或回环地址返回 true。
func IsPlaceholderIP(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return true
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return true
	}
	addr = addr.Unmap()
	return addr.IsUnspecified() || addr.IsLoopback()
}

// MatchWindow 是一次回溯查询：截止时间之后、排除指定订单 ID。
type MatchWindow struct {
	Cutoff    time.Time
	Exclusion []string
}

// NewMatchWindow 以 now - lookback 作为截止时间。
func NewMatchWindow(now time.Time, lookback time.Duration, exclude ...string) MatchWindow {
	return MatchWindow{Cutoff: now.Add(-lookback), Exclusion: exclude}
}
