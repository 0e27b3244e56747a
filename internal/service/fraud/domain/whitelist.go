// internal/service/fraud/domain/whitelist.go
package domain

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
)

// AllowEntry 是白名单中的一项：手机号、单个 IP 或 CIDR 网段。
type AllowEntry struct {
	Phone  PhoneNumber
	Addr   netip.Addr
	Prefix netip.Prefix
}

// ParseAllowEntry 依次尝试 CIDR、IP、手机号。
func ParseAllowEntry(raw string) (AllowEntry, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return AllowEntry{}, fmt.Errorf("%w: empty allow entry", ErrInvalidBlockEntry)
	}
	if strings.Contains(raw, "/") {
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return AllowEntry{}, fmt.Errorf("%w: bad cidr %q", ErrInvalidBlockEntry, raw)
		}
		return AllowEntry{Prefix: prefix.Masked()}, nil
	}
	if addr, err := netip.ParseAddr(raw); err == nil {
		return AllowEntry{Addr: addr.Unmap()}, nil
	}
	p, err := NormalizePhone(raw)
	if err != nil {
		return AllowEntry{}, fmt.Errorf("%w: %q is neither ip, cidr nor phone", ErrInvalidBlockEntry, raw)
	}
	return AllowEntry{Phone: p}, nil
}

// IsCIDR 表示条目是网段。
func (e AllowEntry) IsCIDR() bool { return e.Prefix.IsValid() }

// Key 是条目的规范字符串形式，用于存储。
func (e AllowEntry) Key() string {
	switch {
	case e.Prefix.IsValid():
		return e.Prefix.String()
	case e.Addr.IsValid():
		return e.Addr.String()
	default:
		return e.Phone.String()
	}
}

// Whitelist 是配置文件中的静态白名单，实现 AllowList。
type Whitelist struct {
	phones   map[string]struct{}
	addrs    map[netip.Addr]struct{}
	prefixes []netip.Prefix
}

// NewWhitelist 解析配置项，无法识别的条目会被跳过并返回给调用方记录日志。
func NewWhitelist(entries []string) (*Whitelist, []string) {
	w := &Whitelist{
		phones: make(map[string]struct{}),
		addrs:  make(map[netip.Addr]struct{}),
	}
	var rejected []string
	for _, raw := range entries {
		e, err := ParseAllowEntry(raw)
		if err != nil {
			rejected = append(rejected, raw)
			continue
		}
		switch {
		case e.Prefix.IsValid():
			w.prefixes = append(w.prefixes, e.Prefix)
		case e.Addr.IsValid():
			w.addrs[e.Addr] = struct{}{}
		default:
			w.phones[e.Phone.String()] = struct{}{}
		}
	}
	return w, rejected
}

func (w *Whitelist) ContainsPhone(_ context.Context, p PhoneNumber) (bool, error) {
	if w == nil || p.IsZero() {
		return false, nil
	}
	_, ok := w.phones[p.String()]
	return ok, nil
}

func (w *Whitelist) ContainsIP(_ context.Context, ip string) (bool, error) {
	if w == nil {
		return false, nil
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false, nil
	}
	return ContainsAddr(addr.Unmap(), w.addrs, w.prefixes), nil
}

// ContainsAddr 精确匹配或落在任一网段内。
func ContainsAddr(addr netip.Addr, exact map[netip.Addr]struct{}, prefixes []netip.Prefix) bool {
	if _, ok := exact[addr]; ok {
		return true
	}
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// MultiAllowList 依次查询多个白名单，任一命中即命中；出错时返回已收集的错误。
type MultiAllowList []AllowList

func (m MultiAllowList) ContainsPhone(ctx context.Context, p PhoneNumber) (bool, error) {
	var firstErr error
	for _, l := range m {
		if l == nil {
			continue
		}
		ok, err := l.ContainsPhone(ctx, p)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, firstErr
}

func (m MultiAllowList) ContainsIP(ctx context.Context, ip string) (bool, error) {
	var firstErr error
	for _, l := range m {
		if l == nil {
			continue
		}
		ok, err := l.ContainsIP(ctx, ip)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, firstErr
}
