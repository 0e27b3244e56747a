// internal/service/fraud/domain/blocklist.go
package domain

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

var (
	ErrInvalidBlockEntry = errors.New("invalid block entry")
	ErrNotFound          = errors.New("entry not found")
)

// BlockType 是拉黑条目的类型。
type BlockType string

const (
	BlockPhone  BlockType = "phone"
	BlockIP     BlockType = "ip"
	BlockDevice BlockType = "device"
)

const maxDeviceIDLen = 128

func (t BlockType) Valid() bool {
	return t == BlockPhone || t == BlockIP || t == BlockDevice
}

// BlockEntry 是管理员维护的黑名单条目，没有过期时间，只能手动移除。
type BlockEntry struct {
	Type      BlockType `json:"type"`
	Value     string    `json:"value"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewBlockEntry 校验并规范化条目的值：手机号存规范形式，IP 存解析后的形式。
func NewBlockEntry(t BlockType, raw, reason string) (BlockEntry, error) {
	value, err := normalizeBlockValue(t, raw)
	if err != nil {
		return BlockEntry{}, err
	}
	return BlockEntry{Type: t, Value: value, Reason: strings.TrimSpace(reason), CreatedAt: time.Now().UTC()}, nil
}

func normalizeBlockValue(t BlockType, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	switch t {
	case BlockPhone:
		p, err := NormalizePhone(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidBlockEntry, err)
		}
		return p.String(), nil
	case BlockIP:
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return "", fmt.Errorf("%w: bad ip %q", ErrInvalidBlockEntry, raw)
		}
		return addr.Unmap().String(), nil
	case BlockDevice:
		if raw == "" || len(raw) > maxDeviceIDLen {
			return "", fmt.Errorf("%w: device id must be 1..%d bytes", ErrInvalidBlockEntry, maxDeviceIDLen)
		}
		return raw, nil
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidBlockEntry, t)
	}
}
