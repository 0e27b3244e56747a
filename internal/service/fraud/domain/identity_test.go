package domain

import (
	"errors"
	"testing"
	"time"
)

func TestIsPlaceholderIP(t *testing.T) {
	for _, ip := range []string{"", " ", "0.0.0.0", "127.0.0.1", "::1", "::", "unknown", "::ffff:127.0.0.1"} {
		if !IsPlaceholderIP(ip) {
			t.Fatalf("expected %q to be a placeholder", ip)
		}
	}
	for _, ip := range []string{"103.4.145.2", "2001:db8::1"} {
		if IsPlaceholderIP(ip) {
			t.Fatalf("expected %q to be a real address", ip)
		}
	}
}

func TestIdentity_Values(t *testing.T) {
	phone := PhoneIdentity(MustPhone("01712345678"))
	if len(phone.Values()) != 4 {
		t.Fatalf("expected 4 phone variants, got %v", phone.Values())
	}
	if !(Identity{Kind: IdentityPhone}).IsPlaceholder() {
		t.Fatalf("zero phone identity must be a placeholder")
	}
	if ip := IPIdentity(" 103.4.145.2 "); ip.Values()[0] != "103.4.145.2" {
		t.Fatalf("expected trimmed ip, got %v", ip.Values())
	}
	mapped := IPIdentity("::ffff:103.4.145.2")
	if mapped.IP != "103.4.145.2" || len(mapped.Values()) != 2 || mapped.Values()[1] != "::ffff:103.4.145.2" {
		t.Fatalf("mapped ip not canonicalized: %+v %v", mapped, mapped.Values())
	}
	if got := CanonicalIP(" not-an-ip "); got != "not-an-ip" {
		t.Fatalf("unparseable ip must only be trimmed, got %q", got)
	}
}

func TestNewMatchWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	w := NewMatchWindow(now, 90*time.Minute, "42")
	if !w.Cutoff.Equal(now.Add(-90 * time.Minute)) {
		t.Fatalf("unexpected cutoff %v", w.Cutoff)
	}
	if len(w.Exclusion) != 1 || w.Exclusion[0] != "42" {
		t.Fatalf("unexpected exclusion %v", w.Exclusion)
	}
}

func TestNewBlockEntry(t *testing.T) {
	e, err := NewBlockEntry(BlockPhone, "+880 1712-345678", " spam ")
	if err != nil {
		t.Fatalf("NewBlockEntry returned error: %v", err)
	}
	if e.Value != "01712345678" || e.Reason != "spam" {
		t.Fatalf("unexpected entry %+v", e)
	}

	if e, _ := NewBlockEntry(BlockIP, "::ffff:103.4.145.2", ""); e.Value != "103.4.145.2" {
		t.Fatalf("expected unmapped ip, got %q", e.Value)
	}

	for _, tc := range []struct {
		t   BlockType
		raw string
	}{
		{BlockPhone, "12345"},
		{BlockIP, "999.1.1.1"},
		{BlockDevice, ""},
		{BlockType("email"), "a@b.c"},
	} {
		if _, err := NewBlockEntry(tc.t, tc.raw, ""); !errors.Is(err, ErrInvalidBlockEntry) {
			t.Fatalf("expected ErrInvalidBlockEntry for %s %q, got %v", tc.t, tc.raw, err)
		}
	}
}
