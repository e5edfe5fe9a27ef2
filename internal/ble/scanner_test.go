package ble

import "testing"

func TestMatchesName(t *testing.T) {
	patterns := []string{"OKIN", "Adjustable", "Comfort", "Luxe"}

	tests := []struct {
		name string
		want bool
	}{
		{"OKIN-Bed-1234", true},
		{"okin refined", true},
		{"My Adjustable Base", true},
		{"ComfortMotion", true},
		{"luxe-remote", true},
		{"JBL Speaker", false},
		{"", false},
	}

	for _, tc := range tests {
		if got := matchesName(tc.name, patterns); got != tc.want {
			t.Errorf("matchesName(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestMatchesName_EmptyPatterns(t *testing.T) {
	if matchesName("OKIN-Bed", nil) {
		t.Error("matchesName() = true with no patterns")
	}
	if matchesName("OKIN-Bed", []string{""}) {
		t.Error("matchesName() = true with blank pattern")
	}
}

func TestUUIDLiterals(t *testing.T) {
	// The fallback chain depends on these exact UUIDs; a typo here means
	// discovery silently degrades to first-characteristic mode.
	if got := okinServiceUUID.String(); got != "62741523-52f9-8864-b1ab-3b3a8d65950b" {
		t.Errorf("okinServiceUUID = %s", got)
	}
	if got := okinWriteUUID.String(); got != "62741525-52f9-8864-b1ab-3b3a8d65950b" {
		t.Errorf("okinWriteUUID = %s", got)
	}
	if got := nusServiceUUID.String(); got != "6e400001-b5a3-f393-e0a9-e50e24dcca9e" {
		t.Errorf("nusServiceUUID = %s", got)
	}
	if got := nusWriteUUID.String(); got != "6e400002-b5a3-f393-e0a9-e50e24dcca9e" {
		t.Errorf("nusWriteUUID = %s", got)
	}
}
