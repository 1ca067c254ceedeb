package ui

import "testing"

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		paused bool
		active int
		want   string
	}{
		{false, 0, "Status: Idle"},
		{false, 2, "Status: Analyzing (2)"},
		{true, 2, "Status: Paused"},
	}
	for _, tt := range tests {
		if got := statusLabel(tt.paused, tt.active); got != tt.want {
			t.Errorf("statusLabel(%v, %d) = %q, want %q", tt.paused, tt.active, got, tt.want)
		}
	}
}

func TestIconIsPNG(t *testing.T) {
	if len(iconBytes) < 8 || string(iconBytes[1:4]) != "PNG" {
		t.Fatal("iconBytes is not a PNG")
	}
}
