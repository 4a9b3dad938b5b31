package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	v, c, d := Info()
	if v == "" {
		t.Error("version should not be empty")
	}
	if c == "" {
		t.Error("commit should not be empty")
	}
	if d == "" {
		t.Error("date should not be empty")
	}
}

func TestGetVersionMatchesInfo(t *testing.T) {
	v1 := GetVersion()
	v2, _, _ := Info()

	if v1 == "" {
		t.Error("GetVersion should not return empty string")
	}
	if v1 != v2 {
		t.Errorf("GetVersion (%s) should match Info version (%s)", v1, v2)
	}
}

func TestString(t *testing.T) {
	s := String()

	for _, part := range []string{"version=", "commit=", "date="} {
		if !strings.Contains(s, part) {
			t.Errorf("String should contain %q, got %q", part, s)
		}
	}
}
