package utils

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
}

func TestHashString(t *testing.T) {
	if HashString("frame") != HashString("frame") {
		t.Error("hash must be deterministic")
	}
	if HashString("frame") == HashString("frames") {
		t.Error("different strings should hash differently")
	}
	if HashString("a very long string that overflows the accumulator many times over") < 0 {
		t.Error("hash must be non-negative")
	}
}
