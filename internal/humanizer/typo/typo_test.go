package typo

import "testing"

func TestApplyIsIdentityWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	text := "你好吗"
	if got := Apply(text, cfg); got != text {
		t.Errorf("expected identity when disabled, got %q", got)
	}
}

func TestApplyNeverChangesLengthInRunes(t *testing.T) {
	cfg := Config{Enabled: true, ErrorRate: 1.0, WordReplaceRate: 0}
	text := "你好吗朋友"
	got := Apply(text, cfg)
	if len([]rune(got)) != len([]rune(text)) {
		t.Errorf("expected homophone substitution to preserve rune count, got %q from %q", got, text)
	}
}

func TestApplyWithZeroRatesIsUnchanged(t *testing.T) {
	cfg := Config{Enabled: true, ErrorRate: 0, WordReplaceRate: 0}
	text := "hello world 你好"
	if got := Apply(text, cfg); got != text {
		t.Errorf("expected no noise at zero rates, got %q", got)
	}
}
