package tools

import (
	"WaRelay/service/natsx"
	"testing"
	"time"
)

func TestGetEnvDuration(t *testing.T) {
	cases := []struct {
		val  string
		want time.Duration
	}{
		{"", 5 * time.Second},
		{"60s", 60 * time.Second},
		{"1500", 1500 * time.Millisecond},
		{"bogus", 5 * time.Second},
	}
	for _, c := range cases {
		t.Setenv("WR_TEST_DUR", c.val)
		if got := GetEnvDuration("WR_TEST_DUR", 5*time.Second); got != c.want {
			t.Errorf("%q: got %v want %v", c.val, got, c.want)
		}
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("WR_TEST_LIST", " a, ,b ")
	got := GetEnvList("WR_TEST_LIST", nil)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("got %v", got)
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode("JS_PUSH") != natsx.JetStreamPush {
		t.Error("js_push")
	}
	if ParseMode("whatever") != natsx.Core {
		t.Error("default core")
	}
}
