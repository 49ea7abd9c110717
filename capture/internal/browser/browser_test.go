package browser

import (
	"testing"

	"github.com/hazyhaar/uxai/capture/snapshot"
)

func TestParseStealth(t *testing.T) {
	for in, want := range map[string]StealthLevel{"": LevelHeadless, "headless": LevelHeadless, "headful": LevelHeadful} {
		got, err := ParseStealth(in)
		if err != nil || got != want {
			t.Fatalf("ParseStealth(%q): got %d, %v; want %d", in, got, err, want)
		}
	}
	if _, err := ParseStealth("invisible"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestDispatch(t *testing.T) {
	var got []snapshot.Event
	emit := func(ev snapshot.Event) { got = append(got, ev) }

	if err := dispatch("__b", "__other", `not json`, emit); err != nil || len(got) != 0 {
		t.Fatalf("foreign binding: err=%v events=%d", err, len(got))
	}
	if err := dispatch("__b", "__b", `[{"type":"click","ts":1},{"type":"scroll","ts":2,"scroll_y":40}]`, emit); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].ScrollY != 40 {
		t.Fatalf("dispatch: got %+v", got)
	}
	if err := dispatch("__b", "__b", `[{`, emit); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{})
	if m.cfg.Stealth != LevelHeadless || m.cfg.XvfbDisplay != ":99" || m.cfg.Logger == nil {
		t.Fatalf("defaults: got %+v", m.cfg)
	}
	if m.Browser() != nil {
		t.Fatal("Browser before Start should be nil")
	}
}
