package session

import (
	"testing"
	"time"
)

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	want := Params{
		IdleInterval:    DefaultIdleInterval,
		ActiveInterval:  DefaultActiveInterval,
		ActiveThreshold: DefaultActiveThreshold,
	}
	if p != want {
		t.Errorf("DefaultParams() = %+v, want %+v", p, want)
	}
	if !p.Validate() {
		t.Error("defaults fail their own validation")
	}
}

func TestParamsValidate(t *testing.T) {
	base := DefaultParams()

	bad := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero idle", func(p *Params) { p.IdleInterval = 0 }},
		{"zero active", func(p *Params) { p.ActiveInterval = 0 }},
		{"zero threshold", func(p *Params) { p.ActiveThreshold = 0 }},
		{"idle over max", func(p *Params) { p.IdleInterval = MaxIdleInterval + time.Second }},
		{"active over max", func(p *Params) { p.ActiveInterval = MaxActiveInterval + time.Second }},
		{"threshold over max", func(p *Params) { p.ActiveThreshold = MaxActiveThreshold + time.Second }},
	}
	for _, tc := range bad {
		p := base
		tc.mutate(&p)
		if p.Validate() {
			t.Errorf("%s: Validate() = true, want false", tc.name)
		}
	}

	custom := Params{
		IdleInterval:    time.Second,
		ActiveInterval:  500 * time.Millisecond,
		ActiveThreshold: 10 * time.Second,
	}
	if !custom.Validate() {
		t.Error("in-range custom params fail validation")
	}
}

func TestParamsWithDefaults(t *testing.T) {
	if got := (Params{}).WithDefaults(); got != DefaultParams() {
		t.Errorf("zero WithDefaults() = %+v, want defaults", got)
	}

	custom := Params{
		IdleInterval:    time.Second,
		ActiveInterval:  2 * time.Second,
		ActiveThreshold: 3 * time.Second,
	}
	if got := custom.WithDefaults(); got != custom {
		t.Errorf("WithDefaults() clobbered set fields: %+v", got)
	}

	// Partial fill: only the zero field is defaulted.
	partial := Params{IdleInterval: time.Second}
	got := partial.WithDefaults()
	if got.IdleInterval != time.Second ||
		got.ActiveInterval != DefaultActiveInterval ||
		got.ActiveThreshold != DefaultActiveThreshold {
		t.Errorf("partial WithDefaults() = %+v", got)
	}
}
