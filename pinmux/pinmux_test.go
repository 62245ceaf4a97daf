package pinmux

import "testing"

func TestPinString(t *testing.T) {
	tests := []struct {
		pin  Pin
		want string
	}{
		{PA(0), "PA0"},
		{PA(3), "PA3"},
		{PA(26), "PA26"},
		{PB(17), "PB17"},
		{Pin(0x43), "PC3"},
	}
	for _, tt := range tests {
		got := tt.pin.String()
		if got != tt.want {
			t.Errorf("Pin(0x%02x).String()=%q, want %q", uint8(tt.pin), got, tt.want)
		}
	}
}

func TestSignalNames(t *testing.T) {
	want := []string{"RXERR", "CRS_DV", "TXEN", "TXD1", "TXD0", "REF_CLK", "RXD1", "RXD0", "MDC", "MDIO", "EXTCLK"}
	for i, w := range want {
		if got := Signal(i).String(); got != w {
			t.Errorf("signal %d: got %q want %q", i, got, w)
		}
	}
}

func TestDefaultTableGroup3Management(t *testing.T) {
	if got := DefaultTable.Pin(3, SigMDC); got != PA(25) {
		t.Errorf("group 3 MDC=%s", got)
	}
	if got := DefaultTable.Pin(3, SigMDIO); got != PA(26) {
		t.Errorf("group 3 MDIO=%s", got)
	}
}

type recordMux struct {
	fn   map[Pin]Function
	pull map[Pin]bool
	n    int
}

func (r *recordMux) Configure(p Pin, fn Function) {
	if r.fn == nil {
		r.fn = make(map[Pin]Function)
	}
	r.fn[p] = fn
	r.n++
}

func (r *recordMux) PullUp(p Pin) {
	if r.pull == nil {
		r.pull = make(map[Pin]bool)
	}
	r.pull[p] = true
}

func TestApply(t *testing.T) {
	var m recordMux
	err := DefaultTable.Apply(&m, 1)
	if err != nil {
		t.Fatal(err)
	}
	if m.n != int(NumSignals) {
		t.Fatalf("configured %d pins, want %d", m.n, NumSignals)
	}
	if m.fn[DefaultTable.Pin(1, SigMDC)] != FuncMDC || m.fn[DefaultTable.Pin(1, SigMDIO)] != FuncMDIO {
		t.Error("management pins not routed to MDC/MDIO")
	}
	if m.fn[DefaultTable.Pin(1, SigTXD0)] != FuncRMII {
		t.Error("data pin not routed to RMII")
	}
	err = DefaultTable.Apply(&m, NumGroups)
	if err != ErrInvalidGroup {
		t.Errorf("want ErrInvalidGroup, got %v", err)
	}
}

func TestApplyManagement(t *testing.T) {
	var m recordMux
	err := DefaultTable.ApplyManagement(&m, 2)
	if err != nil {
		t.Fatal(err)
	}
	if m.n != 2 {
		t.Fatalf("configured %d pins, want 2", m.n)
	}
	if !m.pull[DefaultTable.Pin(2, SigMDIO)] {
		t.Error("MDIO not pulled up")
	}
}

func TestParsePin(t *testing.T) {
	for _, p := range []Pin{PA(0), PA(26), PB(3), PB(31)} {
		got, err := ParsePin(p.String())
		if err != nil || got != p {
			t.Errorf("ParsePin(%q) = %v, %v", p.String(), got, err)
		}
	}
	for _, s := range []string{"", "PA", "XA1", "Pa1", "PA32", "PA-1", "PZ1"} {
		if _, err := ParsePin(s); err != ErrInvalidPin {
			t.Errorf("ParsePin(%q) want ErrInvalidPin, got %v", s, err)
		}
	}
}
