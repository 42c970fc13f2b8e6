package orderid

import "testing"

func TestEncodeDecode_RoundTrip(t *testing.T) {
	cases := []ID{
		{ShardToken: "gl0", Index: 0, Side: SideBuy},
		{ShardToken: "gl0", Index: 50, Side: SideSell},
		{ShardToken: "acct_2", Index: 12345678, Side: SideBuy}, // token itself contains '_'
		{ShardToken: "mm", Index: AdjustIndex, Side: SideSell},
	}
	for _, want := range cases {
		got, err := Decode(want.Encode())
		if err != nil {
			t.Fatalf("Decode(%q): %v", want.Encode(), err)
		}
		if got != want {
			t.Errorf("round trip: got %+v, want %+v", got, want)
		}
	}
}

func TestEncode_WireForm(t *testing.T) {
	id := New("gl0", 50, SideBuy)
	if id.Encode() != "gl0_00000050B" {
		t.Errorf("got %q, want %q", id.Encode(), "gl0_00000050B")
	}
	id = New("gl0", 51, SideSell)
	if id.Encode() != "gl0_00000051S" {
		t.Errorf("got %q, want %q", id.Encode(), "gl0_00000051S")
	}
}

func TestDecode_Malformed(t *testing.T) {
	bad := []string{
		"",
		"noseparator",
		"gl0_123B",          // index not 8 digits
		"gl0_000000500B",    // 9-digit index
		"gl0_00000050X",     // bad side
		"gl0_0000005B",      // short
		"gl0_abcdefghB",     // non-numeric index
	}
	for _, s := range bad {
		if _, err := Decode(s); err == nil {
			t.Errorf("Decode(%q) should fail", s)
		}
	}
}

func TestAdjustingSlot(t *testing.T) {
	id := Adjusting("gl0", SideBuy)
	if !id.IsAdjusting() {
		t.Error("Adjusting id should report IsAdjusting")
	}
	rt, err := Decode(id.Encode())
	if err != nil {
		t.Fatalf("decode adjusting: %v", err)
	}
	if !rt.IsAdjusting() {
		t.Error("adjusting flag must survive the round trip")
	}
	if New("gl0", 7, SideBuy).IsAdjusting() {
		t.Error("ordinary index must not be adjusting")
	}
}

func TestTotalOrder(t *testing.T) {
	a := New("gl0", 3, SideSell)
	b := New("gl0", 4, SideBuy)
	if !a.Less(b) {
		t.Error("lower index sorts first regardless of side")
	}
	buy := New("gl0", 4, SideBuy)
	sell := New("gl0", 4, SideSell)
	if !buy.Less(sell) {
		t.Error("buy sorts before sell at the same index")
	}
}

func TestSideHelpers(t *testing.T) {
	if SideBuy.Sign() != 1 || SideSell.Sign() != -1 {
		t.Error("side signs wrong")
	}
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Error("opposite sides wrong")
	}
}
