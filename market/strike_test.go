package market

import "testing"

func TestATMStrike(t *testing.T) {
	tests := []struct {
		name string
		spot float64
		step float64
		mode Rounding
		want float64
	}{
		{"exact grid", 19950, 50, RoundHalfUp, 19950},
		{"round down", 19970, 50, RoundHalfUp, 19950},
		{"round up", 19980, 50, RoundHalfUp, 20000},
		{"midpoint half up", 19925, 50, RoundHalfUp, 19950},
		{"midpoint half even", 19925, 50, RoundHalfEven, 19900},
		{"banknifty step", 54076, 100, RoundHalfUp, 54100},
		{"sensex step", 81032, 100, RoundHalfUp, 81000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ATMStrike(tt.spot, tt.step, tt.mode)
			if got != tt.want {
				t.Fatalf("ATMStrike(%v, %v, %s) = %v, want %v", tt.spot, tt.step, tt.mode, got, tt.want)
			}
		})
	}
}

func TestOffsetStrike(t *testing.T) {
	atm := ATMStrike(19950, 50, RoundHalfUp)
	if atm != 19950 {
		t.Fatalf("atm = %v", atm)
	}
	cases := map[int]float64{-1: 19900, 0: 19950, 1: 20000, -3: 19800, 5: 20200}
	for offset, want := range cases {
		if got := OffsetStrike(atm, offset, 50); got != want {
			t.Fatalf("OffsetStrike(%v, %d) = %v, want %v", atm, offset, got, want)
		}
	}
}

func TestParseRounding(t *testing.T) {
	if mode, err := ParseRounding(""); err != nil || mode != RoundHalfUp {
		t.Fatalf("empty rounding: %v %v", mode, err)
	}
	if mode, err := ParseRounding("half_even"); err != nil || mode != RoundHalfEven {
		t.Fatalf("half_even: %v %v", mode, err)
	}
	if _, err := ParseRounding("ceil"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
