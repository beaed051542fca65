package format

import "testing"

func TestYen(t *testing.T) {
	cases := map[int64]string{
		0:       "¥0",
		150:     "¥150",
		12345:   "¥12,345",
		1000000: "¥1,000,000",
		-2500:   "-¥2,500",
	}
	for amount, want := range cases {
		if got := Yen(amount); got != want {
			t.Errorf("Yen(%d) = %q, want %q", amount, got, want)
		}
	}
}
