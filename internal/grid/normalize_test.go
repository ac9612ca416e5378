package grid

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"Phone", "phone"},
		{"Câmara", "camara"},
		{"Quarto do João", "quarto do joao"},
		{"AA:BB:CC", "aa:bb:cc"},
		{"día", "dia"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
