package watchlist

import (
	"math"
	"testing"
)

func TestRatio(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"robert mugabe", "robert mugab", 0.96},
		{"abcd", "bcde", 0.75},
		{"ivan petrov", "ivan petrova", 0.9565217391304348},
		{"jon smith", "john smith", 0.9473684210526315},
		{"maria gonzalez", "mario gonzales", 0.8571428571428571},
		{"tide", "diet", 0.25},
		{"jane doe", "joan dough", 0.6666666666666666},
		{"alice", "bob", 0},
		{"abc", "", 0},
		{"", "", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			if got := Ratio(tt.a, tt.b); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Ratio(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestRatio_Unicode(t *testing.T) {
	if got := Ratio("josé", "jose"); math.Abs(got-0.75) > 1e-12 {
		t.Errorf("expected rune-wise ratio 0.75, got %v", got)
	}
}

func TestBoundsNeverBelowRatio(t *testing.T) {
	pairs := [][2]string{
		{"robert mugabe", "robert mugab"},
		{"tide", "diet"},
		{"jane doe", "joan dough"},
		{"a", "aaaaaaaa"},
		{"sergei ivanov", "ivanov sergei"},
	}
	for _, p := range pairs {
		a, b := []rune(p[0]), []rune(p[1])
		r := Ratio(p[0], p[1])
		if lb := lengthBound(len(a), len(b)); lb < r {
			t.Errorf("%v: length bound %v below ratio %v", p, lb, r)
		}
		if mb := multisetBound(sortedRunes(a), sortedRunes(b)); mb < r {
			t.Errorf("%v: multiset bound %v below ratio %v", p, mb, r)
		}
	}
}

func TestSoundex(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Robert", "R163"},
		{"Rupert", "R163"},
		{"Ashcraft", "A261"},
		{"Tymczak", "T522"},
		{"Pfister", "P236"},
		{"Lee", "L000"},
		{"123", ""},
	}
	for _, tt := range tests {
		if got := Soundex(tt.in); got != tt.want {
			t.Errorf("Soundex(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
