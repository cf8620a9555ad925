package reconcile

import (
	"math"
	"reflect"
	"testing"
)

const ratioTolerance = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < ratioTolerance
}

// ----------------------------------------------------------------------------
// Ratio Tests
// ----------------------------------------------------------------------------

func TestRatio(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{
			name: "identical strings",
			a:    "running",
			b:    "running",
			want: 1.0,
		},
		{
			name: "both empty",
			a:    "",
			b:    "",
			want: 1.0,
		},
		{
			name: "one empty",
			a:    "running",
			b:    "",
			want: 0.0,
		},
		{
			name: "shifted overlap",
			a:    "abcd",
			b:    "bcde",
			want: 0.75, // "bcd" matches, 2*3/8
		},
		{
			name: "case matters",
			a:    "Run",
			b:    "run",
			want: 2.0 / 3.0, // "un" matches, 2*2/6
		},
		{
			name: "single dropped letter",
			a:    "fitness",
			b:    "fitnes",
			want: 12.0 / 13.0,
		},
		{
			name: "nothing in common",
			a:    "abc",
			b:    "xyz",
			want: 0.0,
		},
		{
			name: "unicode runes not bytes",
			a:    "café",
			b:    "cafe",
			want: 0.75, // "caf" matches over 4+4 runes
		},
		{
			name: "repeated characters",
			a:    "swiming",
			b:    "swimming",
			want: 14.0 / 15.0, // "swim" + "ing"
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Ratio(tt.a, tt.b)
			if !almostEqual(got, tt.want) {
				t.Errorf("Ratio(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestRatioSymmetricOrder(t *testing.T) {
	// The measure is not guaranteed symmetric in general, but for the
	// short names it scores it should stay close in both directions.
	a, b := "jogging", "running"
	if got := Ratio(a, b); !almostEqual(got, 6.0/14.0) {
		t.Errorf("Ratio(%q, %q) = %v, want %v", a, b, got, 6.0/14.0)
	}
}

// ----------------------------------------------------------------------------
// CloseMatches Tests
// ----------------------------------------------------------------------------

func TestCloseMatches(t *testing.T) {
	paths := []string{
		"Health > Fitness > Running",
		"Health > Fitness > Cycling",
		"Work > Projects",
	}

	tests := []struct {
		name       string
		s          string
		candidates []string
		n          int
		cutoff     float64
		want       []string
	}{
		{
			name:       "typo finds nearest path",
			s:          "Health > Fitness > Runing",
			candidates: paths,
			n:          1,
			cutoff:     DefaultCutoff,
			want:       []string{"Health > Fitness > Running"},
		},
		{
			name:       "case insensitive exact tops the list",
			s:          "health > fitness > running",
			candidates: paths,
			n:          2,
			cutoff:     DefaultCutoff,
			want:       []string{"Health > Fitness > Running", "Health > Fitness > Cycling"},
		},
		{
			name:       "cutoff filters out junk",
			s:          "zzzzzz",
			candidates: paths,
			n:          3,
			cutoff:     DefaultCutoff,
			want:       nil,
		},
		{
			name:       "zero n returns nothing",
			s:          "Health",
			candidates: paths,
			n:          0,
			cutoff:     DefaultCutoff,
			want:       nil,
		},
		{
			name:       "empty candidates",
			s:          "Health",
			candidates: nil,
			n:          3,
			cutoff:     DefaultCutoff,
			want:       nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CloseMatches(tt.s, tt.candidates, tt.n, tt.cutoff)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("CloseMatches(%q) = %v, want %v", tt.s, got, tt.want)
			}
		})
	}
}

func TestCloseMatchesLimit(t *testing.T) {
	candidates := []string{"alpha one", "alpha two", "alpha three", "alpha four"}
	got := CloseMatches("alpha", candidates, 2, 0.1)
	if len(got) != 2 {
		t.Fatalf("CloseMatches returned %d results, want 2", len(got))
	}
}
