package models

import "testing"

func TestCategoryForError(t *testing.T) {
	cases := []struct {
		absErr float64
		want   AccuracyCategory
	}{
		{0, AccuracyExcellent},
		{1.0, AccuracyExcellent},
		{1.0001, AccuracyGood},
		{2.0, AccuracyGood},
		{2.5, AccuracyFair},
		{3.0, AccuracyFair},
		{3.1, AccuracyPoor},
		{5.0, AccuracyPoor},
		{5.1, AccuracyVeryPoor},
		{20, AccuracyVeryPoor},
	}
	for _, tc := range cases {
		if got := CategoryForError(tc.absErr); got != tc.want {
			t.Errorf("CategoryForError(%.4f) = %q, want %q", tc.absErr, got, tc.want)
		}
	}
}
