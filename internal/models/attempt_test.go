package models

import (
	"reflect"
	"testing"
)

func TestLayoutPages(t *testing.T) {
	cases := []struct {
		name   string
		layout string
		want   [][]int
	}{
		{"two pages", "1,2,0,3,0", [][]int{{1, 2}, {3}}},
		{"single page", "4,5,6,0", [][]int{{4, 5, 6}}},
		{"missing trailing break", "1,0,2", [][]int{{1}, {2}}},
		{"empty", "", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := &Attempt{Layout: tc.layout}
			if got := a.LayoutPages(); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("LayoutPages(%q) = %v, want %v", tc.layout, got, tc.want)
			}
		})
	}
}

func TestAttemptStateIsTerminal(t *testing.T) {
	for state, want := range map[AttemptState]bool{
		AttemptInProgress: false,
		AttemptOverdue:    false,
		AttemptFinished:   true,
		AttemptAbandoned:  true,
	} {
		if got := state.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %t, want %t", state, got, want)
		}
	}
}
