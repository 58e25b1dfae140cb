package batch

import (
	"errors"
	"reflect"
	"testing"
)

func collect(t *testing.T, corpus []int, n, m int) []Window {
	t.Helper()
	ws, err := New(corpus, n, m)
	if err != nil {
		t.Fatal(err)
	}
	var out []Window
	for ws.Next() {
		out = append(out, ws.Window())
	}
	return out
}

func TestRepeatedCorpusScenario(t *testing.T) {
	// "abcabcabcabc" with a=0 b=1 c=2
	corpus := []int{0, 1, 2, 0, 1, 2, 0, 1, 2, 0, 1, 2}
	wins := collect(t, corpus, 2, 3)
	if len(wins) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(wins))
	}

	wantIn := [][]int{{0, 1, 2}, {0, 1, 2}}
	wantTg := [][]int{{1, 2, 0}, {1, 2, 0}}
	for k, w := range wins {
		if !reflect.DeepEqual(w.Input, wantIn) {
			t.Errorf("window %d input: expected %v, got %v", k, wantIn, w.Input)
		}
		if !reflect.DeepEqual(w.Target, wantTg) {
			t.Errorf("window %d target: expected %v, got %v", k, wantTg, w.Target)
		}
	}
}

func TestRowsAreIndependentStreams(t *testing.T) {
	corpus := make([]int, 24)
	for i := range corpus {
		corpus[i] = i
	}
	wins := collect(t, corpus, 2, 4)
	// 24 / 8 = 3 windows, each row holds 12 consecutive values.
	if len(wins) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(wins))
	}
	if !reflect.DeepEqual(wins[0].Input, [][]int{{0, 1, 2, 3}, {12, 13, 14, 15}}) {
		t.Errorf("unexpected first input %v", wins[0].Input)
	}
	if !reflect.DeepEqual(wins[1].Input, [][]int{{4, 5, 6, 7}, {16, 17, 18, 19}}) {
		t.Errorf("unexpected second input %v", wins[1].Input)
	}
	// Final column of a target continues the row, except in the last window.
	if wins[0].Target[0][3] != 4 || wins[0].Target[1][3] != 16 {
		t.Errorf("expected continuation targets 4 and 16, got %v", wins[0].Target)
	}
	if wins[2].Target[0][3] != 0 || wins[2].Target[1][3] != 12 {
		t.Errorf("expected wrapped targets 0 and 12, got %v", wins[2].Target)
	}
}

func TestTargetShiftInvariant(t *testing.T) {
	cases := []struct {
		length, n, m int
	}{
		{100, 3, 7},
		{1000, 10, 50},
		{17, 1, 1},
		{64, 4, 4},
		{65, 8, 2},
	}
	for _, c := range cases {
		corpus := make([]int, c.length)
		for i := range corpus {
			corpus[i] = (i * 7) % 13
		}
		wins := collect(t, corpus, c.n, c.m)
		if len(wins) != Count(c.length, c.n, c.m) {
			t.Errorf("len=%d n=%d m=%d: expected %d windows, got %d",
				c.length, c.n, c.m, Count(c.length, c.n, c.m), len(wins))
		}
		for k, w := range wins {
			if len(w.Input) != c.n || len(w.Target) != c.n {
				t.Fatalf("window %d: expected %d rows", k, c.n)
			}
			for i := range w.Input {
				if len(w.Input[i]) != c.m || len(w.Target[i]) != c.m {
					t.Fatalf("window %d row %d: expected %d columns", k, i, c.m)
				}
				for j := 0; j < c.m-1; j++ {
					if w.Target[i][j] != w.Input[i][j+1] {
						t.Fatalf("window %d row %d col %d: target %d != input %d",
							k, i, j, w.Target[i][j], w.Input[i][j+1])
					}
				}
			}
		}
	}
}

func TestNeverReadsPastTruncation(t *testing.T) {
	const sentinel = 99
	n, m := 3, 4
	corpus := make([]int, 2*n*m+5)
	for i := range corpus {
		if i >= 2*n*m {
			corpus[i] = sentinel
		} else {
			corpus[i] = i % 10
		}
	}
	for _, w := range collect(t, corpus, n, m) {
		for i := range w.Input {
			for j := range w.Input[i] {
				if w.Input[i][j] == sentinel || w.Target[i][j] == sentinel {
					t.Fatal("window read past the truncated corpus")
				}
			}
		}
	}
}

func TestDegenerateCorpus(t *testing.T) {
	ws, err := New([]int{1, 2, 3, 4, 5}, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if ws.Len() != 0 {
		t.Errorf("expected 0 windows, got %d", ws.Len())
	}
	if ws.Next() {
		t.Error("expected no windows from a short corpus")
	}
	if Count(5, 2, 3) != 0 {
		t.Error("expected Count to report 0")
	}
}

func TestFreshSequencePerCall(t *testing.T) {
	corpus := []int{0, 1, 2, 0, 1, 2, 0, 1, 2, 0, 1, 2}
	ws, err := New(corpus, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	for ws.Next() {
	}
	if ws.Next() {
		t.Error("an exhausted sequence must stay exhausted")
	}
	if got := collect(t, corpus, 2, 3); len(got) != 2 {
		t.Errorf("expected a fresh sequence with 2 windows, got %d", len(got))
	}
}

func TestInvalidShape(t *testing.T) {
	for _, c := range [][2]int{{0, 3}, {2, 0}, {-1, 1}} {
		if _, err := New([]int{1, 2, 3}, c[0], c[1]); !errors.Is(err, ErrInvalidShape) {
			t.Errorf("n=%d m=%d: expected ErrInvalidShape, got %v", c[0], c[1], err)
		}
	}
}
