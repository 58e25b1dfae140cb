// Package batch cuts an encoded corpus into training windows.
//
// The corpus is truncated to a whole number of windows and laid out as n
// independent rows, so row i of one window continues row i of the previous
// window. That is what lets recurrent state carry across windows in an epoch.
package batch

import (
	"errors"
	"fmt"
)

// ErrInvalidShape is returned for non-positive batch sizes or sequence lengths.
var ErrInvalidShape = errors.New("batch size and sequence length must be positive")

// Window is one (input, target) pair, both shaped [batch][seqLength].
type Window struct {
	Input  [][]int
	Target [][]int
}

// Count returns how many windows a corpus of the given length yields.
// Zero means the corpus is too short for a single window.
func Count(length, n, m int) int {
	if n <= 0 || m <= 0 {
		return 0
	}
	return length / (n * m)
}

// Windows is a lazy, single-use sequence of windows.
type Windows struct {
	corpus []int
	n, m   int
	cols   int // K*m columns per row
	off    int
	cur    Window
}

// New returns the windows of corpus for batch size n and sequence length m.
// The trailing len(corpus) mod n*m elements are dropped.
func New(corpus []int, n, m int) (*Windows, error) {
	if n <= 0 || m <= 0 {
		return nil, fmt.Errorf("%w: n=%d m=%d", ErrInvalidShape, n, m)
	}
	k := Count(len(corpus), n, m)
	return &Windows{
		corpus: corpus[:k*n*m],
		n:      n,
		m:      m,
		cols:   k * m,
	}, nil
}

// Len is the total number of windows, whether or not they were consumed.
func (w *Windows) Len() int {
	return w.cols / w.m
}

// Next advances to the next window and reports whether there was one.
func (w *Windows) Next() bool {
	if w.off >= w.cols {
		return false
	}
	w.cur = w.window(w.off)
	w.off += w.m
	return true
}

// Window returns the current window. It is only valid after Next returned true.
func (w *Windows) Window() Window {
	return w.cur
}

func (w *Windows) at(row, col int) int {
	return w.corpus[row*w.cols+col]
}

func (w *Windows) window(off int) Window {
	win := Window{
		Input:  make([][]int, w.n),
		Target: make([][]int, w.n),
	}
	for i := 0; i < w.n; i++ {
		in := make([]int, w.m)
		tg := make([]int, w.m)
		for j := 0; j < w.m; j++ {
			in[j] = w.at(i, off+j)
		}
		copy(tg, in[1:])
		// the last window of a row wraps to the row's first element
		next := off + w.m
		if next >= w.cols {
			next = 0
		}
		tg[w.m-1] = w.at(i, next)

		win.Input[i] = in
		win.Target[i] = tg
	}
	return win
}
