package indexer

import "testing"

func TestUnboundedQueue_PreservesFIFOOrder(t *testing.T) {
	q := NewUnboundedQueue[int]()
	for i := 0; i < 50; i++ {
		q.Send(i)
	}
	for i := 0; i < 50; i++ {
		got := <-q.Receive()
		if got != i {
			t.Fatalf("expected %d, got %d", i, got)
		}
	}
	q.Close()
	if _, ok := <-q.Receive(); ok {
		t.Fatalf("expected closed channel after Close")
	}
}

func TestClampLimit(t *testing.T) {
	cases := []struct {
		raw      string
		lo, hi, def, want int
	}{
		{"", 1, 1000, 100, 100},
		{"5000", 1, 1000, 100, 1000},
		{"0", 1, 1000, 100, 1},
		{"notanumber", 1, 1000, 100, 100},
		{"250", 1, 1000, 100, 250},
	}
	for _, c := range cases {
		got := clampLimit(c.raw, c.lo, c.hi, c.def)
		if got != c.want {
			t.Fatalf("clampLimit(%q): got %d, want %d", c.raw, got, c.want)
		}
	}
}
