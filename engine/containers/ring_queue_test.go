package containers

import (
	"errors"
	"testing"
)

func TestRingQueue(t *testing.T) {
	q := NewRingQueue[int](3)
	if !q.IsEmpty() {
		t.Fatal("IsEmpty: have false\nwant true")
	}
	if _, err := q.Dequeue(); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("Dequeue on empty:\nhave %v\nwant %v", err, ErrQueueEmpty)
	}
	for i := 1; i <= 3; i++ {
		if err := q.Enqueue(i); err != nil {
			t.Fatalf("Enqueue(%d):\nhave %v\nwant nil", i, err)
		}
	}
	if err := q.Enqueue(4); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue on full:\nhave %v\nwant %v", err, ErrQueueFull)
	}
	if v, _ := q.Peek(); v != 1 {
		t.Fatalf("Peek:\nhave %d\nwant 1", v)
	}
	if v, _ := q.Dequeue(); v != 1 {
		t.Fatalf("Dequeue:\nhave %d\nwant 1", v)
	}
	_ = q.Enqueue(4)

	var seen []int
	q.Each(func(v int) { seen = append(seen, v) })
	want := []int{2, 3, 4}
	if len(seen) != len(want) {
		t.Fatalf("Each:\nhave %v\nwant %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("Each:\nhave %v\nwant %v", seen, want)
		}
	}
	if q.Len() != 3 || !q.IsFull() {
		t.Fatalf("Len:\nhave %d\nwant 3 (full)", q.Len())
	}
}
