package gift

import (
	"sync"
	"testing"
	"time"
)

func TestReward_Levels(t *testing.T) {
	name, price, ok := Reward(2)
	if !ok || name != "中级酬勤" || price != "30元" {
		t.Errorf("Reward(2) = %q, %q, %v", name, price, ok)
	}
	if name, price, _ := Reward(1); name != "初级酬勤" || price != "15元" {
		t.Errorf("Reward(1) = %q, %q", name, price)
	}
	if name, price, _ := Reward(3); name != "高级酬勤" || price != "50元" {
		t.Errorf("Reward(3) = %q, %q", name, price)
	}

	for _, level := range []int{0, -1, 4, 100} {
		if _, _, ok := Reward(level); ok {
			t.Errorf("Reward(%d) should not be recognized", level)
		}
	}
}

func TestOffsetSeconds(t *testing.T) {
	origin := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	if got := OffsetSeconds(origin.Add(2500*time.Millisecond), origin); got != 2 {
		t.Errorf("OffsetSeconds = %d, want 2", got)
	}
	// Events before the origin truncate toward zero
	if got := OffsetSeconds(origin.Add(-2500*time.Millisecond), origin); got != -2 {
		t.Errorf("OffsetSeconds = %d, want -2", got)
	}
}

func TestCatalog_Lookup(t *testing.T) {
	c := NewCatalog([]CatalogEntry{{ID: "101", Name: "Rocket", Price: "10元"}})
	if e, ok := c.Lookup("101"); !ok || e.Name != "Rocket" {
		t.Errorf("Lookup(101) = %+v, %v", e, ok)
	}
	if _, ok := c.Lookup("999"); ok {
		t.Error("Lookup(999) should miss")
	}
}

func TestQueue_DrainAfterClose(t *testing.T) {
	q := NewQueue()
	const n = 50
	for i := 0; i < n; i++ {
		if err := q.Push(&Event{Offset: int64(i)}); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}
	q.Close()

	if err := q.Push(&Event{}); err != ErrQueueClosed {
		t.Errorf("Push after Close = %v, want ErrQueueClosed", err)
	}

	for i := 0; i < n; i++ {
		e, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop returned false after %d events, want %d", i, n)
		}
		if e.Offset != int64(i) {
			t.Errorf("event %d out of order: offset %d", i, e.Offset)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop should report closed and empty")
	}
}

func TestQueue_BlockingPop(t *testing.T) {
	q := NewQueue()
	got := make(chan int64, 3)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			e, ok := q.Pop()
			if !ok {
				close(got)
				return
			}
			got <- e.Offset
		}
	}()

	for i := int64(1); i <= 3; i++ {
		time.Sleep(5 * time.Millisecond)
		q.Push(&Event{Offset: i})
	}
	q.Close()
	wg.Wait()

	want := int64(1)
	for v := range got {
		if v != want {
			t.Errorf("got %d, want %d", v, want)
		}
		want++
	}
	if want != 4 {
		t.Errorf("consumer received %d events, want 3", want-1)
	}
}
