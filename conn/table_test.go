package conn

import "testing"

func TestTableAddAssignsMonotonicIDs(t *testing.T) {
	tbl := NewTable()
	a := New(ApStream, NoopHooks{}, &pipeSocket{})
	b := New(ApStream, NoopHooks{}, &pipeSocket{})
	tbl.Add(a)
	tbl.Add(b)

	if a.ID == 0 || b.ID == 0 || a.ID == b.ID {
		t.Fatalf("expected distinct nonzero IDs, got %d, %d", a.ID, b.ID)
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tbl.Len())
	}
}

func TestTableRemoveSwapCompacts(t *testing.T) {
	tbl := NewTable()
	a := New(ApStream, NoopHooks{}, &pipeSocket{})
	b := New(ApStream, NoopHooks{}, &pipeSocket{})
	c := New(ApStream, NoopHooks{}, &pipeSocket{})
	tbl.Add(a)
	tbl.Add(b)
	tbl.Add(c)

	tbl.Remove(b.ID)
	if tbl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 after removal", tbl.Len())
	}

	var seen []uint64
	tbl.ForEach(func(c *Connection) { seen = append(seen, c.ID) })
	for _, id := range seen {
		if id == b.ID {
			t.Fatalf("removed connection %d still present", b.ID)
		}
	}
}

func TestFDBudgetReserveAndRelease(t *testing.T) {
	b := NewFDBudget(10, 2)
	for i := 0; i < 8; i++ {
		if !b.TryReserve() {
			t.Fatalf("expected reserve %d to succeed", i)
		}
	}
	if b.TryReserve() {
		t.Fatalf("expected reserve to fail once reserve margin is hit")
	}
	b.Release()
	if !b.TryReserve() {
		t.Fatalf("expected reserve to succeed after a release")
	}
}
