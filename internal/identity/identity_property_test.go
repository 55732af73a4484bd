package identity

import (
	"testing"

	"pgregory.net/rapid"
)

// TestProperty_IDsMonotonicAndNeverReused drives a tracker with a random mix
// of creates, toggles and deletes and checks that ids are 1..N in creation
// order, that every created index stays addressable, and that NextID is
// always one past the number of creates.
func TestProperty_IDsMonotonicAndNeverReused(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tr := New(rapid.Bool().Draw(rt, "allow_uncomplete"))

		ops := rapid.IntRange(1, 60).Draw(rt, "num_ops")
		creates := 0
		seen := map[int]bool{}

		for i := 0; i < ops; i++ {
			op := rapid.SampledFrom([]string{"create", "toggle", "delete"}).Draw(rt, "op")

			switch op {
			case "create":
				want := tr.NextID()
				id := tr.RecordCreate(rapid.StringMatching(`[A-Za-z ]{1,12}`).Draw(rt, "text"))
				creates++
				if id != want {
					rt.Fatalf("RecordCreate = %d, NextID said %d", id, want)
				}
				if id != creates {
					rt.Fatalf("RecordCreate = %d, want %d", id, creates)
				}
				if seen[id] {
					rt.Fatalf("id %d reused", id)
				}
				seen[id] = true
			case "toggle", "delete":
				if creates == 0 {
					continue
				}
				n := rapid.IntRange(1, creates).Draw(rt, "task")
				// Transition errors are legal outcomes here; identity must
				// not move either way.
				if op == "toggle" {
					_ = tr.RecordToggle(n)
				} else {
					_ = tr.RecordDelete(n)
				}
			}

			if tr.NextID() != creates+1 {
				rt.Fatalf("NextID = %d, want %d", tr.NextID(), creates+1)
			}
			for n := 1; n <= creates; n++ {
				id, err := tr.IDFor(n)
				if err != nil {
					rt.Fatalf("IDFor(%d): %v", n, err)
				}
				if id != n {
					rt.Fatalf("IDFor(%d) = %d after deletions", n, id)
				}
			}
		}

		prev := 0
		for _, task := range tr.Tasks() {
			if task.ID <= prev {
				rt.Fatalf("Tasks() not in creation order: %d after %d", task.ID, prev)
			}
			prev = task.ID
		}
	})
}

// TestProperty_ToggleNeverUncompletesByDefault verifies that without
// AllowUncomplete a completed task stays completed no matter how often it is
// toggled.
func TestProperty_ToggleNeverUncompletesByDefault(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tr := New(false)
		tr.RecordCreate("x")

		toggles := rapid.IntRange(1, 10).Draw(rt, "toggles")
		for i := 0; i < toggles; i++ {
			_ = tr.RecordToggle(1)
		}

		task, err := tr.Task(1)
		if err != nil {
			rt.Fatalf("Task(1): %v", err)
		}
		if task.Status != StatusCompleted {
			rt.Fatalf("status = %s after %d toggles, want completed", task.Status, toggles)
		}
	})
}
