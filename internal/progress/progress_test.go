package progress

import "testing"

func TestTracker(t *testing.T) {
	tr := NewTracker()
	if _, ok := tr.Get("q1"); ok {
		t.Fatal("unknown key reported as started")
	}
	if !tr.Start("q1", 4) {
		t.Fatal("Start refused a fresh key")
	}
	if tr.Start("q1", 4) {
		t.Error("Start accepted a running key")
	}

	tr.Advance("q1", 2, 0)
	if p, _ := tr.Get("q1"); p.Current != 2 || p.Total != 4 || !p.Running {
		t.Errorf("after Advance = %+v", p)
	}
	tr.Advance("q1", 3, 6)
	if p, _ := tr.Get("q1"); p.Total != 6 {
		t.Errorf("total = %d, want 6", p.Total)
	}

	tr.Finish("q1", 1)
	p, ok := tr.Get("q1")
	if !ok || p.Running || p.Failed != 1 || p.Current != 3 {
		t.Errorf("after Finish = %+v", p)
	}
	if !tr.Start("q1", 2) {
		t.Error("Start refused a finished key")
	}

	tr.Forget("q1")
	if _, ok := tr.Get("q1"); ok {
		t.Error("Forget kept the entry")
	}
}
