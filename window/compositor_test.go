package window

import "testing"

// TestSetActiveRaisesZOrder exercises spec.md §8 scenario 7: after
// set_active(id), id has the maximum z among all windows.
func TestSetActiveRaisesZOrder(t *testing.T) {
	c := NewCompositor(800, 600)
	a := c.CreateWindow(0, 0, 100, 100, true)
	b := c.CreateWindow(10, 10, 100, 100, true)
	_ = c.CreateWindow(20, 20, 100, 100, true)

	if err := c.SetActive(a.ID); err != nil {
		t.Fatalf("SetActive(a): %v", err)
	}

	maxZ := -1
	for _, w := range c.windows {
		if w.Z > maxZ {
			maxZ = w.Z
		}
	}
	if a.Z != maxZ {
		t.Fatalf("a.Z = %d, want max z %d after SetActive(a)", a.Z, maxZ)
	}

	if err := c.SetActive(b.ID); err != nil {
		t.Fatalf("SetActive(b): %v", err)
	}
	maxZ = -1
	for _, w := range c.windows {
		if w.Z > maxZ {
			maxZ = w.Z
		}
	}
	if b.Z != maxZ {
		t.Fatalf("b.Z = %d, want max z %d after SetActive(b)", b.Z, maxZ)
	}
}

func TestSetActiveUnknownID(t *testing.T) {
	c := NewCompositor(800, 600)
	c.CreateWindow(0, 0, 10, 10, true)
	if err := c.SetActive(999); err == nil {
		t.Fatal("expected error activating an unknown window id")
	}
}

func TestGetWindowAtTopMost(t *testing.T) {
	c := NewCompositor(800, 600)
	bottom := c.CreateWindow(0, 0, 50, 50, false)
	top := c.CreateWindow(0, 0, 50, 50, false)
	c.SetActive(top.ID)

	found := c.GetWindowAt(10, 10)
	if found == nil || found.ID != top.ID {
		t.Fatalf("GetWindowAt found %v, want the top-most overlapping window %d", found, top.ID)
	}
	_ = bottom
}

func TestCloseWindowDeferredReap(t *testing.T) {
	c := NewCompositor(800, 600)
	w := c.CreateWindow(0, 0, 10, 10, false)
	c.CloseWindow(w.ID)
	if w.Visible {
		t.Fatal("closed window should be marked invisible immediately")
	}
	// Still present until the next composite reaps it.
	c.mu.Lock()
	n := len(c.windows)
	c.mu.Unlock()
	if n != 1 {
		t.Fatalf("window count before reap = %d, want 1", n)
	}
	c.CompositeFrame(0, nil)
	c.mu.Lock()
	n = len(c.windows)
	c.mu.Unlock()
	if n != 0 {
		t.Fatalf("window count after reap = %d, want 0", n)
	}
}

func TestDragClampsToScreen(t *testing.T) {
	c := NewCompositor(200, 200)
	w := c.CreateWindow(0, 0, 50, 50, true)
	c.HandleMouse(MouseEvent{X: 10, Y: 10, Buttons: 0x1}) // press in title bar, start drag
	c.HandleMouse(MouseEvent{X: -1000, Y: -1000, Buttons: 0x1})
	if w.X < 2-w.Width || w.Y < 2-w.Height {
		t.Fatalf("dragged window at (%d,%d) escaped the clamp", w.X, w.Y)
	}
}
