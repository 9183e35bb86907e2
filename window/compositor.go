package window

import (
	"sort"
	"sync"

	"palmyraos/kerr"
)

// Compositor owns the Z-ordered window list and the front/back pixel
// buffers, per spec.md §4.17.
type Compositor struct {
	mu           sync.Mutex
	windows      []*Window
	nextID       uint32
	active       uint32 // 0 means none
	sortRequired bool
	pendingClose map[uint32]bool

	screenWidth, screenHeight int
	back, front               []byte

	cursorX, cursorY int
	dragging         uint32 // 0 means none
	dragOffsetX      int
	dragOffsetY      int

	atomicDepth int
}

// NewCompositor creates a compositor for a screen of the given dimensions.
func NewCompositor(screenWidth, screenHeight int) *Compositor {
	return &Compositor{
		screenWidth:  screenWidth,
		screenHeight: screenHeight,
		back:         make([]byte, screenWidth*screenHeight*BytesPerPixel),
		front:        make([]byte, screenWidth*screenHeight*BytesPerPixel),
		pendingClose: make(map[uint32]bool),
	}
}

// CreateWindow allocates a new id, pushes the window to the back of the
// list, and requests a z-sort, per spec.md §4.17: "Create window -> new id,
// push back, sort requested."
func (c *Compositor) CreateWindow(x, y, width, height int, movable bool) *Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	w := newWindow(c.nextID, x, y, width, height, movable)
	w.Z = len(c.windows)
	c.windows = append(c.windows, w)
	c.sortRequired = true
	if c.active == 0 {
		c.active = w.ID
	}
	return w
}

// CloseWindow marks a window invisible and queues it for deferred erasure;
// the compositor erases it on the next frame, per spec.md §4.17.
func (c *Compositor) CloseWindow(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.windows {
		if w.ID == id {
			w.Visible = false
			c.pendingClose[id] = true
			break
		}
	}
}

func (c *Compositor) reapClosed() {
	if len(c.pendingClose) == 0 {
		return
	}
	kept := c.windows[:0]
	for _, w := range c.windows {
		if c.pendingClose[w.ID] {
			if c.active == w.ID {
				c.active = 0
			}
			continue
		}
		kept = append(kept, w)
	}
	c.windows = kept
	c.pendingClose = make(map[uint32]bool)
}

func (c *Compositor) sortByZ() {
	if !c.sortRequired {
		return
	}
	sort.SliceStable(c.windows, func(i, j int) bool { return c.windows[i].Z < c.windows[j].Z })
	c.sortRequired = false
}

// SetActive makes id the focused window and raises it to the maximum z, per
// spec.md §8's testable property: "after set_active(id), id has the maximum
// z among all windows."
func (c *Compositor) SetActive(id uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setActiveLocked(id)
}

func (c *Compositor) setActiveLocked(id uint32) error {
	maxZ := -1
	var target *Window
	for _, w := range c.windows {
		if w.Z > maxZ {
			maxZ = w.Z
		}
		if w.ID == id {
			target = w
		}
	}
	if target == nil {
		return kerr.Wrap(kerr.ErrNotFound, "window: unknown window id")
	}
	if target.Z != maxZ {
		target.Z = maxZ + 1
		c.sortRequired = true
	}
	c.active = id
	return nil
}

// GetWindowAt returns the top-most visible window whose bounds contain
// (x, y), or nil if none does.
func (c *Compositor) GetWindowAt(x, y int) *Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sortByZ()
	var top *Window
	for _, w := range c.windows {
		if !w.Visible || !w.Contains(x, y) {
			continue
		}
		if top == nil || w.Z > top.Z {
			top = w
		}
	}
	return top
}

// AltTab cycles the active window to the next visible one in z order.
func (c *Compositor) AltTab() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sortByZ()
	if len(c.windows) == 0 {
		return
	}
	idx := -1
	for i, w := range c.windows {
		if w.ID == c.active {
			idx = i
			break
		}
	}
	for step := 1; step <= len(c.windows); step++ {
		cand := c.windows[(idx+step+len(c.windows))%len(c.windows)]
		if cand.Visible {
			c.active = cand.ID
			return
		}
	}
}

// HandleMouse routes a click to the window under the cursor, starting a
// drag when the press lands in the top 22 pixels of a movable window, per
// spec.md §4.17.
func (c *Compositor) HandleMouse(e MouseEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursorX, c.cursorY = e.X, e.Y
	c.sortByZ()

	var top *Window
	for _, w := range c.windows {
		if !w.Visible || !w.Contains(e.X, e.Y) {
			continue
		}
		if top == nil || w.Z > top.Z {
			top = w
		}
	}
	if top == nil {
		return
	}

	leftPressed := e.Buttons&0x1 != 0
	if leftPressed {
		c.setActiveLocked(top.ID)
		if top.Movable && top.InTitleBar(e.X, e.Y) {
			c.dragging = top.ID
			c.dragOffsetX = e.X - top.X
			c.dragOffsetY = e.Y - top.Y
		}
	} else if c.dragging == top.ID || c.dragging != 0 {
		c.dragging = 0
	}

	if c.dragging != 0 {
		for _, w := range c.windows {
			if w.ID != c.dragging {
				continue
			}
			c.moveDragged(w, e.X, e.Y)
		}
	}
	top.PushMouseEvent(e)
}

// moveDragged repositions w so that the grabbed offset tracks the cursor,
// clamping so at least 2 pixels of the window remain on-screen, per
// spec.md §4.17.
func (c *Compositor) moveDragged(w *Window, cursorX, cursorY int) {
	const edgeMargin = 2
	newX := cursorX - c.dragOffsetX
	newY := cursorY - c.dragOffsetY

	minX := edgeMargin - w.Width
	maxX := c.screenWidth - edgeMargin
	minY := edgeMargin - w.Height
	maxY := c.screenHeight - edgeMargin

	if newX < minX {
		newX = minX
	}
	if newX > maxX {
		newX = maxX
	}
	if newY < minY {
		newY = minY
	}
	if newY > maxY {
		newY = maxY
	}
	w.X, w.Y = newX, newY
}

// HandleKey delivers a keystroke to the active window; events for no window
// are dropped, per spec.md §4.17.
func (c *Compositor) HandleKey(e KeyEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.windows {
		if w.ID == c.active {
			w.PushKeyEvent(e)
			return
		}
	}
}

// EnterAtomic brackets a section where no yield may occur, per spec.md
// §4.16: "entering increments it, leaving decrements."
func (c *Compositor) EnterAtomic() {
	c.mu.Lock()
	c.atomicDepth++
	c.mu.Unlock()
}

// LeaveAtomic closes a section opened by EnterAtomic.
func (c *Compositor) LeaveAtomic() {
	c.mu.Lock()
	if c.atomicDepth > 0 {
		c.atomicDepth--
	}
	c.mu.Unlock()
}

// AtomicDepth reports the current nesting depth, for tests and assertions
// that no yield happens mid-swap.
func (c *Compositor) AtomicDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.atomicDepth
}

// CompositeFrame fills the back buffer with background, paints each window
// in z order clipped to screen, draws the cursor, then swaps front/back
// atomically with respect to the task system, per spec.md §4.17.
func (c *Compositor) CompositeFrame(background uint32, cursorSprite []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reapClosed()
	c.sortByZ()

	fillBackground(c.back, background)
	for _, w := range c.windows {
		if !w.Visible {
			continue
		}
		blit(c.back, c.screenWidth, c.screenHeight, w)
	}
	drawCursor(c.back, c.screenWidth, c.screenHeight, c.cursorX, c.cursorY, cursorSprite)

	// Inlined EnterAtomic/LeaveAtomic: c.mu is already held here, and
	// those methods lock it themselves.
	c.atomicDepth++
	c.front, c.back = c.back, c.front
	if c.atomicDepth > 0 {
		c.atomicDepth--
	}
}

// FrontBuffer exposes the just-swapped-in front buffer for the display
// driver to present.
func (c *Compositor) FrontBuffer() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.front
}

func fillBackground(buf []byte, color uint32) {
	for i := 0; i+3 < len(buf); i += BytesPerPixel {
		buf[i] = byte(color)
		buf[i+1] = byte(color >> 8)
		buf[i+2] = byte(color >> 16)
		buf[i+3] = byte(color >> 24)
	}
}

func blit(dst []byte, screenW, screenH int, w *Window) {
	for row := 0; row < w.Height; row++ {
		dy := w.Y + row
		if dy < 0 || dy >= screenH {
			continue
		}
		for col := 0; col < w.Width; col++ {
			dx := w.X + col
			if dx < 0 || dx >= screenW {
				continue
			}
			srcOff := (row*w.Width + col) * BytesPerPixel
			dstOff := (dy*screenW + dx) * BytesPerPixel
			if srcOff+BytesPerPixel > len(w.PixelBuffer) || dstOff+BytesPerPixel > len(dst) {
				continue
			}
			copy(dst[dstOff:dstOff+BytesPerPixel], w.PixelBuffer[srcOff:srcOff+BytesPerPixel])
		}
	}
}

func drawCursor(dst []byte, screenW, screenH, x, y int, sprite []byte) {
	const cursorSize = 8
	for row := 0; row < cursorSize; row++ {
		dy := y + row
		if dy < 0 || dy >= screenH {
			continue
		}
		for col := 0; col < cursorSize; col++ {
			dx := x + col
			if dx < 0 || dx >= screenW {
				continue
			}
			srcOff := (row*cursorSize + col) * BytesPerPixel
			dstOff := (dy*screenW + dx) * BytesPerPixel
			if srcOff+BytesPerPixel > len(sprite) || dstOff+BytesPerPixel > len(dst) {
				continue
			}
			copy(dst[dstOff:dstOff+BytesPerPixel], sprite[srcOff:srcOff+BytesPerPixel])
		}
	}
}
