// Package window implements the cooperative windowing/compositor of
// spec.md §4.17: Z-ordered window list, click-to-focus, drag, and
// double-buffered composite.
//
// Grounded on iansmith-mazarin's framebuffer/FramebufferInfo style (pitch,
// width, height, byte buffer) for the pixel-buffer shape, and on
// biscuit/src/circbuf/circbuf.go's bounded circular buffer for the
// per-window input queues spec.md §4.17 bounds at 20 events.
package window

// BytesPerPixel matches iansmith-mazarin's 24-bit RGB framebuffer
// convention, padded to a 32-bit stride for cheap indexing.
const BytesPerPixel = 4

// TitleBarHeight is the draggable strip at a window's top, per spec.md
// §4.17: "pressing within the top 22 pixels of a movable window captures
// drag."
const TitleBarHeight = 22

// EventQueueCapacity bounds each window's input queues, per spec.md §4.17:
// "Queues are bounded (<= 20 per window); the oldest event is dropped on
// overflow."
const EventQueueCapacity = 20

// MouseEvent is a pointer sample delivered to the window under the cursor.
type MouseEvent struct {
	X, Y    int
	Buttons uint8
}

// KeyEvent is a keystroke delivered to the active window.
type KeyEvent struct {
	Code    uint8
	Pressed bool
}

// eventQueue is a fixed-capacity FIFO that drops its oldest entry on
// overflow, the behavior biscuit/src/circbuf/circbuf.go implements for byte
// streams, generalized here to window events.
type eventQueue[T any] struct {
	items []T
}

func (q *eventQueue[T]) push(item T) {
	q.items = append(q.items, item)
	if len(q.items) > EventQueueCapacity {
		q.items = q.items[1:]
	}
}

func (q *eventQueue[T]) pop() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Window is one compositor surface, spec.md §3: "{id, z, x, y, width,
// height, pixel_buffer, visible, movable, keyboard_queue, mouse_queue}."
type Window struct {
	ID     uint32
	Z      int
	X, Y   int
	Width  int
	Height int

	PixelBuffer []byte
	Visible     bool
	Movable     bool

	keyboardQueue eventQueue[KeyEvent]
	mouseQueue    eventQueue[MouseEvent]
}

func newWindow(id uint32, x, y, width, height int, movable bool) *Window {
	return &Window{
		ID:          id,
		X:           x,
		Y:           y,
		Width:       width,
		Height:      height,
		PixelBuffer: make([]byte, width*height*BytesPerPixel),
		Visible:     true,
		Movable:     movable,
	}
}

// Contains reports whether (px, py) falls within the window's bounds.
func (w *Window) Contains(px, py int) bool {
	return px >= w.X && px < w.X+w.Width && py >= w.Y && py < w.Y+w.Height
}

// InTitleBar reports whether (px, py) falls within the draggable strip.
func (w *Window) InTitleBar(px, py int) bool {
	return w.Contains(px, py) && py < w.Y+TitleBarHeight
}

// PushKeyEvent queues a keystroke, dropping the oldest on overflow.
func (w *Window) PushKeyEvent(e KeyEvent) { w.keyboardQueue.push(e) }

// PopKeyEvent dequeues the oldest pending keystroke.
func (w *Window) PopKeyEvent() (KeyEvent, bool) { return w.keyboardQueue.pop() }

// PushMouseEvent queues a pointer sample, dropping the oldest on overflow.
func (w *Window) PushMouseEvent(e MouseEvent) { w.mouseQueue.push(e) }

// PopMouseEvent dequeues the oldest pending pointer sample.
func (w *Window) PopMouseEvent() (MouseEvent, bool) { return w.mouseQueue.pop() }
