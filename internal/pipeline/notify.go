package pipeline

// Notifier is a single-slot wakeup from the frame reader to the worker.
// Notifications sent while one is pending are coalesced; the worker
// re-checks the rings on every wake.
type Notifier struct {
	ch chan struct{}
}

// NewNotifier creates a notifier with an empty slot.
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// Notify fills the slot if it is empty. It never blocks.
func (n *Notifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// C returns the channel the worker waits on.
func (n *Notifier) C() <-chan struct{} {
	return n.ch
}
