package signal

// Batch groups signal updates. Subscribers are notified once, after the
// outermost batch on the calling goroutine returns.
func Batch(fn func()) {
	update(func(ctx *trackingContext) { ctx.batchDepth++ })
	defer func() {
		var pending []Listener
		update(func(ctx *trackingContext) {
			ctx.batchDepth--
			if ctx.batchDepth == 0 {
				pending = ctx.pendingUpdates
				ctx.pendingUpdates = nil
			}
		})
		notifyUnique(pending)
	}()
	fn()
}

// notifyUnique marks each listener dirty once, in first-notified order.
func notifyUnique(listeners []Listener) {
	if len(listeners) == 0 {
		return
	}
	seen := make(map[uint64]bool, len(listeners))
	for _, l := range listeners {
		id := l.ID()
		if seen[id] {
			continue
		}
		seen[id] = true
		l.MarkDirty()
	}
}
