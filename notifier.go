package relink

import "sync"

// notifier delivers callbacks one at a time, in publish order. Observers never
// run under the Supervisor mutex, so they may call back into the Supervisor.
type notifier struct {
	mu     sync.Mutex
	cond   *sync.Cond
	fns    []func()
	closed bool
	done   chan struct{}
}

func newNotifier() *notifier {
	n := &notifier{done: make(chan struct{})}
	n.cond = sync.NewCond(&n.mu)
	go n.run()

	return n
}

func (n *notifier) publish(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.fns = append(n.fns, fn)
	n.cond.Signal()
}

func (n *notifier) run() {
	defer close(n.done)

	for {
		n.mu.Lock()
		for len(n.fns) == 0 && !n.closed {
			n.cond.Wait()
		}
		if len(n.fns) == 0 && n.closed {
			n.mu.Unlock()

			return
		}
		fn := n.fns[0]
		n.fns = n.fns[1:]
		n.mu.Unlock()

		fn()
	}
}

// close drains pending callbacks and stops the delivery goroutine.
func (n *notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.cond.Signal()
	n.mu.Unlock()

	<-n.done
}
