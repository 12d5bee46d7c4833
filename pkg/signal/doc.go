// Package signal provides reactive values for Mirror UIs.
//
// Reading a Signal inside an Effect or Computed subscribes the reader;
// writing the signal notifies every subscriber.
//
//	count := signal.New(0)
//	doubled := signal.NewComputed(func() int { return count.Get() * 2 })
//	signal.NewEffect(func() signal.Cleanup {
//	    fmt.Println(doubled.Get())
//	    return nil
//	})
//	count.Set(2) // prints 4
//
// # Scheduling
//
// An Effect re-runs synchronously by default. WithScheduler hands the re-run
// to a function instead; UIs use this to run re-runs under their session
// lock, whichever goroutine wrote the signal.
//
// # Tracking
//
// Dependency tracking is per goroutine. Signals are safe for concurrent
// use; effects and computeds started on one goroutine track only reads made
// on that goroutine.
package signal
