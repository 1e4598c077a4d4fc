package partition

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// unwinder is anything holding a live scoped resource that must be
// released if the process is interrupted mid-operation, generalizing the
// teacher's setup_signal_handler/undoMounts pattern (partition/partition.go)
// from a package-level mount-path slice to an interface so ScopedWriter
// and ScopedRemount share one unwind list.
type unwinder interface {
	unwind()
}

var (
	unwindMu       sync.Mutex
	unwindList     []unwinder
	handlerStarted bool
)

func registerUnwind(u unwinder) {
	unwindMu.Lock()
	defer unwindMu.Unlock()
	ensureHandler()
	unwindList = append(unwindList, u)
}

func unregisterUnwind(u unwinder) {
	unwindMu.Lock()
	defer unwindMu.Unlock()
	for i, v := range unwindList {
		if v == u {
			unwindList = append(unwindList[:i], unwindList[i+1:]...)
			return
		}
	}
}

func ensureHandler() {
	if handlerStarted {
		return
	}
	handlerStarted = true

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-ch
		unwindMu.Lock()
		toUnwind := append([]unwinder(nil), unwindList...)
		unwindMu.Unlock()

		// Reverse order: last-acquired resource is unwound first,
		// matching the teacher's undoMounts reverse-iteration intent.
		for i := len(toUnwind) - 1; i >= 0; i-- {
			toUnwind[i].unwind()
		}
		os.Exit(1)
	}()
}
