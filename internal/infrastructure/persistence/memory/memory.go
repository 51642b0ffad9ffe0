// Package memory provides in-memory implementations of every backend port.
// They back the unit tests and the local development mode; each fake supports
// scripted failures so error paths can be exercised without a real backend.
package memory

import "sync"

// failer is embedded by every fake to script method failures.
type failer struct {
	mu           sync.Mutex
	shouldFailOn map[string]error
	failTimes    map[string]*timedError
	failAfter    map[string]*delayedError
	calls        map[string]int
}

type timedError struct {
	err       error
	remaining int
}

type delayedError struct {
	err   error
	after int
}

func newFailer() failer {
	return failer{
		shouldFailOn: make(map[string]error),
		failTimes:    make(map[string]*timedError),
		failAfter:    make(map[string]*delayedError),
		calls:        make(map[string]int),
	}
}

// SetError configures the fake to return err on every call to method.
func (f *failer) SetError(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shouldFailOn[method] = err
}

// SetErrorTimes configures the fake to return err for the next n calls to
// method, then succeed. Useful for retry tests.
func (f *failer) SetErrorTimes(method string, err error, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failTimes[method] = &timedError{err: err, remaining: n}
}

// SetErrorAfter lets the next n calls to method succeed, then fails every
// later call with err. Useful for partial-progress tests.
func (f *failer) SetErrorAfter(method string, err error, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAfter[method] = &delayedError{err: err, after: f.calls[method] + n}
}

// ClearErrors removes all configured errors.
func (f *failer) ClearErrors() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shouldFailOn = make(map[string]error)
	f.failTimes = make(map[string]*timedError)
	f.failAfter = make(map[string]*delayedError)
}

// Calls reports how many times method was invoked.
func (f *failer) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// checkError records the call and returns the scripted error, if any.
func (f *failer) checkError(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	if te, ok := f.failTimes[method]; ok && te.remaining > 0 {
		te.remaining--
		return te.err
	}
	if de, ok := f.failAfter[method]; ok && f.calls[method] > de.after {
		return de.err
	}
	if err, ok := f.shouldFailOn[method]; ok {
		return err
	}
	return nil
}
