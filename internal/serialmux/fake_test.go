package serialmux

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sync"
	"testing"
)

// fakePort is a sensor bridge on the far end of a pipe. Lines written with
// emit block until Monitor reads them; commands written by the mux are kept.
type fakePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu       sync.Mutex
	written  bytes.Buffer
	writeErr error
	maxWrite int
	closed   bool
}

func newFakePort() *fakePort {
	r, w := io.Pipe()
	return &fakePort{r: r, w: w}
}

func (f *fakePort) Read(p []byte) (int, error) { return f.r.Read(p) }

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	if f.maxWrite > 0 && len(p) > f.maxWrite {
		p = p[:f.maxWrite]
	}
	return f.written.Write(p)
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return f.r.Close()
}

func (f *fakePort) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// emit sends lines from the bridge side.
func (f *fakePort) emit(t *testing.T, lines ...string) {
	t.Helper()
	for _, l := range lines {
		if _, err := io.WriteString(f.w, l+"\n"); err != nil {
			t.Fatalf("emit %q: %v", l, err)
		}
	}
}

// hangUp ends the bridge stream, with err if not nil.
func (f *fakePort) hangUp(err error) { f.w.CloseWithError(err) }

func (f *fakePort) commands(t *testing.T) []bridgeCommand {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []bridgeCommand
	scan := bufio.NewScanner(bytes.NewReader(f.written.Bytes()))
	for scan.Scan() {
		var c bridgeCommand
		if err := json.Unmarshal(scan.Bytes(), &c); err != nil {
			t.Fatalf("command %q: %v", scan.Text(), err)
		}
		out = append(out, c)
	}
	return out
}

func (f *fakePort) raw() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}
