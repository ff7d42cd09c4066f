package uart

import (
	"fmt"
	"os"
	"sync"

	"github.com/muesli/cancelreader"
	"golang.org/x/term"
)

// Terminal is a UART backed by the real process stdin/stdout, for an
// interactive console; no cmd/preemptosctl scenario uses it. It puts the terminal in raw
// mode (so line discipline and echo are the kernel's to control, not
// the OS's) and reads stdin on a background goroutine through a
// cancelreader, the cross-platform equivalent of the teacher's
// raw-mode-plus-non-blocking-read terminal_host.go pattern.
type Terminal struct {
	mu       sync.Mutex
	buffered []byte

	reader   cancelreader.CancelReader
	oldState *term.State
	fd       int

	readErr chan struct{}
}

// NewTerminal puts stdin in raw mode and starts the background reader.
// Close restores the terminal.
func NewTerminal() (*Terminal, error) {
	fd := int(os.Stdin.Fd())

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("uart: entering raw mode: %w", err)
	}

	r, err := cancelreader.NewReader(os.Stdin)
	if err != nil {
		_ = term.Restore(fd, oldState)
		return nil, fmt.Errorf("uart: creating cancel reader: %w", err)
	}

	t := &Terminal{
		reader:   r,
		oldState: oldState,
		fd:       fd,
		readErr:  make(chan struct{}),
	}
	go t.run()
	return t, nil
}

func (t *Terminal) run() {
	defer close(t.readErr)
	buf := make([]byte, 1)
	for {
		n, err := t.reader.Read(buf)
		if n > 0 {
			b := buf[0]
			if b == '\r' {
				b = '\n'
			}
			t.mu.Lock()
			t.buffered = append(t.buffered, b)
			t.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (t *Terminal) Puts(s string) {
	_, _ = os.Stdout.WriteString(s)
}

func (t *Terminal) Gets(buf []byte) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := copy(buf, t.buffered)
	t.buffered = t.buffered[n:]
	return n
}

func (t *Terminal) KBHit() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buffered) > 0
}

// Close cancels the background reader and restores the terminal to its
// original mode.
func (t *Terminal) Close() error {
	t.reader.Cancel()
	_ = t.reader.Close()
	<-t.readErr
	return term.Restore(t.fd, t.oldState)
}

var _ Device = (*Terminal)(nil)
