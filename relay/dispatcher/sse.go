package dispatcher

import (
	"bufio"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
)

const (
	dataPrefix  = "data: "
	doneMessage = "[DONE]"
)

// sseItem is one element of the adapted stream: a data payload or a single
// terminal error.
type sseItem struct {
	data []byte
	err  error
}

// eventSource adapts an SSE response body into a cancellable chunk stream.
// A reader goroutine forwards each data event; the [DONE] sentinel
// terminates the stream without being forwarded; a transport error becomes
// exactly one error item. Closing the source stops the goroutine and the
// upstream read.
type eventSource struct {
	ch   chan sseItem
	done chan struct{}
	body *http.Response
}

func newEventSource(resp *http.Response) *eventSource {
	es := &eventSource{
		ch:   make(chan sseItem, 16),
		done: make(chan struct{}),
		body: resp,
	}
	go es.run()
	return es
}

func (es *eventSource) run() {
	defer close(es.ch)

	scanner := bufio.NewScanner(es.body.Body)
	buffer := make([]byte, 1024*1024)
	scanner.Buffer(buffer, len(buffer))
	scanner.Split(bufio.ScanLines)

	for scanner.Scan() {
		line := scanner.Text()
		// Event-name lines are redundant: every provider repeats the type
		// inside the data payload.
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(line[len("data:"):])
		if data == "" {
			continue
		}
		if data == doneMessage {
			return
		}
		select {
		case es.ch <- sseItem{data: []byte(data)}:
		case <-es.done:
			return
		}
	}

	if err := scanner.Err(); err != nil {
		select {
		case es.ch <- sseItem{err: errors.Wrap(err, "read event stream")}:
		case <-es.done:
		}
	}
}

// Events is the receive half of the adapted stream.
func (es *eventSource) Events() <-chan sseItem { return es.ch }

// Close cancels the reader and the upstream connection. Safe to call after
// the channel has drained.
func (es *eventSource) Close() {
	select {
	case <-es.done:
	default:
		close(es.done)
	}
	_ = es.body.Body.Close()
}
