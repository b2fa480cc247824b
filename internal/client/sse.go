package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ignite/batch-mailer/internal/domain"
)

// ErrStreamFailed wraps the message of an error event.
var ErrStreamFailed = errors.New("progress stream failed")

// WatchOptions tune Watch.
type WatchOptions struct {
	// Detail asks the server to attach per-recipient statuses.
	Detail bool
}

// Watch follows the batch's progress stream, calling fn for every event.
// It returns nil after the complete event, ErrStreamFailed after an error
// event and io.ErrUnexpectedEOF if the server hangs up before either.
func (c *Client) Watch(ctx context.Context, batchID string, opts WatchOptions, fn func(domain.ProgressEvent) error) error {
	q := url.Values{"batchId": {batchID}}
	if opts.Detail {
		q.Set("detail", "true")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/send/status?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return readEvents(resp.Body, fn)
}

// readEvents parses a text/event-stream body. Only data lines are used;
// comments and other fields are skipped.
func readEvents(r io.Reader, fn func(domain.ProgressEvent) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)

	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var ev domain.ProgressEvent
			if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
				return fmt.Errorf("decoding event: %w", err)
			}
			data.Reset()
			if err := fn(ev); err != nil {
				return err
			}
			switch ev.Type {
			case domain.EventComplete:
				return nil
			case domain.EventError:
				return fmt.Errorf("%w: %s", ErrStreamFailed, ev.Message)
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}
