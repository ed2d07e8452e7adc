package mlclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// PhaseEvent is one line of the newline-delimited progress stream /train may send
type PhaseEvent struct {
	Phase   string `json:"phase"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Failed reports whether the service declared the run failed
func (e PhaseEvent) Failed() bool {
	switch strings.ToLower(e.Status) {
	case "failed", "error":
		return true
	}
	return false
}

const maxEventLine = 1 << 20

// Train asks the service to retrain and blocks until it answers. Phase
// events found in the response body are passed to onPhase as they arrive;
// a body that is not a phase stream is drained and ignored.
func (c *Client) Train(ctx context.Context, onPhase func(PhaseEvent)) error {
	_, err := c.call(ctx, endpointTrain, "Training", c.trainBreaker, func() (interface{}, error) {
		req, err := c.postJSON(ctx, endpointTrain, struct{}{})
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/x-ndjson, application/json")

		resp, err := c.trainHTTP.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if err := checkStatus(endpointTrain, resp); err != nil {
			return nil, err
		}
		return nil, c.readPhases(resp, onPhase)
	})
	return err
}

func (c *Client) readPhases(resp *http.Response, onPhase func(PhaseEvent)) error {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event PhaseEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			c.log.WithError(err).Debug("Ignoring non-event line from training stream")
			continue
		}
		if event.Failed() {
			return fmt.Errorf("training reported failure in phase %q: %s", event.Phase, event.Message)
		}
		if event.Phase != "" && onPhase != nil {
			onPhase(event)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("training stream interrupted: %w", err)
	}
	return nil
}
