// Package normalize maps upstream provider envelopes onto the public
// API shape: unwrapping Gemini Cloud Code's response envelope and
// validating the Codex Responses passthrough shape.
package normalize

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// UnwrapJSON strips Cloud Code's response envelope, exposing
// candidates/usageMetadata/modelVersion at the top level.
func UnwrapJSON(body []byte) ([]byte, error) {
	var outer struct {
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil, fmt.Errorf("normalize: unparsable gemini body: %w", err)
	}
	if len(outer.Response) == 0 {
		return nil, fmt.Errorf("normalize: gemini body missing response envelope")
	}
	return outer.Response, nil
}

// keepAliveInterval matches the idle window the streaming passthrough
// must not exceed without sending something, so intermediaries don't
// close the connection.
const keepAliveInterval = 15 * time.Second

// StreamSSE re-emits a Gemini SSE stream line by line, unwrapping each
// frame's response envelope and injecting keep-alive comments during
// idle periods. It never buffers the full body.
func StreamSSE(w http.ResponseWriter, upstreamBody io.ReadCloser) error {
	defer upstreamBody.Close()

	flusher, _ := w.(http.Flusher)
	scanner := bufio.NewScanner(upstreamBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		errCh <- scanner.Err()
		close(lines)
	}()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return <-errCh
			}
			if err := writeSSELine(w, line); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
			ticker.Reset(keepAliveInterval)

		case <-ticker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func writeSSELine(w http.ResponseWriter, line string) error {
	const prefix = "data: "
	if line == "" {
		_, err := io.WriteString(w, "\n")
		return err
	}
	if line == prefix+"[DONE]" {
		_, err := io.WriteString(w, line+"\n\n")
		return err
	}
	if !bytes.HasPrefix([]byte(line), []byte(prefix)) {
		// comment lines and blank keep-alives pass through untouched
		_, err := io.WriteString(w, line+"\n")
		return err
	}

	unwrapped, err := UnwrapJSON([]byte(line[len(prefix):]))
	if err != nil {
		// an upstream frame that doesn't parse is forwarded as-is rather
		// than aborting an otherwise-healthy stream
		_, werr := io.WriteString(w, line+"\n")
		return werr
	}
	_, err = fmt.Fprintf(w, "%s%s\n\n", prefix, unwrapped)
	return err
}

// MergeSSEToJSON consumes an SSE stream in full and merges it into a
// single normalized JSON response body, for the defensive case where an
// upstream silently degrades a unary generateContent call into a
// streamed one.
func MergeSSEToJSON(upstreamBody io.ReadCloser) ([]byte, error) {
	defer upstreamBody.Close()

	scanner := bufio.NewScanner(upstreamBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var last map[string]interface{}
	var parts []interface{}
	var textBuf string

	flush := func() {
		if textBuf != "" {
			parts = append(parts, map[string]interface{}{"text": textBuf})
			textBuf = ""
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if !bytes.HasPrefix([]byte(line), []byte("data: ")) {
			continue
		}
		data := line[len("data: "):]
		if data == "[DONE]" {
			break
		}
		unwrapped, err := UnwrapJSON([]byte(data))
		if err != nil {
			continue
		}
		var resp map[string]interface{}
		if err := json.Unmarshal(unwrapped, &resp); err != nil {
			continue
		}
		last = resp

		candidates, ok := resp["candidates"].([]interface{})
		if !ok || len(candidates) == 0 {
			continue
		}
		candidate, ok := candidates[0].(map[string]interface{})
		if !ok {
			continue
		}
		content, ok := candidate["content"].(map[string]interface{})
		if !ok {
			continue
		}
		cparts, ok := content["parts"].([]interface{})
		if !ok {
			continue
		}
		for _, p := range cparts {
			pm, ok := p.(map[string]interface{})
			if !ok {
				continue
			}
			if text, ok := pm["text"].(string); ok && pm["thought"] != true {
				textBuf += text
				continue
			}
			flush()
			parts = append(parts, pm)
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if last == nil {
		return json.Marshal(map[string]interface{}{
			"candidates": []interface{}{map[string]interface{}{"content": map[string]interface{}{"parts": []interface{}{}, "role": "model"}}},
		})
	}
	if len(parts) == 0 {
		parts = []interface{}{map[string]interface{}{"text": ""}}
	}
	if candidates, ok := last["candidates"].([]interface{}); ok && len(candidates) > 0 {
		if candidate, ok := candidates[0].(map[string]interface{}); ok {
			if content, ok := candidate["content"].(map[string]interface{}); ok {
				content["parts"] = parts
			}
		}
	}
	return json.Marshal(last)
}
