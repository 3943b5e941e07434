/*
Copyright 2022-2023 EscherCloud.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package skylet

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
)

// decodeCommand parses the exec handshake frame, a JSON string array;
// anything unparseable falls back to a shell.
func decodeCommand(frame []byte) []string {
	var command []string

	if err := json.Unmarshal(frame, &command); err != nil || len(command) == 0 {
		return []string{"/bin/sh"}
	}

	return command
}

func exitMessage(code int) string {
	return fmt.Sprintf("exit %d", code)
}

// websocketReader adapts inbound websocket frames to io.Reader for the
// exec session's stdin.
type websocketReader struct {
	conn   *websocket.Conn
	buffer []byte
}

func (r *websocketReader) Read(p []byte) (int, error) {
	if len(r.buffer) == 0 {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			return 0, err
		}

		r.buffer = data
	}

	n := copy(p, r.buffer)
	r.buffer = r.buffer[n:]

	return n, nil
}

// websocketWriter adapts the exec session's output to binary websocket
// frames.
type websocketWriter struct {
	conn *websocket.Conn
}

func (w *websocketWriter) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}

	return len(p), nil
}
