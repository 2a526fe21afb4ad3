// Package relay implements the relay-mode transport: the bridge opens an
// outbound WebSocket to a cloud relay and answers request envelopes,
// useful when inbound connections are blocked.
package relay

import "encoding/json"

// Envelope types.
const (
	TypeRPC  = "rpc"
	TypePing = "ping"
	TypePong = "pong"
)

// RPC methods the bridge answers.
const (
	MethodSaveTest     = "saveTest"
	MethodExecuteTest  = "executeTest"
	MethodGetTestFiles = "getTestFiles"
	MethodGetReports   = "getReports"
	MethodDeleteReport = "deleteReport"
	MethodDeleteTest   = "deleteTest"
	MethodPing         = "ping"

	// MethodFilesChanged is pushed by the bridge, unsolicited, when the
	// watched test directory changes.
	MethodFilesChanged = "testFilesChanged"
)

// Message is one wire envelope. id correlates a response with its
// request, so a dropped reply is detectable by absence rather than
// ambiguity.
type Message struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result any             `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}
