package types

// Outcome is the envelope every business-facing endpoint returns. Data is set
// on success; Details carries structured error context when the code allows it.
type Outcome struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Details any    `json:"details,omitempty"`
}

// CodeOK is the code of every successful outcome.
const CodeOK = "OK"
