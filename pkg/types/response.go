package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// PartialEnvelope carries a result that was committed alongside the reason it
// is incomplete.
type PartialEnvelope struct {
	Data  any      `json:"data"`
	Error APIError `json:"error"`
}
