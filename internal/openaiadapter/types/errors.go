package types

// Error is the OpenAI error object.
type Error struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    *string `json:"code"`
}

// ErrorResponse wraps Error in the {"error": {...}} envelope clients expect.
// Status overrides the HTTP status derived from the error type when non-zero.
type ErrorResponse struct {
	Err    Error `json:"error"`
	Status int   `json:"-"`
}

// Error implements the error interface for Error, returning the error message.
func (e *Error) Error() string {
	return e.Message
}

// Error implements the error interface for ErrorResponse, returning the underlying error message.
// This allows ErrorResponse to be used directly in error returns.
func (e *ErrorResponse) Error() string {
	return e.Err.Message
}
