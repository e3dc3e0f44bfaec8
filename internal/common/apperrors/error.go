package apperrors

// Error is the error type used across the registry. Errors form a chain:
// a package declares a small set of base errors and derives request-scoped
// errors from them with New, so errors.Is matches anywhere up the chain.
// The embedded status code is used by the HTTP layer when the error
// crosses the API boundary.
type Error interface {
	Error() string
	ErrorAll() string
	New(msg string) Error
	Msg(msg string) Error
	MsgErr(msg string, err ...error) Error
	Err(err ...error) Error
	Unwrap() []error
	Is(target error) bool
	SetExpandError(expand bool) Error
	SetStatusCode(code int) Error
	StatusCode() int
}
