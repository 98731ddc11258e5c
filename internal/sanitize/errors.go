package sanitize

// Safe user-facing error codes. Internal failure detail is logged server-side
// and mapped through SafeMessage before it reaches a caller.
const (
	CodeDuplicate        = "duplicate"
	CodeInvalidReference = "invalid_reference"
	CodeNotFound         = "not_found"
	CodePermissionDenied = "permission_denied"
	CodeTooManyRequests  = "rate_limit_exceeded"
	CodeInternal         = "internal_error"
)

var safeMessages = map[string]string{
	CodeDuplicate:        "a matching record already exists",
	CodeInvalidReference: "the supplied reference is invalid",
	CodeNotFound:         "the requested record was not found",
	CodePermissionDenied: "permission denied",
	CodeTooManyRequests:  "too many requests, retry later",
	CodeInternal:         "an internal error occurred",
}

// SafeMessage returns the generic phrase for a code. Unknown codes degrade to
// the internal-error phrase so raw detail can never leak through this path.
func SafeMessage(code string) string {
	if m, ok := safeMessages[code]; ok {
		return m
	}
	return safeMessages[CodeInternal]
}
