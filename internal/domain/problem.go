package domain

// ExceptionBase namespaces every problem type URI returned by the service.
const ExceptionBase = "https://ref.gs1.org/standards/epcis/exceptions#"

const (
	ValidationException           = "ValidationException"
	NoSuchNameException           = "NoSuchNameException"
	NoSuchResourceException       = "NoSuchResourceException"
	QueryTooComplexException      = "QueryTooComplexException"
	CaptureLimitExceededException = "CaptureLimitExceededException"
	TooManyRequests               = "TooManyRequests"
	ImplementationException       = "ImplementationException"
)

// Problem is an RFC 7807 problem details body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func NewProblem(exception, title string, status int, detail string) Problem {
	return Problem{
		Type:   ExceptionBase + exception,
		Title:  title,
		Status: status,
		Detail: detail,
	}
}
