package response

// FieldError points an error at one request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Response represents a standard API response format
type Response struct {
	Status     string       `json:"status"`      // "success" or "error"
	StatusCode int          `json:"status_code"` // HTTP status code
	Data       interface{}  `json:"data,omitempty"`
	Error      string       `json:"error,omitempty"`
	Errors     []FieldError `json:"errors,omitempty"`
}

// Page wraps a paginated list.
type Page struct {
	Items interface{} `json:"items"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

// Success returns a standard success response wrapping the data
func Success(statusCode int, data interface{}) Response {
	return Response{
		Status:     "success",
		StatusCode: statusCode,
		Data:       data,
	}
}

// Error returns a standard error response wrapping the error message
func Error(statusCode int, err string) Response {
	return Response{
		Status:     "error",
		StatusCode: statusCode,
		Error:      err,
	}
}

// Invalid returns an error response listing the offending fields.
func Invalid(statusCode int, err string, fields []FieldError) Response {
	r := Error(statusCode, err)
	r.Errors = fields
	return r
}
