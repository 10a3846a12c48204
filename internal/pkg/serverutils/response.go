package serverutils

type Response[T any] struct {
	Success  bool     `json:"success"`
	Code     int      `json:"code"`
	Message  string   `json:"message"`
	Data     T        `json:"data,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func SuccessResponse[T any](message string, data T) *Response[T] {
	return &Response[T]{
		Success: true,
		Code:    200,
		Message: message,
		Data:    data,
	}
}

// WarningResponse is a success that completed with non-fatal cleanup issues.
func WarningResponse[T any](message string, data T, warnings []string) *Response[T] {
	res := SuccessResponse(message, data)
	res.Warnings = warnings
	return res
}

func ErrorResponse(code int, message string) *Response[any] {
	return &Response[any]{
		Success: false,
		Code:    code,
		Message: message,
	}
}
