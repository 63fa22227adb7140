package main

import "golang.org/x/xerrors"

const (
	ErrMessageInternalError = "An internal error has occurred. Please report this to the console operator."
	ErrMessageLoginFailed   = "Login failed, please try again"
	ErrMessagePasswordEmpty = "Please enter your password!"
	ErrMessageUsernameEmpty = "Please enter your username!"
)

var ErrInvalidConfig = xerrors.New("invalid configuration")

type ServerError struct {
	Message    string
	StatusCode int
}

func NewServerError(statusCode int, message string) *ServerError {
	return &ServerError{StatusCode: statusCode, Message: message}
}

func (e *ServerError) Error() string {
	return e.Message
}
