package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind classifies an Error independently of its HTTP code.
type Kind string

const (
	KindValidation             Kind = "validation"
	KindNotFound               Kind = "not_found"
	KindConflict               Kind = "conflict"
	KindConstraintViolation    Kind = "constraint_violation"
	KindGatewayDeclined        Kind = "gateway_declined"
	KindGatewayUnavailable     Kind = "gateway_unavailable"
	KindReconciliationRequired Kind = "reconciliation_required"
	KindSignatureInvalid       Kind = "signature_invalid"
	KindUnauthorized           Kind = "unauthorized"
	KindForbidden              Kind = "forbidden"
	KindInternal               Kind = "internal"
)

// Error represents an application error
type Error struct {
	Code    int            `json:"code"`
	Kind    Kind           `json:"-"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"-"`
	Err     error          `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// With attaches a client-safe extra field rendered next to the message.
func (e *Error) With(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// Body is the JSON payload sent to clients. The wrapped error never leaves the process.
func (e *Error) Body() gin.H {
	body := gin.H{"message": e.Message}
	for k, v := range e.Fields {
		body[k] = v
	}
	return body
}

// JSON returns the error as a JSON string
func (e *Error) JSON() string {
	b, _ := json.Marshal(e.Body())
	return string(b)
}

// New creates a new Error
func New(code int, message string, err error) *Error {
	return &Error{
		Code:    code,
		Kind:    kindForCode(code),
		Message: message,
		Err:     err,
	}
}

func kindForCode(code int) Kind {
	switch code {
	case http.StatusBadRequest:
		return KindValidation
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	default:
		return KindInternal
	}
}

func newKind(code int, kind Kind, message string, err error) *Error {
	return &Error{Code: code, Kind: kind, Message: message, Err: err}
}

func Validation(message string) *Error {
	return newKind(http.StatusBadRequest, KindValidation, message, nil)
}

func NotFound(message string) *Error {
	return newKind(http.StatusNotFound, KindNotFound, message, nil)
}

func Conflict(message string) *Error {
	return newKind(http.StatusConflict, KindConflict, message, nil)
}

func ConstraintViolation(message string, err error) *Error {
	return newKind(http.StatusConflict, KindConstraintViolation, message, err)
}

func Unauthorized(message string) *Error {
	return newKind(http.StatusUnauthorized, KindUnauthorized, message, nil)
}

func Forbidden(message string) *Error {
	return newKind(http.StatusForbidden, KindForbidden, message, nil)
}

func Internal(message string, err error) *Error {
	return newKind(http.StatusInternalServerError, KindInternal, message, err)
}

// GatewayDeclined is returned when the payment provider answered with a
// non-success status. No order exists for the attempt.
func GatewayDeclined(message string, err error) *Error {
	return newKind(http.StatusBadRequest, KindGatewayDeclined, message, err)
}

// GatewayUnavailable means the provider outcome is unknown; the client may
// retry with the same attempt key.
func GatewayUnavailable(message string, err error) *Error {
	return newKind(http.StatusBadGateway, KindGatewayUnavailable, message, err)
}

// ReconciliationRequired reports money captured without a persisted order.
func ReconciliationRequired(token string, err error) *Error {
	return newKind(http.StatusInternalServerError, KindReconciliationRequired,
		"Payment succeeded but order saving failed", err).With("reconciliationToken", token)
}

func SignatureInvalid(err error) *Error {
	return newKind(http.StatusBadRequest, KindSignatureInvalid, "Webhook signature verification failed", err)
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

// HandleError writes err to a plain http.ResponseWriter.
func HandleError(w http.ResponseWriter, err error) {
	appErr, ok := As(err)
	if !ok {
		appErr = Internal("Internal server error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Code)
	_, _ = w.Write([]byte(appErr.JSON()))
}

// ErrorMiddleware renders the last error attached with c.Error.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		appErr, ok := As(err)
		if !ok {
			appErr = Internal("Internal server error", err)
		}
		c.AbortWithStatusJSON(appErr.Code, appErr.Body())
	}
}
