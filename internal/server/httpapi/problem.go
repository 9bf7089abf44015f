package httpapi

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/modernapi/internal/common"
	"github.com/gin-gonic/gin"
)

const problemContentType = "application/problem+json"

const codeBadRequest = "bad_request"
const codeRateLimited = "rate_limited"

// Problem is an RFC 7807 problem details body with the stable error code and
// optional field errors.
type Problem struct {
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Status   int               `json:"status"`
	Detail   string            `json:"detail,omitempty"`
	Instance string            `json:"instance,omitempty"`
	Code     string            `json:"code"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// problemFor maps a service error onto a problem. Internal failures never
// expose their message.
func problemFor(err error) Problem {
	p := Problem{Type: "about:blank", Code: common.Code(err)}

	switch {
	case errors.Is(err, common.ErrInvalidCredentials):
		p.Status, p.Title, p.Detail = http.StatusUnauthorized, "Invalid credentials", "email or password is incorrect"
	case errors.Is(err, common.ErrTokenExpired):
		p.Status, p.Title, p.Detail = http.StatusUnauthorized, "Unauthorized", "token expired"
	case errors.Is(err, common.ErrorUnauthorized), errors.Is(err, common.ErrInvalidToken):
		p.Status, p.Title, p.Detail = http.StatusUnauthorized, "Unauthorized", "authentication required"
	case errors.Is(err, common.ErrValidation):
		p.Status, p.Title, p.Detail = http.StatusUnprocessableEntity, "Validation failed", "one or more fields are invalid"
		var ve *common.ValidationError
		if errors.As(err, &ve) {
			p.Errors = ve.Fields
		}
	case errors.Is(err, common.ErrVersionConflict):
		p.Status, p.Title, p.Detail = http.StatusConflict, "Conflict", "the resource was modified concurrently, retry the request"
		p.Code = common.CodeConflict
	case errors.Is(err, common.ErrConflict):
		p.Status, p.Title, p.Detail = http.StatusConflict, "Conflict", err.Error()
	case errors.Is(err, common.ErrInvalidOperation):
		p.Status, p.Title, p.Detail = http.StatusConflict, "Invalid operation", err.Error()
	case errors.Is(err, common.ErrorNotFound):
		p.Status, p.Title, p.Detail = http.StatusNotFound, "Not found", err.Error()
	default:
		p.Status, p.Title, p.Detail = http.StatusInternalServerError, "Internal server error", "an unexpected error occurred"
	}
	return p
}

func writeProblem(c *gin.Context, p Problem) {
	if p.Instance == "" {
		p.Instance = c.Request.URL.Path
	}
	if p.Status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", `Bearer realm="modernapi"`)
	}
	c.Header("Content-Type", problemContentType)
	c.AbortWithStatusJSON(p.Status, p)
}

func (s *Server) writeError(c *gin.Context, err error) {
	p := problemFor(err)
	if p.Status >= http.StatusInternalServerError {
		s.logger.Error(c.Request.Context(), "request failed", "path", c.Request.URL.Path, "error", err)
	}
	writeProblem(c, p)
}

func badRequest(c *gin.Context, detail string) {
	writeProblem(c, Problem{
		Type:   "about:blank",
		Title:  "Bad request",
		Status: http.StatusBadRequest,
		Detail: detail,
		Code:   codeBadRequest,
	})
}
