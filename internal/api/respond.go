package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pipewatch/pipewatch/pkg/configregistry"
	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

// envelope is the fixed response shape. Exactly one of Data and Error is
// set, keyed off Success.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func respond(c *gin.Context, code int, data any) {
	c.JSON(code, envelope{Success: true, Data: data})
}

// fail maps the error taxonomy onto status codes. Command rejections pass
// the orchestrator's message through verbatim so the dashboard can show
// the real reason.
func fail(c *gin.Context, err error) {
	var rejected *pipeline.CommandRejectedError
	if errors.As(err, &rejected) {
		c.JSON(http.StatusBadGateway, envelope{Success: false, Error: rejected.Message})
		return
	}

	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrNotFound), errors.Is(err, configregistry.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, pipeline.ErrEmptyConfig):
		code = http.StatusBadRequest
	case errors.Is(err, pipeline.ErrNoPendingChanges), errors.Is(err, pipeline.ErrAlreadyExists):
		code = http.StatusConflict
	case pipeline.IsTransient(err):
		code = http.StatusBadGateway
	}
	c.JSON(code, envelope{Success: false, Error: err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, envelope{Success: false, Error: msg})
}

func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, envelope{Success: false, Error: msg})
}
