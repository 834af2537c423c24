// Package core writes the uniform HTTP reply envelope.
package core

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kiosk404/cohort/pkg/errorx"
	"github.com/kiosk404/cohort/pkg/logger"
)

// ErrResponse defines the return messages when an error occurred.
type ErrResponse struct {
	// Code defines the business error code.
	Code int `json:"code"`

	// Message contains the detail of this message.
	// This message is suitable to be exposed to external
	Message string `json:"message"`

	// Reference returns the reference document which maybe useful to solve this error.
	Reference string `json:"reference,omitempty"`
}

// WriteResponse writes an error or the response data into http response body.
// It uses errorx.ParseCoder to map any error into a business code and HTTP status.
func WriteResponse(c *gin.Context, err error, data interface{}) {
	if err != nil {
		coder := errorx.ParseCoder(err)
		logger.WithFields(logger.Fields{"code": coder.Code(), "path": c.Request.URL.Path}).Errorf("%v", err)
		c.JSON(coder.HTTPStatus(), ErrResponse{
			Code:      coder.Code(),
			Message:   coder.String(),
			Reference: coder.Reference(),
		})
		return
	}

	c.JSON(http.StatusOK, data)
}
