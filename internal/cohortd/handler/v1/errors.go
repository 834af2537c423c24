package v1

import (
	"errors"
	"net/http"

	"github.com/kiosk404/cohort/internal/pkg/errno"
	"github.com/kiosk404/cohort/pkg/errorx"
)

// cohortd handler error codes.
// Code format: 1XXYYZ
//   - 1:  module prefix (cohortd handler)
//   - XX: resource group (00=common, 01=tasks, 02=personas, 03=costs, 04=batches, 05=models)
//   - YY: sequential error number
//   - Z:  reserved (0)

const (
	// Common request errors (100xxx).
	ErrBind       = 100001
	ErrValidation = 100002

	// Task errors (1001xx).
	ErrTaskSubmit   = 100101
	ErrTaskNotFound = 100102
	ErrTaskList     = 100103
	ErrTaskCancel   = 100104
	ErrTaskTerminal = 100105
	ErrTaskEvents   = 100106
	ErrTaskRejected = 100107

	// Persona errors (1002xx).
	ErrPersonaNotFound = 100201
	ErrPersonaUpdate   = 100202
	ErrPersonaInvalid  = 100203

	// Cost errors (1003xx).
	ErrCostQuery   = 100301
	ErrCostGroupBy = 100302

	// Batch errors (1004xx).
	ErrBatchNotFound = 100401
	ErrBatchList     = 100402

	// Model errors (1005xx).
	ErrModelList = 100501
)

func init() {
	// Common.
	errorx.MustRegister(newCoder(ErrBind, http.StatusBadRequest, "Request body binding failed"))
	errorx.MustRegister(newCoder(ErrValidation, http.StatusBadRequest, "Request validation failed"))

	// Tasks.
	errorx.MustRegister(newCoder(ErrTaskSubmit, http.StatusInternalServerError, "Failed to submit task"))
	errorx.MustRegister(newCoder(ErrTaskNotFound, http.StatusNotFound, "Task not found"))
	errorx.MustRegister(newCoder(ErrTaskList, http.StatusInternalServerError, "Failed to list tasks"))
	errorx.MustRegister(newCoder(ErrTaskCancel, http.StatusInternalServerError, "Failed to cancel task"))
	errorx.MustRegister(newCoder(ErrTaskTerminal, http.StatusConflict, "Task already finished"))
	errorx.MustRegister(newCoder(ErrTaskEvents, http.StatusInternalServerError, "Failed to read task events"))
	errorx.MustRegister(newCoder(ErrTaskRejected, http.StatusUnprocessableEntity, "Task rejected by configuration"))

	// Personas.
	errorx.MustRegister(newCoder(ErrPersonaNotFound, http.StatusNotFound, "Persona not found"))
	errorx.MustRegister(newCoder(ErrPersonaUpdate, http.StatusInternalServerError, "Failed to update persona"))
	errorx.MustRegister(newCoder(ErrPersonaInvalid, http.StatusUnprocessableEntity, "Persona update rejected"))

	// Costs.
	errorx.MustRegister(newCoder(ErrCostQuery, http.StatusInternalServerError, "Failed to query cost records"))
	errorx.MustRegister(newCoder(ErrCostGroupBy, http.StatusBadRequest, "Unknown cost grouping"))

	// Batches.
	errorx.MustRegister(newCoder(ErrBatchNotFound, http.StatusNotFound, "Batch job not found"))
	errorx.MustRegister(newCoder(ErrBatchList, http.StatusInternalServerError, "Failed to list batch jobs"))

	// Models.
	errorx.MustRegister(newCoder(ErrModelList, http.StatusInternalServerError, "Failed to list models"))
}

type coder struct {
	code int
	http int
	msg  string
}

func newCoder(code, httpStatus int, msg string) *coder {
	return &coder{code: code, http: httpStatus, msg: msg}
}

func (c *coder) Code() int         { return c.code }
func (c *coder) HTTPStatus() int   { return c.http }
func (c *coder) String() string    { return c.msg }
func (c *coder) Reference() string { return "" }

// codeFor picks the most specific code for a domain error, falling back to def.
func codeFor(err error, def int) int {
	switch {
	case errors.Is(err, errno.ErrTaskNotFound):
		return ErrTaskNotFound
	case errors.Is(err, errno.ErrTaskTerminal):
		return ErrTaskTerminal
	case errors.Is(err, errno.ErrPersonaNotFound):
		return ErrPersonaNotFound
	case errors.Is(err, errno.ErrJobNotFound):
		return ErrBatchNotFound
	}
	return def
}
