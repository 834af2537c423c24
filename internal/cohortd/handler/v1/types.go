package v1

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	batchentity "github.com/kiosk404/cohort/internal/cohortd/service/batch/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/entity"
	ledgerentity "github.com/kiosk404/cohort/internal/cohortd/service/ledger/domain/entity"
)

// SubmitTaskRequest is the body of POST /v1/tasks.
type SubmitTaskRequest struct {
	Command string `json:"command" binding:"required"`
	// Target is a persona id, or "auto" to let the coordinator route.
	Target string `json:"target,omitempty"`
	Mode   string `json:"mode,omitempty"`
}

// SubmitTaskResponse acknowledges an accepted command.
type SubmitTaskResponse struct {
	ID     string            `json:"id"`
	Status entity.TaskStatus `json:"status"`
}

// TaskResponse is a task with its plan, its output rendered as markdown and its spend.
type TaskResponse struct {
	*entity.Task
	Delegation *entity.Delegation `json:"delegation,omitempty"`
	Markdown   string             `json:"markdown,omitempty"`
	Cost       float64            `json:"cost"`
}

// ListResponse wraps every collection reply.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

func listOf[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Data: items, Total: len(items)}
}

// CostSummaryResponse groups spend by one dimension.
type CostSummaryResponse struct {
	GroupBy ledgerentity.GroupBy    `json:"group_by"`
	Groups  []*ledgerentity.Summary `json:"groups"`
	Total   float64                 `json:"total"`
}

// BatchJobResponse is a job with its members.
type BatchJobResponse struct {
	*batchentity.BatchJob
	Members []*batchentity.Member `json:"members"`
}

// multi splits repeated and comma separated query values.
func multi(c *gin.Context, key string) []string {
	var out []string
	for _, v := range c.QueryArray(key) {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func queryBool(c *gin.Context, key string) (*bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// queryTime accepts RFC 3339 timestamps or a duration back from now
// ("24h", "7d").
func queryTime(c *gin.Context, key string, now time.Time) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil {
			return now.AddDate(0, 0, -n), nil
		}
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return now.Add(-d), nil
	}
	return time.Parse(time.RFC3339, raw)
}
