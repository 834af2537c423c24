package cmd

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewCohortCtlCommand(strings.NewReader(""), &out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	cmd := NewCohortCtlCommand(strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	for _, path := range [][]string{
		{"submit"}, {"get"}, {"list"}, {"cancel"}, {"events"},
		{"persona", "list"}, {"persona", "update"}, {"persona", "tree"},
		{"cost", "summary"}, {"cost", "list"},
		{"batch", "list"}, {"batch", "get"},
		{"models"}, {"version"},
	} {
		found, _, err := cmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], found.Name())
	}
}

func TestListPrintsTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tasks", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"data":[{"id":"t1","status":"delivered","target_persona":"cfo","command":"Draft the budget","progress":1}],"total":1}`)
	}))
	defer srv.Close()

	out, err := execute(t, "list", "--server", srv.URL, "--token", "tok", "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "t1")
	assert.Contains(t, out, "delivered")
	assert.Contains(t, out, "100%")
}

func TestTokenFromEnvironment(t *testing.T) {
	t.Setenv("COHORT_API_TOKEN", "from-env")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer from-env", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"data":[],"total":0}`)
	}))
	defer srv.Close()

	_, err := execute(t, "models", "--server", srv.URL, "-o", "json")
	require.NoError(t, err)
}

func TestInvalidOutputIsRejected(t *testing.T) {
	_, err := execute(t, "list", "-o", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yaml")
}
