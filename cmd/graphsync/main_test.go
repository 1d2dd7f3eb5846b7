package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyCommand(t *testing.T) {
	tests := []struct {
		args    []string
		kind    string
		keyword string
	}{
		{[]string{"MATCH (u:User) RETURN u"}, "read", ""},
		{[]string{"MERGE", "(u:User {name: 'Ann'})"}, "mutation", "MERGE"},
		{[]string{"MATCH (u) DETACH DELETE u"}, "unsafe_mutation", "DELETE"},
		{[]string{"hello"}, "invalid", ""},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			var out bytes.Buffer
			cmd := newRootCmd()
			cmd.SetOut(&out)
			cmd.SetArgs(append([]string{"classify"}, tt.args...))
			require.NoError(t, cmd.Execute())

			var got map[string]interface{}
			require.NoError(t, json.Unmarshal(out.Bytes(), &got))
			assert.Equal(t, tt.kind, got["kind"])
			if tt.keyword != "" {
				assert.Contains(t, got["keyword"], tt.keyword)
			}
		})
	}
}

func TestMigrateTimestampsOnMemoryStore(t *testing.T) {
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"migrate-timestamps"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "stamped 0 entities and 0 relations\n", out.String())
}

func TestClassifyRequiresStatement(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"classify"})
	assert.Error(t, cmd.Execute())
}
