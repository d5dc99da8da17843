package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-coopvec/internal/results"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestListGroups(t *testing.T) {
	out, err := execute(t, "list")
	require.NoError(t, err)
	for _, g := range []string{"basic", "matmul", "training", "layoutconvert", "typeconvert"} {
		assert.Contains(t, out, g)
	}
	assert.Contains(t, out, "GROUP")
}

func TestListCases(t *testing.T) {
	out, err := execute(t, "ls", "--cases", "typeconvert.host")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 10)
	assert.Contains(t, out, "typeconvert.host.float16tofloat16\t")
	assert.NotContains(t, out, "typeconvert.device.")
}

func TestShader(t *testing.T) {
	out, err := execute(t, "shader", "basic.add.float32_float32.buffer.components5.compute")
	require.NoError(t, err)
	assert.Contains(t, out, "#version 460 core")
	assert.Contains(t, out, "specialization constants")

	_, err = execute(t, "shader", "basic.add")
	assert.ErrorContains(t, err, "no case named")

	_, err = execute(t, "shader", "typeconvert.host.float16tofloat16")
	assert.ErrorContains(t, err, "has no program")
}

func TestRunWritesResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.arrow")
	out, err := execute(t, "run", "typeconvert.host.float16tofloat16", "--workers", "1", "--results", path,
		"--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "results written to "+path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rs, err := results.ReadFile(f)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "typeconvert.host.float16tofloat16", rs[0].Name)
	assert.Equal(t, "typeconvert", rs[0].Group)
	assert.Equal(t, results.Pass, rs[0].Status)
}

func TestRunNoMatch(t *testing.T) {
	_, err := execute(t, "run", "nosuchgroup", "--log-level", "error")
	assert.ErrorContains(t, err, `no cases match "nosuchgroup"`)
}

func TestInvalidSettings(t *testing.T) {
	_, err := execute(t, "list", "--set", "workers")
	assert.ErrorContains(t, err, "must be key=value")

	_, err = execute(t, "list", "--log-level", "loud")
	assert.ErrorContains(t, err, "invalid log_level")

	_, err = execute(t, "run", "--results", "out.csv")
	assert.ErrorContains(t, err, ".arrow")
}

func TestSkipped(t *testing.T) {
	assert.Equal(t, "", skipped(nil))
	assert.Equal(t, "a=1 b=2", skipped(map[string]int{"b": 2, "a": 1}))
	assert.Equal(t, "basic.add", prefixWithin("basic", "basic.add"))
	assert.Equal(t, "basic", prefixWithin("basic", "ba"))
}
