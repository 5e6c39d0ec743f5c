package phasegraph

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const linearYAML = `
id: linear
name: Linear analysis
phases:
  - id: A
    type: linear
    worker_role: clarifier
    content_ref: phases/clarify.md
    next: B
  - id: B
    type: linear
    worker_role: generator
    predecessors: [A]
    next: C
  - id: C
    type: linear
    worker_role: analyst
    predecessors: [B]
    next: D
    min_output_tokens: 20
  - id: D
    type: linear
    worker_role: synthesizer
    predecessor_mode: multi
    predecessors: [B, C]
  - id: R
    type: linear
    worker_role: researcher
    predecessor_mode: single
routes:
  research: R
`

const reviewTOML = `
id = "review"

[routes]
analysis = "T"

[[phases]]
id = "draft"
type = "linear"
worker_role = "generator"
next = "check"

[[phases]]
id = "check"
type = "remediation"
worker_role = "critic"
predecessors = ["draft"]
max_iterations = 2
remediation_target = "draft"

[[phases]]
id = "T"
type = "linear"
worker_role = "analyst"
predecessor_mode = "single"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFile_YAML(t *testing.T) {
	def, err := LoadFile(writeFile(t, "linear.yaml", linearYAML))
	require.NoError(t, err)

	assert.Equal(t, "linear", def.ID)
	require.Len(t, def.Phases, 5)
	assert.Equal(t, "phases/clarify.md", def.Phases[0].ContentRef)
	assert.Equal(t, 20, def.Phases[2].MinOutputTokens)
	assert.Equal(t, "R", def.Routes.Research)

	compiled, err := def.Compile()
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, compiled.Chain())
}

func TestLoadFile_TOML(t *testing.T) {
	def, err := LoadFile(writeFile(t, "review.toml", reviewTOML))
	require.NoError(t, err)

	assert.Equal(t, "review", def.ID)
	require.Len(t, def.Phases, 3)
	assert.Equal(t, PhaseRemediation, def.Phases[1].Type)
	assert.Equal(t, 2, def.Phases[1].MaxIterations)
	assert.Equal(t, "T", def.Routes.Analysis)
	require.NoError(t, Validate(def))
}

func TestLoadFile_RejectsUnknownKeys(t *testing.T) {
	_, err := LoadFile(writeFile(t, "bad.yaml", linearYAML+"extra: true\n"))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "bad.toml", "color = \"red\"\n"+reviewTOML))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown keys")
}

func TestLoadFile_UnsupportedExtension(t *testing.T) {
	_, err := LoadFile(writeFile(t, "flow.json", "{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported definition format")
}

func TestLoadFile_TooLarge(t *testing.T) {
	big := "id: big\ndescription: " + strings.Repeat("x", maxDefinitionSize) + "\n"
	_, err := LoadFile(writeFile(t, "big.yaml", big))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}
