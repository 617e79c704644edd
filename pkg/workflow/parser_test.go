package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScriptBasic(t *testing.T) {
	doc := `
Some free text before any step.

<step n="1" goal="First step">
  <action>Variable value is {{test_var}}</action>
</step>

random commentary between blocks

<step n="2" goal="Second step" optional="true">
  <output>done</output>
</step>
`
	script, err := ParseScript(doc)
	require.NoError(t, err)
	require.Len(t, script.Steps, 2)

	assert.Equal(t, 1, script.Steps[0].Number)
	assert.Equal(t, "First step", script.Steps[0].Goal)
	require.Len(t, script.Steps[0].Tags, 1)
	assert.Equal(t, TagAction, script.Steps[0].Tags[0].Kind)
	assert.Contains(t, script.Steps[0].Tags[0].Content, "{{test_var}}")

	assert.True(t, script.Steps[1].Optional)
}

func TestParseScriptRejectsGap(t *testing.T) {
	doc := `<step n="1" goal="a"><action>x</action></step><step n="3" goal="c"><action>y</action></step>`
	_, err := ParseScript(doc)
	require.Error(t, err)
}

func TestParseScriptCheckNesting(t *testing.T) {
	doc := `<step n="1" goal="a">
  <check if="flag is true">
    <action>nested action</action>
  </check>
</step>`
	script, err := ParseScript(doc)
	require.NoError(t, err)
	require.Len(t, script.Steps[0].Tags, 1)
	check := script.Steps[0].Tags[0]
	assert.Equal(t, TagCheck, check.Kind)
	require.Len(t, check.Children, 1)
	assert.Equal(t, TagAction, check.Children[0].Kind)
}

func TestParseScriptInvokeWorkflowSelfClosing(t *testing.T) {
	doc := `<step n="1" goal="a"><invoke-workflow path="{installed_path}/prd.md"/></step>`
	script, err := ParseScript(doc)
	require.NoError(t, err)
	require.Len(t, script.Steps[0].Tags, 1)
	assert.Equal(t, TagInvokeWorkflow, script.Steps[0].Tags[0].Kind)
	assert.Equal(t, "{installed_path}/prd.md", script.Steps[0].Tags[0].Path)
}

func TestParseScriptMissingStepsIsError(t *testing.T) {
	_, err := ParseScript("no steps here")
	require.Error(t, err)
}

func TestByNumber(t *testing.T) {
	script := &Script{Steps: []Step{{Number: 1}, {Number: 2}}}
	st, ok := script.ByNumber(2)
	require.True(t, ok)
	assert.Equal(t, 2, st.Number)

	_, ok = script.ByNumber(3)
	assert.False(t, ok)
}
