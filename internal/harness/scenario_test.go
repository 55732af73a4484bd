package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/todocheck/internal/identity"
	"github.com/roach88/todocheck/internal/locator"
	"github.com/roach88/todocheck/internal/verify"
)

const addTaskYAML = `name: add_task
description: Adding a task shows it under id text-1
timeout: 3s
tags: [smoke]
steps:
  - action: fill
    target: { id: new-task }
    value: Write test plan
  - action: click
    target: { css: button, nth: 0 }
    effect: create
    timeout: 500ms
  - action: navigate
    tab: todo
  - action: assert
    target: { task: 1 }
    expect: { text: Write test plan }
`

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_Valid(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "add.yaml", addTaskYAML)

	sc, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "add_task", sc.Name)
	assert.Equal(t, path, sc.Path)
	assert.Equal(t, 3*time.Second, sc.Timeout)
	assert.Equal(t, []string{"smoke"}, sc.Tags)
	require.Len(t, sc.Steps, 4)

	assert.Equal(t, ActionFill, sc.Steps[0].Action)
	assert.Equal(t, "new-task", sc.Steps[0].Target.ID)
	assert.Equal(t, "Write test plan", sc.Steps[0].Value)

	click := sc.Steps[1]
	assert.Equal(t, EffectCreate, click.Effect)
	require.NotNil(t, click.Target.Nth)
	assert.Equal(t, 0, *click.Target.Nth)
	assert.Equal(t, 500*time.Millisecond, click.Timeout)

	assert.Equal(t, TabTodo, sc.Steps[2].Tab)
	assert.Equal(t, 1, sc.Steps[3].Target.Task)
	require.NotNil(t, sc.Steps[3].Expect.Text)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_SchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "unknown field",
			yaml: "name: x\ndescription: d\nsteps:\n  - action: reset\n    colour: red\n",
		},
		{
			name: "unknown action",
			yaml: "name: x\ndescription: d\nsteps:\n  - action: hover\n",
		},
		{
			name: "missing name",
			yaml: "description: d\nsteps:\n  - action: reset\n",
		},
		{
			name: "empty steps",
			yaml: "name: x\ndescription: d\nsteps: []\n",
		},
		{
			name: "visible false",
			yaml: "name: x\ndescription: d\nsteps:\n  - action: assert\n    target: { css: h1 }\n    expect: { visible: false }\n",
		},
		{
			name: "bad duration",
			yaml: "name: x\ndescription: d\ntimeout: soon\nsteps:\n  - action: reset\n",
		},
		{
			name: "unknown tab",
			yaml: "name: x\ndescription: d\nsteps:\n  - action: navigate\n    tab: archive\n",
		},
		{
			name: "negative count",
			yaml: "name: x\ndescription: d\nsteps:\n  - action: assert\n    target: { css: li }\n    expect: { count: -1 }\n",
		},
		{
			name: "upper case name",
			yaml: "name: AddTask\ndescription: d\nsteps:\n  - action: reset\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario("bad.yaml", []byte(tt.yaml))
			require.Error(t, err)

			var se *SchemaError
			require.ErrorAs(t, err, &se)
			assert.Contains(t, err.Error(), "invalid scenario")
		})
	}
}

func TestParseScenario_SchemaErrorPosition(t *testing.T) {
	_, err := ParseScenario("pos.yaml", []byte("name: x\ndescription: d\nsteps:\n  - action: reset\n  - action: jump\n"))

	var se *SchemaError
	require.ErrorAs(t, err, &se)
	if se.Pos.IsValid() && se.Pos.Filename() == "pos.yaml" {
		assert.Equal(t, 5, se.Pos.Line())
	}
}

func TestParseScenario_SemanticErrors(t *testing.T) {
	tests := []struct {
		name    string
		steps   string
		wantErr string
	}{
		{
			name:    "reset not first",
			steps:   "  - action: navigate\n    tab: todo\n  - action: reset\n",
			wantErr: "steps[1]: reset is only allowed as the first step",
		},
		{
			name:    "task before create",
			steps:   "  - action: assert\n    target: { task: 1 }\n    expect: { visible: true }\n",
			wantErr: "steps[0]: task 1: task not created",
		},
		{
			name:    "toggle before create",
			steps:   "  - action: click\n    target: { css: span }\n    effect: toggle\n    task: 2\n",
			wantErr: "steps[0]: task 2: task not created",
		},
		{
			name:    "two expectations",
			steps:   "  - action: assert\n    target: { css: h1 }\n    expect: { visible: true, text: hi }\n",
			wantErr: "expect needs exactly one condition, got 2",
		},
		{
			name:    "title with target",
			steps:   "  - action: assert\n    target: { css: h1 }\n    expect: { title: T }\n",
			wantErr: "title is page-level and takes no target",
		},
		{
			name:    "count without target",
			steps:   "  - action: assert\n    expect: { count: 0 }\n",
			wantErr: "count needs a target",
		},
		{
			name:    "value on click",
			steps:   "  - action: click\n    target: { css: button }\n    value: x\n",
			wantErr: "value is only valid on fill",
		},
		{
			name:    "effect on fill",
			steps:   "  - action: fill\n    target: { id: new-task }\n    effect: create\n",
			wantErr: "effect is only valid on click",
		},
		{
			name:    "delete without task",
			steps:   "  - action: click\n    target: { css: .delete }\n    effect: delete\n",
			wantErr: "click: delete needs task or a task target",
		},
		{
			name:    "two locator keys",
			steps:   "  - action: click\n    target: { id: a, css: b }\n",
			wantErr: "target: locator sets id, css; exactly one is allowed",
		},
		{
			name:    "fill without target",
			steps:   "  - action: fill\n    value: x\n",
			wantErr: "fill: target is required",
		},
		{
			name:    "double delete",
			steps:   "  - action: click\n    target: { css: button }\n    effect: create\n  - action: click\n    target: { css: .delete }\n    effect: delete\n    task: 1\n  - action: click\n    target: { css: .delete }\n    effect: delete\n    task: 1\n",
			wantErr: "steps[2]: task 1: unsupported task transition: already deleted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yaml := "name: x\ndescription: d\nsteps:\n" + tt.steps
			_, err := ParseScenario("x.yaml", []byte(yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseScenario_DeletedTaskStaysAddressable(t *testing.T) {
	yaml := `name: x
description: d
steps:
  - action: click
    target: { css: button }
    effect: create
  - action: click
    target: { css: .delete }
    effect: delete
    task: 1
  - action: assert
    target: { task: 1 }
    expect: { count: 0 }
`
	_, err := ParseScenario("x.yaml", []byte(yaml))
	require.NoError(t, err)
}

func TestParseScenario_ToggleTwiceLoads(t *testing.T) {
	// Whether un-completing is allowed depends on the profile, so it is
	// decided when the scenario runs.
	yaml := `name: x
description: d
steps:
  - action: click
    target: { css: button }
    effect: create
  - action: click
    target: { task: 1 }
    effect: toggle
  - action: click
    target: { task: 1 }
    effect: toggle
`
	_, err := ParseScenario("x.yaml", []byte(yaml))
	require.NoError(t, err)
}

func TestScenario_Validate(t *testing.T) {
	sc := &Scenario{Name: "x", Description: "d"}
	assert.EqualError(t, sc.Validate(), "steps must not be empty")

	sc.Steps = []Step{{Action: ActionNavigate, Tab: TabTodo}}
	assert.NoError(t, sc.Validate())

	sc.Steps[0].Timeout = -time.Second
	assert.EqualError(t, sc.Validate(), "steps[0]: timeout must not be negative")
}

func TestExpectation_Condition(t *testing.T) {
	str := func(s string) *string { return &s }
	yes := true
	two := 2

	tests := []struct {
		name   string
		expect Expectation
		want   verify.Condition
	}{
		{name: "visible", expect: Expectation{Visible: &yes}, want: verify.IsVisible()},
		{name: "text", expect: Expectation{Text: str("a")}, want: verify.HasExactText("a")},
		{name: "contains", expect: Expectation{Contains: str("a")}, want: verify.ContainsText("a")},
		{name: "count", expect: Expectation{Count: &two}, want: verify.HasCount(2)},
		{name: "empty value", expect: Expectation{Value: str("")}, want: verify.HasValue("")},
		{name: "title", expect: Expectation{Title: str("T")}, want: verify.HasTitle("T")},
		{name: "url", expect: Expectation{URL: str("{base_url}#todo")}, want: verify.HasURL("https://app.test/#todo")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.expect.Condition("https://app.test/")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := (&Expectation{}).Condition("")
	assert.EqualError(t, err, "expect needs exactly one condition, got 0")
}

func TestStep_Label(t *testing.T) {
	target := locator.CSS("button").At(0)
	assert.Equal(t, "navigate todo", Step{Action: ActionNavigate, Tab: TabTodo}.Label())
	assert.Equal(t, "click css(button)[0]", Step{Action: ActionClick, Target: &target}.Label())
	assert.Equal(t, "add it", Step{Action: ActionClick, Name: "add it"}.Label())
	assert.Equal(t, "reset", Step{Action: ActionReset}.Label())
}

func TestStep_EffectTask(t *testing.T) {
	assert.Equal(t, 3, Step{Task: 3}.EffectTask())
	assert.Equal(t, 0, Step{}.EffectTask())

	sc, err := ParseScenario("x.yaml", []byte(addTaskYAML))
	require.NoError(t, err)
	assert.Equal(t, 1, sc.Steps[3].EffectTask())
	assert.ErrorIs(t, dryRunIdentity(&Scenario{Steps: []Step{{Action: ActionClick, Effect: EffectToggle, Task: 1}}}, true), identity.ErrNotCreated)
}

func TestFindScenarioFiles(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "add.yaml", addTaskYAML)
	writeScenario(t, dir, "nested/delete.yml", addTaskYAML)
	writeScenario(t, dir, "notes.txt", "not a scenario")

	files, err := FindScenarioFiles([]string{dir}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "add.yaml"), filepath.Join(dir, "nested", "delete.yml")}, files)

	files, err = FindScenarioFiles([]string{dir}, "del*")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "nested", "delete.yml")}, files)

	// An explicit file is still subject to the filter.
	files, err = FindScenarioFiles([]string{filepath.Join(dir, "add.yaml")}, "del*")
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = FindScenarioFiles([]string{filepath.Join(dir, "missing")}, "")
	var nf *ScenarioNotFoundError
	require.ErrorAs(t, err, &nf)

	_, err = FindScenarioFiles([]string{dir}, "[")
	assert.ErrorContains(t, err, "invalid filter pattern")
}

func TestValidateScenarios_AggregatesFailures(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "a_good.yaml", addTaskYAML)
	writeScenario(t, dir, "b_bad.yaml", "name: bad\ndescription: d\nsteps:\n  - action: fly\n")
	writeScenario(t, dir, "c_dup.yaml", addTaskYAML)

	result, err := ValidateScenarios([]string{dir}, "")
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 1, result.Valid)
	assert.Equal(t, 2, result.Invalid)
	require.Len(t, result.Failures, 2)
	assert.Equal(t, filepath.Join(dir, "b_bad.yaml"), result.Failures[0].Path)
	assert.Contains(t, result.Failures[1].Error, `duplicate scenario name "add_task"`)
	require.Len(t, result.Scenarios, 1)

	_, err = LoadScenarios([]string{dir}, "")
	assert.ErrorContains(t, err, "b_bad.yaml")

	scenarios, err := LoadScenarios([]string{dir}, "a_*")
	require.NoError(t, err)
	require.Len(t, scenarios, 1)
	assert.Equal(t, "add_task", scenarios[0].Name)
}

func TestValidateScenarios_CheckToggles(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "add.yaml", addTaskYAML)
	writeScenario(t, dir, "flip.yaml", toggleTwiceYAML)

	result, err := ValidateScenarios([]string{dir}, "")
	require.NoError(t, err)
	require.Equal(t, 2, result.Valid, "loading alone accepts a toggle back")

	result.CheckToggles(false)
	assert.Equal(t, 1, result.Valid)
	assert.Equal(t, 1, result.Invalid)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, filepath.Join(dir, "flip.yaml"), result.Failures[0].Path)
	assert.Contains(t, result.Failures[0].Error, "steps[5]")
	assert.Contains(t, result.Failures[0].Error, "completed -> incomplete")
	require.Len(t, result.Scenarios, 1)
	assert.Equal(t, "add_task", result.Scenarios[0].Name)

	allowed, err := ValidateScenarios([]string{dir}, "")
	require.NoError(t, err)
	allowed.CheckToggles(true)
	assert.Equal(t, 2, allowed.Valid)
	assert.Empty(t, allowed.Failures)
}
