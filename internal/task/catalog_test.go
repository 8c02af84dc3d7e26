package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
)

func testProject() *model.Project {
	return &model.Project{
		ID:    "p1",
		Name:  "My Shop",
		Slug:  "my-shop",
		Path:  "/home/dev/my-shop",
		Ports: map[string]int{"web": 20010, "db": 20011},
	}
}

func TestDefaultCatalog_CoversEveryType(t *testing.T) {
	c := DefaultCatalog("")
	require.NoError(t, c.Validate())
	for _, typ := range model.TaskTypes() {
		assert.NotEmpty(t, c[typ].Command, typ.String())
	}
	assert.Equal(t, "docker", c[model.TaskInstallToolA].Command)
	assert.Equal(t, "podman", DefaultCatalog("podman")[model.TaskInstallToolB].Command)
}

func TestCatalog_Resolve(t *testing.T) {
	spec, err := DefaultCatalog("docker").Resolve(model.TaskSmokeTest, testProject())
	require.NoError(t, err)

	assert.Equal(t, "curl", spec.Command)
	assert.Equal(t, "http://127.0.0.1:20010/", spec.Args[len(spec.Args)-1])
	assert.Equal(t, "/home/dev/my-shop", spec.Dir)
	assert.Equal(t, 30*time.Second, spec.Timeout)

	spec, err = DefaultCatalog("docker").Resolve(model.TaskInstallToolA, testProject())
	require.NoError(t, err)
	assert.Equal(t, []string{"compose", "--project-name", "my-shop", "exec", "-T", "web", "sh", "-c", "npm install -g @anthropic-ai/claude-code"}, spec.Args)
	assert.Zero(t, spec.Timeout)
}

func TestCatalog_ResolveLeavesShellVariables(t *testing.T) {
	c := Catalog{model.TaskSmokeTest: {
		Command: "sh",
		Args:    []string{"-c", "echo $HOME ${name} ${path}"},
		Env:     map[string]string{"DB_PORT": "${port.db}"},
	}}

	spec, err := c.Resolve(model.TaskSmokeTest, testProject())
	require.NoError(t, err)
	assert.Equal(t, "echo $HOME My Shop /home/dev/my-shop", spec.Args[1])
	assert.Equal(t, map[string]string{"DB_PORT": "20011"}, spec.Env)
}

func TestCatalog_ResolveErrors(t *testing.T) {
	c := Catalog{model.TaskSmokeTest: {Command: "curl", Args: []string{"${port.mail}", "${unknown}"}}}

	_, err := c.Resolve(model.TaskSmokeTest, testProject())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port.mail")
	assert.Contains(t, err.Error(), "unknown")

	_, err = c.Resolve(model.TaskInstallToolA, testProject())
	assert.Error(t, err)
}

func TestCatalog_MergeAndValidate(t *testing.T) {
	base := DefaultCatalog("docker")
	merged := base.Merge(Catalog{model.TaskSmokeTest: {Command: "wget", Args: []string{"-q", "http://127.0.0.1:${port.web}/"}}})

	assert.Equal(t, "wget", merged[model.TaskSmokeTest].Command)
	assert.Equal(t, "curl", base[model.TaskSmokeTest].Command, "merge must not modify the receiver")

	err := Catalog{model.TaskSmokeTest: {Command: "curl"}}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "install-tool-a, install-tool-b")
}
