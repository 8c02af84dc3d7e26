package template

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
)

func TestDefaultCatalog_Services(t *testing.T) {
	tests := []struct {
		template model.Template
		services []string
	}{
		{model.TemplateBlank, []string{"web"}},
		{model.TemplateFrameworkApp, []string{"web", "db", "mail"}},
		{model.TemplateCMSApp, []string{"web", "db", "adminer"}},
	}

	c := DefaultCatalog()
	for _, tt := range tests {
		t.Run(tt.template.String(), func(t *testing.T) {
			got, err := c.Services(tt.template)
			require.NoError(t, err)
			assert.Equal(t, tt.services, got)

			def, err := c.Get(tt.template)
			require.NoError(t, err)
			assert.NoError(t, def.Validate())
		})
	}

	_, err := c.Services("wordpress")
	assert.Error(t, err)
}

func TestDefinition_Validate(t *testing.T) {
	web := Service{Name: "web", Image: "nginx", ContainerPort: 80}

	tests := []struct {
		name    string
		def     Definition
		wantErr string
	}{
		{"ok", Definition{Services: []Service{web}}, ""},
		{"empty", Definition{}, "no services"},
		{"bad name", Definition{Services: []Service{{Name: "Web_1", Image: "x", ContainerPort: 1}}}, "invalid name"},
		{"duplicate", Definition{Services: []Service{web, web}}, "defined twice"},
		{"no image", Definition{Services: []Service{{Name: "web", ContainerPort: 80}}}, "image is required"},
		{"bad port", Definition{Services: []Service{{Name: "web", Image: "x", ContainerPort: 70000}}}, "out of range"},
		{"unknown dependency", Definition{Services: []Service{{Name: "web", Image: "x", ContainerPort: 80, DependsOn: []string{"db"}}}}, "unknown service"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "templates.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestLoadCatalog_JSONC verifies that comments and trailing commas are
// accepted and only the named template is replaced.
func TestLoadCatalog_JSONC(t *testing.T) {
	path := writeManifest(t, `{
  // lighter blank stack
  "templates": {
    "blank": {
      "description": "nginx",
      "services": [
        {"name": "web", "image": "nginx:alpine", "containerPort": 80}, /* only one */
      ],
    },
  },
}`)

	c, err := LoadCatalog(path)
	require.NoError(t, err)

	blank, err := c.Get(model.TemplateBlank)
	require.NoError(t, err)
	assert.Equal(t, "nginx:alpine", blank.Services[0].Image)

	cms, err := c.Services(model.TemplateCMSApp)
	require.NoError(t, err)
	assert.Equal(t, []string{"web", "db", "adminer"}, cms)
}

func TestLoadCatalog_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.jsonc"))
		var cliErr *model.CLIError
		require.ErrorAs(t, err, &cliErr)
		assert.Equal(t, model.ExitValidation, cliErr.Code)
	})

	t.Run("unknown template", func(t *testing.T) {
		_, err := LoadCatalog(writeManifest(t, `{"templates": {"rails": {"services": [{"name": "web", "image": "x", "containerPort": 80}]}}}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rails")
	})

	t.Run("invalid definition", func(t *testing.T) {
		_, err := LoadCatalog(writeManifest(t, `{"templates": {"blank": {"services": []}}}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no services")
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := LoadCatalog(writeManifest(t, `{"templates": `))
		assert.Error(t, err)
	})
}

func TestLoadCatalog_EmptyPath(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Len(t, c, 3)
}
