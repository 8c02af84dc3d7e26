// Package template describes the service layout of each project template
// and renders it into a Docker Compose project.
//
// The built-in catalog can be overridden per template by a manifest file.
// Manifests are JSON with comments, the same dialect devcontainer.json
// uses, so they are stripped with github.com/tidwall/jsonc before parsing.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/tidwall/jsonc"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
)

// Service is one container of a template's stack.
type Service struct {
	Name          string            `json:"name"`
	Image         string            `json:"image"`
	Command       []string          `json:"command,omitempty"`
	ContainerPort int               `json:"containerPort"`
	Environment   map[string]string `json:"environment,omitempty"`
	Volumes       []string          `json:"volumes,omitempty"`
	DependsOn     []string          `json:"dependsOn,omitempty"`
}

// Definition is the stack of one template.
type Definition struct {
	Description string    `json:"description,omitempty"`
	Services    []Service `json:"services"`
}

// ServiceNames returns the service names in declaration order.
func (d Definition) ServiceNames() []string {
	names := make([]string, len(d.Services))
	for i, s := range d.Services {
		names[i] = s.Name
	}
	return names
}

// Validate checks that the definition can be rendered: at least one
// service, unique valid names, an image and a container port each, and
// dependencies that point at services of the same stack.
func (d Definition) Validate() error {
	if len(d.Services) == 0 {
		return errors.New("no services defined")
	}
	seen := make(map[string]bool, len(d.Services))
	for _, s := range d.Services {
		if err := model.ValidateSlug(s.Name); err != nil {
			return fmt.Errorf("service %q: invalid name", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("service %q defined twice", s.Name)
		}
		seen[s.Name] = true
		if s.Image == "" {
			return fmt.Errorf("service %q: image is required", s.Name)
		}
		if s.ContainerPort < 1 || s.ContainerPort > 65535 {
			return fmt.Errorf("service %q: containerPort %d out of range", s.Name, s.ContainerPort)
		}
	}
	for _, s := range d.Services {
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("service %q depends on unknown service %q", s.Name, dep)
			}
		}
	}
	return nil
}

// Catalog maps every template to its stack.
type Catalog map[model.Template]Definition

// DefaultCatalog returns the built-in stacks.
func DefaultCatalog() Catalog {
	return Catalog{
		model.TemplateBlank: {
			Description: "Static site served from the project directory",
			Services: []Service{{
				Name:          "web",
				Image:         "node:20-alpine",
				Command:       []string{"npx", "--yes", "http-server", "/app", "-p", "8080"},
				ContainerPort: 8080,
				Volumes:       []string{".:/app"},
			}},
		},
		model.TemplateFrameworkApp: {
			Description: "Node application with PostgreSQL and a mail catcher",
			Services: []Service{
				{
					Name:          "web",
					Image:         "node:20-bookworm",
					Command:       []string{"sh", "-c", "npm install && npm run dev -- --hostname 0.0.0.0 --port 3000"},
					ContainerPort: 3000,
					Environment: map[string]string{
						"DATABASE_URL": "postgres://devlauncher:devlauncher@db:5432/app",
						"SMTP_HOST":    "mail",
						"SMTP_PORT":    "1025",
					},
					Volumes:   []string{".:/app"},
					DependsOn: []string{"db", "mail"},
				},
				{
					Name:          "db",
					Image:         "postgres:16-alpine",
					ContainerPort: 5432,
					Environment: map[string]string{
						"POSTGRES_USER":     "devlauncher",
						"POSTGRES_PASSWORD": "devlauncher",
						"POSTGRES_DB":       "app",
					},
				},
				{
					Name:          "mail",
					Image:         "axllent/mailpit:latest",
					ContainerPort: 8025,
				},
			},
		},
		model.TemplateCMSApp: {
			Description: "WordPress with MariaDB and Adminer",
			Services: []Service{
				{
					Name:          "web",
					Image:         "wordpress:php8.3-apache",
					ContainerPort: 80,
					Environment: map[string]string{
						"WORDPRESS_DB_HOST":     "db",
						"WORDPRESS_DB_USER":     "devlauncher",
						"WORDPRESS_DB_PASSWORD": "devlauncher",
						"WORDPRESS_DB_NAME":     "cms",
					},
					Volumes:   []string{"./wp-content:/var/www/html/wp-content"},
					DependsOn: []string{"db"},
				},
				{
					Name:          "db",
					Image:         "mariadb:11",
					ContainerPort: 3306,
					Environment: map[string]string{
						"MARIADB_USER":          "devlauncher",
						"MARIADB_PASSWORD":      "devlauncher",
						"MARIADB_DATABASE":      "cms",
						"MARIADB_ROOT_PASSWORD": "devlauncher",
					},
				},
				{
					Name:          "adminer",
					Image:         "adminer:4",
					ContainerPort: 8080,
					DependsOn:     []string{"db"},
				},
			},
		},
	}
}

// Get returns the definition of t.
func (c Catalog) Get(t model.Template) (Definition, error) {
	d, ok := c[t]
	if !ok {
		return Definition{}, fmt.Errorf("template %q is not defined", t)
	}
	return d, nil
}

// Services returns the service names of t in declaration order.
func (c Catalog) Services(t model.Template) ([]string, error) {
	d, err := c.Get(t)
	if err != nil {
		return nil, err
	}
	return d.ServiceNames(), nil
}

// manifest is the on-disk override format:
//
//	{
//	  // replaces the built-in cms-app stack
//	  "templates": {
//	    "cms-app": {"services": [{"name": "web", "image": "...", "containerPort": 80}]}
//	  }
//	}
type manifest struct {
	Templates map[string]Definition `json:"templates"`
}

// LoadCatalog reads a manifest and returns the built-in catalog with the
// manifest's templates replacing the matching entries. An empty path
// returns the built-in catalog unchanged.
func LoadCatalog(path string) (Catalog, error) {
	catalog := DefaultCatalog()
	if path == "" {
		return catalog, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.WrapCLIError(model.ExitValidation, fmt.Sprintf("template manifest not found: %s", path), err)
		}
		return nil, fmt.Errorf("read template manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
		return nil, fmt.Errorf("parse template manifest %s: %w", path, err)
	}

	names := make([]string, 0, len(m.Templates))
	for name := range m.Templates {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t, err := model.ParseTemplate(name)
		if err != nil {
			return nil, fmt.Errorf("template manifest %s: %w", path, err)
		}
		def := m.Templates[name]
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("template manifest %s: %s: %w", path, t, err)
		}
		catalog[t] = def
	}
	return catalog, nil
}
