package template

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/docker"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
)

const (
	// ComposeFileName is the compose file written into the project path.
	ComposeFileName = "docker-compose.yml"

	// EnvFileName holds the allocated ports as environment variables.
	EnvFileName = ".env"

	generatedMarker = "# Generated by devlauncher"
)

// composeFile is the subset of the Compose specification devlauncher
// writes.
type composeFile struct {
	Name     string                    `yaml:"name"`
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	Image       string            `yaml:"image"`
	Command     []string          `yaml:"command,omitempty"`
	Ports       []string          `yaml:"ports,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Volumes     []string          `yaml:"volumes,omitempty"`
	DependsOn   []string          `yaml:"depends_on,omitempty"`
	Labels      map[string]string `yaml:"labels"`
}

// ComposeRenderer writes a project's stack into its directory.
type ComposeRenderer struct {
	catalog Catalog
}

// NewComposeRenderer returns a renderer over catalog. A nil catalog uses
// DefaultCatalog.
func NewComposeRenderer(catalog Catalog) *ComposeRenderer {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &ComposeRenderer{catalog: catalog}
}

// Services returns the service names of t; one host port is allocated for
// each.
func (r *ComposeRenderer) Services(t model.Template) ([]string, error) {
	return r.catalog.Services(t)
}

// Render writes docker-compose.yml and .env into p.Path, creating the
// directory when needed. A compose file not written by devlauncher is
// never overwritten.
func (r *ComposeRenderer) Render(ctx context.Context, p *model.Project) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	def, err := r.catalog.Get(p.Template)
	if err != nil {
		return err
	}

	composeData, err := GenerateCompose(p, def)
	if err != nil {
		return err
	}

	composePath := filepath.Join(p.Path, ComposeFileName)
	if existing, err := os.ReadFile(composePath); err == nil {
		if !bytes.HasPrefix(existing, []byte(generatedMarker)) {
			return fmt.Errorf("refusing to overwrite %s: file was not generated by devlauncher", composePath)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("check existing compose file: %w", err)
	}

	if err := os.MkdirAll(p.Path, 0o755); err != nil {
		return fmt.Errorf("create project directory: %w", err)
	}
	if err := os.WriteFile(composePath, composeData, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", ComposeFileName, err)
	}
	if err := os.WriteFile(filepath.Join(p.Path, EnvFileName), GenerateEnv(p), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", EnvFileName, err)
	}
	return nil
}

// GenerateCompose renders def for project p. Each service publishes its
// container port on the loopback interface at the project's allocated
// host port and carries the devlauncher labels.
func GenerateCompose(p *model.Project, def Definition) ([]byte, error) {
	labels := docker.BuildLabels(p)

	file := composeFile{
		Name:     p.Slug,
		Services: make(map[string]composeService, len(def.Services)),
	}
	for _, s := range def.Services {
		svc := composeService{
			Image:       s.Image,
			Command:     s.Command,
			Environment: s.Environment,
			Volumes:     s.Volumes,
			DependsOn:   s.DependsOn,
			Labels:      make(map[string]string, len(labels)+1),
		}
		for k, v := range labels {
			svc.Labels[k] = v
		}
		if port, ok := p.Ports[s.Name]; ok {
			svc.Ports = []string{fmt.Sprintf("127.0.0.1:%d:%d", port, s.ContainerPort)}
		}
		file.Services[s.Name] = svc
	}

	out, err := yaml.Marshal(&file)
	if err != nil {
		return nil, fmt.Errorf("serialize compose file: %w", err)
	}

	header := fmt.Sprintf("%s for project %q\n# Regenerated on create; edits will be lost\n", generatedMarker, p.Slug)
	return append([]byte(header), out...), nil
}

// GenerateEnv renders the .env file: the compose project name and one
// <SERVICE>_PORT variable per allocated port, sorted by service.
func GenerateEnv(p *model.Project) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "COMPOSE_PROJECT_NAME=%s\n", p.Slug)

	services := make([]string, 0, len(p.Ports))
	for svc := range p.Ports {
		services = append(services, svc)
	}
	sort.Strings(services)
	for _, svc := range services {
		fmt.Fprintf(&b, "%s_PORT=%d\n", envName(svc), p.Ports[svc])
	}
	return []byte(b.String())
}

func envName(service string) string {
	return strings.ToUpper(strings.ReplaceAll(service, "-", "_"))
}
