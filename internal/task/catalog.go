package task

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/docker"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
)

// placeholder matches ${key}. Plain $VAR references are left for the
// shell that runs the command.
var placeholder = regexp.MustCompile(`\$\{([a-z0-9._-]+)\}`)

// Command is the process a task type runs. Command, Args and Env values
// may reference project placeholders:
//
//	${slug}        compose project name
//	${name}        project display name
//	${path}        project directory
//	${port.<svc>}  host port allocated to service <svc>
type Command struct {
	Command string
	Args    []string
	Env     map[string]string

	// Timeout overrides the orchestrator default when non-zero.
	Timeout time.Duration
}

// Catalog maps every task type to its command.
type Catalog map[model.TaskType]Command

// DefaultCatalog runs the tool installs inside the stack's web service and
// probes the published web port from the host for the smoke test.
func DefaultCatalog(dockerBinary string) Catalog {
	if dockerBinary == "" {
		dockerBinary = "docker"
	}
	exec := func(script string) Command {
		return Command{
			Command: dockerBinary,
			Args:    []string{"compose", "--project-name", "${slug}", "exec", "-T", "web", "sh", "-c", script},
		}
	}
	return Catalog{
		model.TaskInstallToolA: exec("npm install -g @anthropic-ai/claude-code"),
		model.TaskInstallToolB: exec("npm install -g @google/gemini-cli"),
		model.TaskSmokeTest: {
			Command: "curl",
			Args:    []string{"--fail", "--silent", "--show-error", "--max-time", "15", "-o", "/dev/null", "-w", "%{http_code}\n", "http://127.0.0.1:${port.web}/"},
			Timeout: 30 * time.Second,
		},
	}
}

// Merge returns a copy of c with entries from override replacing the
// matching task types.
func (c Catalog) Merge(override Catalog) Catalog {
	out := make(Catalog, len(c)+len(override))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Validate checks that every known task type has a command.
func (c Catalog) Validate() error {
	var missing []string
	for _, t := range model.TaskTypes() {
		if cmd, ok := c[t]; !ok || cmd.Command == "" {
			missing = append(missing, t.String())
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("task catalog: no command for %s", strings.Join(missing, ", "))
	}
	return nil
}

// Resolve expands t's command for project p into an ExecSpec that runs in
// the project directory.
func (c Catalog) Resolve(t model.TaskType, p *model.Project) (docker.ExecSpec, error) {
	cmd, ok := c[t]
	if !ok || cmd.Command == "" {
		return docker.ExecSpec{}, fmt.Errorf("no command configured for task type %s", t)
	}

	var unresolved []string
	expand := func(s string) string {
		return placeholder.ReplaceAllStringFunc(s, func(m string) string {
			key := m[2 : len(m)-1]
			switch {
			case key == "slug":
				return p.Slug
			case key == "name":
				return p.Name
			case key == "path":
				return p.Path
			case strings.HasPrefix(key, "port."):
				if port, ok := p.Ports[strings.TrimPrefix(key, "port.")]; ok {
					return strconv.Itoa(port)
				}
			}
			unresolved = append(unresolved, key)
			return m
		})
	}

	spec := docker.ExecSpec{
		Command: expand(cmd.Command),
		Args:    make([]string, len(cmd.Args)),
		Dir:     p.Path,
		Timeout: cmd.Timeout,
	}
	for i, a := range cmd.Args {
		spec.Args[i] = expand(a)
	}
	if len(cmd.Env) > 0 {
		spec.Env = make(map[string]string, len(cmd.Env))
		for k, v := range cmd.Env {
			spec.Env[k] = expand(v)
		}
	}

	if len(unresolved) > 0 {
		return docker.ExecSpec{}, fmt.Errorf("task %s: unresolved placeholders %s", t, strings.Join(unresolved, ", "))
	}
	return spec, nil
}
