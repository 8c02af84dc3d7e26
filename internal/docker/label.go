package docker

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
)

// Docker label keys used to mark containers created from devlauncher
// stacks. The renderer stamps these onto every compose service so the
// Engine API can find them again without reading the store.
const (
	LabelPrefix = "dev.devlauncher."

	// LabelManagedBy marks the container as managed by devlauncher.
	LabelManagedBy = LabelPrefix + "managed-by"

	LabelProjectID   = LabelPrefix + "project-id"
	LabelProjectSlug = LabelPrefix + "project-slug"
	LabelTemplate    = LabelPrefix + "template"

	// LabelPortPrefix is followed by the service name; the value is the
	// allocated host port, e.g. "dev.devlauncher.port.web" = "20000".
	LabelPortPrefix = LabelPrefix + "port."
)

// ManagedByValue is the value of LabelManagedBy.
const ManagedByValue = "devlauncher"

// Labels compose itself sets on every container it creates.
const (
	ComposeProjectLabel = "com.docker.compose.project"
	ComposeServiceLabel = "com.docker.compose.service"
)

// StackLabels is the project metadata recoverable from container labels.
type StackLabels struct {
	ProjectID string
	Slug      string
	Template  model.Template
	Ports     map[string]int
}

// BuildLabels returns the label set for every service of p's stack.
func BuildLabels(p *model.Project) map[string]string {
	labels := map[string]string{
		LabelManagedBy:   ManagedByValue,
		LabelProjectID:   p.ID,
		LabelProjectSlug: p.Slug,
		LabelTemplate:    p.Template.String(),
	}
	for svc, port := range p.Ports {
		labels[LabelPortPrefix+svc] = strconv.Itoa(port)
	}
	return labels
}

// ParseLabels reverses BuildLabels. It fails when a required key is
// missing, the managed-by value is foreign, or a port label is malformed.
func ParseLabels(labels map[string]string) (*StackLabels, error) {
	required := []string{LabelManagedBy, LabelProjectID, LabelProjectSlug, LabelTemplate}

	var missing []string
	for _, key := range required {
		if _, ok := labels[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required Docker labels: %s", strings.Join(missing, ", "))
	}

	if labels[LabelManagedBy] != ManagedByValue {
		return nil, fmt.Errorf("label %s has unexpected value %q (expected %q)",
			LabelManagedBy, labels[LabelManagedBy], ManagedByValue)
	}

	tmpl, err := model.ParseTemplate(labels[LabelTemplate])
	if err != nil {
		return nil, fmt.Errorf("invalid label %s: %w", LabelTemplate, err)
	}

	ports := make(map[string]int)
	for key, value := range labels {
		svc, ok := strings.CutPrefix(key, LabelPortPrefix)
		if !ok {
			continue
		}
		port, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid host port in label %q=%q: %w", key, value, err)
		}
		ports[svc] = port
	}

	return &StackLabels{
		ProjectID: labels[LabelProjectID],
		Slug:      labels[LabelProjectSlug],
		Template:  tmpl,
		Ports:     ports,
	}, nil
}
