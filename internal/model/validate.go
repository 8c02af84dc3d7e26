package model

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// slugPattern: lowercase alphanumeric runs separated by single hyphens.
var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// MaxSlugLength keeps compose project names (and the container names
// derived from them) within Docker's limits.
const MaxSlugLength = 63

// ValidateSlug checks the slug format only. Uniqueness needs the store and
// is checked by the lifecycle controller.
func ValidateSlug(slug string) error {
	if slug == "" {
		return &ValidationError{Fields: []FieldError{{Field: "slug", Message: "must not be empty"}}}
	}
	if len(slug) > MaxSlugLength {
		return &ValidationError{Fields: []FieldError{{Field: "slug", Message: "must be at most 63 characters"}}}
	}
	if !slugPattern.MatchString(slug) {
		return &ValidationError{Fields: []FieldError{{
			Field:   "slug",
			Message: "must contain only lowercase letters, digits and single hyphens between them",
		}}}
	}
	return nil
}

// CreateRequest is the input of project creation.
type CreateRequest struct {
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Template string `json:"template"`
	Location string `json:"location"`
	Path     string `json:"path"`
}

// Validate runs every pure check on the request and returns a
// *ValidationError listing all violated fields, or nil.
func (r CreateRequest) Validate() error {
	verr := &ValidationError{}

	if strings.TrimSpace(r.Name) == "" {
		verr.Add("name", "must not be empty")
	}
	if err := ValidateSlug(r.Slug); err != nil {
		verr.Fields = append(verr.Fields, err.(*ValidationError).Fields...)
	}
	if !Template(r.Template).IsValid() {
		verr.Add("template", "must be one of blank, framework-app, cms-app")
	}
	if !Location(r.Location).IsValid() {
		verr.Add("location", "must be one of native-fs, vm-fs")
	}
	switch {
	case r.Path == "":
		verr.Add("path", "must not be empty")
	case !filepath.IsAbs(r.Path):
		verr.Add("path", "must be an absolute path")
	}

	return verr.OrNil()
}

// ValidateTaskType returns a *ValidationError when t is not a known task type.
func ValidateTaskType(t string) error {
	if TaskType(t).IsValid() {
		return nil
	}
	return &ValidationError{Fields: []FieldError{{
		Field:   "type",
		Message: "must be one of install-tool-a, install-tool-b, smoke-test",
	}}}
}

// ValidatePortAllocations checks for duplicate ports within a set of
// allocations. Returns a *ValidationError naming the first conflict.
func ValidatePortAllocations(allocations []PortAllocation) error {
	seen := make(map[int]string, len(allocations))
	for _, a := range allocations {
		if owner, ok := seen[a.Port]; ok {
			return &ValidationError{Fields: []FieldError{{
				Field:   "ports",
				Message: fmt.Sprintf("port %d assigned to both %s and %s", a.Port, owner, a.ServiceName),
			}}}
		}
		seen[a.Port] = a.ServiceName
	}
	return nil
}
