package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/app"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/template"
)

type createFlags struct {
	name     string
	template string
	location string
	path     string
}

// NewCreateCommand creates the "create" command.
func NewCreateCommand() *cobra.Command {
	flags := &createFlags{}

	cmd := &cobra.Command{
		Use:   "create <slug>",
		Short: "Create a project from a template",
		Long: `Create a project, allocate host ports for every service of its template
and write docker-compose.yml and .env into the project directory.

The project is created stopped; run "devlauncher start" to bring it up.

Examples:
  devlauncher create shop
  devlauncher create --template framework-app --name "Web Shop" shop
  devlauncher create --template cms-app --path ~/sites/blog blog`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				return runCreate(ctx, e, cmd.OutOrStdout(), args[0], flags)
			})
		},
	}

	cmd.Flags().StringVar(&flags.name, "name", "", "Display name (default: the slug)")
	cmd.Flags().StringVarP(&flags.template, "template", "t", model.TemplateBlank.String(), "Template: blank, framework-app, cms-app")
	cmd.Flags().StringVar(&flags.location, "location", model.LocationNativeFS.String(), "Where the files live: native-fs, vm-fs")
	cmd.Flags().StringVar(&flags.path, "path", "", "Project directory (default: ./<slug>)")

	return cmd
}

func runCreate(ctx context.Context, e *app.Engine, w io.Writer, slug string, flags *createFlags) error {
	name := flags.name
	if name == "" {
		name = slug
	}

	path := flags.path
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "failed to get current directory", err)
		}
		path = filepath.Join(cwd, slug)
	}
	// Relative paths are taken from the working directory, not the daemon's.
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	p, err := e.Projects.Create(ctx, model.CreateRequest{
		Name:     name,
		Slug:     slug,
		Template: flags.template,
		Location: flags.location,
		Path:     path,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(w, p)
	}

	fmt.Fprintf(w, "Created project %q (%s)\n", p.Slug, p.ID)
	fmt.Fprintf(w, "  Template: %s\n", p.Template)
	fmt.Fprintf(w, "  Path:     %s\n", p.Path)
	printServices(w, p, e.Templates)
	fmt.Fprintf(w, "\nRun \"devlauncher start %s\" to bring it up.\n", p.Slug)
	return nil
}

// printServices lists the project's services with their host addresses.
func printServices(w io.Writer, p *model.Project, templates template.Catalog) {
	def, _ := templates.Get(p.Template)
	containerPorts := make(map[string]int, len(def.Services))
	for _, svc := range def.Services {
		containerPorts[svc.Name] = svc.ContainerPort
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Services:")
	for _, a := range p.PortAllocations() {
		fmt.Fprintf(w, "    %-8s %s\n", a.ServiceName, formatServiceAddress(containerPorts[a.ServiceName], a.Port))
	}
}

// formatServiceAddress renders a host port as an address, with an
// http:// prefix when the container port is a usual HTTP port.
func formatServiceAddress(containerPort, hostPort int) string {
	httpPorts := map[int]bool{
		80: true, 443: true, 3000: true, 3001: true,
		4200: true, 5000: true, 5173: true, 8000: true,
		8025: true, 8080: true, 8443: true, 8888: true, 9000: true,
	}
	if httpPorts[containerPort] {
		return fmt.Sprintf("http://127.0.0.1:%d", hostPort)
	}
	return fmt.Sprintf("127.0.0.1:%d", hostPort)
}
