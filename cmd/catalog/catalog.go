// cmd/catalog/catalog.go
package catalog

import (
	"fmt"
	"os"
	"strings"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/catalog"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_cli"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_err"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_io"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// CatalogCmd prints the services and profiles hearth knows.
var CatalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Show the managed services and resource profiles",
	Long: `Catalog prints the service table install works from: image, published ports
and per-profile memory and CPU limits, followed by each profile's packages.

Examples:
  hearth catalog
  hearth catalog --output yaml`,
	Args: cobra.NoArgs,
	RunE: hearth_cli.Wrap(func(rc *hearth_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		switch output {
		case "table":
			printTable()
			return nil
		case "yaml":
			return printYAML()
		default:
			return hearth_err.NewUserError("unknown output format %q (use table or yaml)", output)
		}
	}),
}

func init() {
	CatalogCmd.Flags().StringP("output", "o", "table", "Output format: table or yaml")
}

type serviceView struct {
	Name   string                   `yaml:"name"`
	Image  string                   `yaml:"image"`
	Ports  []string                 `yaml:"ports,omitempty"`
	Host   bool                     `yaml:"host_network,omitempty"`
	Limits map[string]catalog.Limit `yaml:"limits"`
}

type profileView struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Packages    []string `yaml:"packages"`
	Vision      []string `yaml:"vision_requirements,omitempty"`
}

func printYAML() error {
	doc := struct {
		Services []serviceView `yaml:"services"`
		Profiles []profileView `yaml:"profiles"`
	}{}
	for _, s := range catalog.Registry {
		v := serviceView{Name: s.Name, Image: s.Image, Host: s.NetworkMode == "host", Limits: map[string]catalog.Limit{}}
		for _, p := range s.Ports {
			v.Ports = append(v.Ports, p.String())
		}
		for _, name := range catalog.ProfileNames() {
			v.Limits[name] = catalog.Profiles[name].Limits[s.Name]
		}
		doc.Services = append(doc.Services, v)
	}
	for _, name := range catalog.ProfileNames() {
		p := catalog.Profiles[name]
		doc.Profiles = append(doc.Profiles, profileView{Name: p.Name, Description: p.Description, Packages: p.BasePackages, Vision: p.VisionRequirements})
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func printTable() {
	profiles := catalog.ProfileNames()

	fmt.Printf("%-14s %-46s %-16s", "SERVICE", "IMAGE", "PORTS")
	for _, p := range profiles {
		fmt.Printf(" %-14s", strings.ToUpper(p))
	}
	fmt.Println()
	fmt.Println(strings.Repeat("-", 78+15*len(profiles)))

	for _, s := range catalog.Registry {
		ports := "host network"
		if s.NetworkMode != "host" {
			var list []string
			for _, p := range s.Ports {
				list = append(list, p.String())
			}
			ports = strings.Join(list, ",")
		}
		fmt.Printf("%-14s %-46s %-16s", s.Name, s.Image, ports)
		for _, p := range profiles {
			l := catalog.Profiles[p].Limits[s.Name]
			fmt.Printf(" %-14s", fmt.Sprintf("%dM/%.2gcpu", l.MemoryMB, l.CPUs))
		}
		fmt.Println()
	}

	fmt.Println()
	for _, name := range profiles {
		p := catalog.Profiles[name]
		fmt.Printf("%s: %s\n  packages: %s\n", p.Name, p.Description, strings.Join(p.BasePackages, " "))
		if len(p.VisionRequirements) > 0 {
			fmt.Printf("  vision venv: %s\n", strings.Join(p.VisionRequirements, " "))
		}
	}
}
