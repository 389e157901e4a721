package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// setupCmd, hooksCmd, skillCmd, and pluginsCmd are documented-for-completeness
// CLI surface (§6): real subcommand trees belong to an interactive setup
// wizard, hook enable/disable toggles, skill listing, and plugin management,
// none of which spec.md's core subsystems depend on. They do not load the
// config file; each only prints a pointer to doctor/start.
func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive first-run configuration wizard (out of scope)",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("setup: interactive configuration is not built into this binary.")
			fmt.Println("Write a config file (see config.go example keys) and run `microclaw doctor`.")
		},
	}
}

func hooksCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "hooks",
		Short: "List lifecycle hooks discovered under the hooks directory",
	}
	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List discovered hooks and whether they are enabled",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("hooks are discovered from <data_dir>/hooks at `start` time; run `microclaw start` to exercise them.")
		},
	})
	return c
}

func skillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "skill",
		Short: "List or activate skills (out of scope beyond the activate_skill tool)",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("skills are served through the activate_skill tool; there is no standalone management UI.")
		},
	}
}

func pluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List YAML/JSON plugin tool manifests",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("plugin tools are discovered from <data_dir>/plugins at `start` time; run `microclaw start` to exercise them.")
		},
	}
}
