package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/0x7f/microclaw/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and environment health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

// runDoctor exits 2 on a hard configuration failure (§6 "doctor exits 2 on
// hard failures"); everything else it prints as advisory.
func runDoctor() {
	fmt.Println("microclaw doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (not found, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		os.Exit(2)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Config invalid: %s\n", err)
		os.Exit(2)
	}
	fmt.Println("  Config valid: yes")

	fmt.Println()
	fmt.Println("  Channels:")
	any := false
	for name, ch := range cfg.Channels {
		status := "disabled"
		if ch.Enabled() {
			status = "enabled"
			any = true
		}
		fmt.Printf("    %-12s %s\n", name+":", status)
	}
	if !any {
		fmt.Println("    (none enabled)")
	}
	fmt.Printf("    %-12s %s\n", "web:", enabledLabel(cfg.WebEnabled))

	fmt.Println()
	fmt.Println("  MCP servers:")
	if len(cfg.McpServers) == 0 {
		fmt.Println("    (none configured)")
	}
	for name, mcfg := range cfg.McpServers {
		fmt.Printf("    %-12s %s (%s)\n", name+":", enabledLabel(mcfg.IsEnabled()), mcfg.Transport)
	}

	ws := config.ExpandHome(cfg.WorkingDir)
	fmt.Println()
	fmt.Printf("  Working dir: %s", ws)
	if _, err := os.Stat(ws); err != nil {
		fmt.Println(" (not found, created on start)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func enabledLabel(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
