// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ollama/pagedkv/envconfig"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cobra.EnableCommandSorting = false

	if runtime.GOOS == "windows" && term.IsTerminal(int(os.Stdout.Fd())) {
		console.ConsoleFromFile(os.Stdin) //nolint:errcheck
	}

	rootCmd := &cobra.Command{
		Use:           "pagedkv",
		Short:         "Paged key/value cache server",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	serveCmd := newServeCmd()
	benchCmd := newBenchCmd()
	psCmd := newPsCmd()
	envCmd := newEnvCmd()

	envVars := envconfig.AsMap()

	appendEnvDocs(serveCmd, []envconfig.EnvVar{
		envVars["PAGEDKV_DEBUG"],
		envVars["PAGEDKV_HOST"],
		envVars["PAGEDKV_ORIGINS"],
		envVars["PAGEDKV_KV_CACHE_TYPE"],
		envVars["PAGEDKV_PAGE_SIZE"],
		envVars["PAGEDKV_MAX_PAGES"],
		envVars["PAGEDKV_NUM_KV_HEADS"],
		envVars["PAGEDKV_HEAD_DIM"],
		envVars["PAGEDKV_NUM_THREADS"],
		envVars["PAGEDKV_SHUFFLE_PAGES"],
	})
	appendEnvDocs(benchCmd, []envconfig.EnvVar{envVars["PAGEDKV_DEBUG"]})
	appendEnvDocs(psCmd, []envconfig.EnvVar{envVars["PAGEDKV_HOST"]})

	rootCmd.AddCommand(
		serveCmd,
		benchCmd,
		psCmd,
		envCmd,
	)

	return rootCmd
}
