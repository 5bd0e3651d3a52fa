// cmd_list.go - PS und Env Commands
// Hauptfunktionen: ListSequencesHandler, EnvHandler, checkServerHeartbeat
package cmd

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ollama/pagedkv/api"
	"github.com/ollama/pagedkv/envconfig"
)

// checkServerHeartbeat - Prueft ob der Server erreichbar ist
func checkServerHeartbeat(cmd *cobra.Command, _ []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	if err := client.Heartbeat(cmd.Context()); err != nil {
		return fmt.Errorf("pagedkv server not responding - %w", err)
	}

	return nil
}

// newTable - Tabelle im Stil der Listenausgabe
func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

// ListSequencesHandler - Listet Pool-Zustand und Sequenzen eines laufenden Servers
func ListSequencesHandler(cmd *cobra.Command, args []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	pool, err := client.Pool(cmd.Context())
	if err != nil {
		return err
	}

	sequences, err := client.Sequences(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "pool: %d/%d pages free, page size %d, %s\n\n",
		pool.FreePages, pool.MaxNumPages, pool.PageSize, pool.DType)

	var data [][]string
	for _, s := range sequences.Sequences {
		if len(args) == 0 || strings.HasPrefix(s.ID, args[0]) {
			data = append(data, []string{
				s.ID,
				strconv.Itoa(s.Length),
				strconv.Itoa(len(s.Pages)),
				strconv.Itoa(int(s.LastPageLen)),
			})
		}
	}

	table := newTable(cmd.OutOrStdout(), []string{"ID", "LENGTH", "PAGES", "LAST PAGE"})
	table.AppendBulk(data)
	table.Render()

	return nil
}

// EnvHandler - Zeigt die wirksame Konfiguration an
func EnvHandler(cmd *cobra.Command, _ []string) error {
	vars := envconfig.AsMap()

	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	slices.Sort(names)

	var data [][]string
	for _, name := range names {
		data = append(data, []string{name, fmt.Sprintf("%v", vars[name].Value), vars[name].Description})
	}

	table := newTable(cmd.OutOrStdout(), []string{"NAME", "VALUE", "DESCRIPTION"})
	table.SetAutoWrapText(false)
	table.AppendBulk(data)
	table.Render()

	return nil
}

// newPsCmd - Erstellt den ps Command
func newPsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ps [ID]",
		Short:   "List sequences of a running server",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    ListSequencesHandler,
	}
}

// newEnvCmd - Erstellt den env Command
func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show configuration from the environment",
		Args:  cobra.ExactArgs(0),
		RunE:  EnvHandler,
	}
}
