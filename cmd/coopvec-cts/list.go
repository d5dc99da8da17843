package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-coopvec/internal/cases"
)

func listHandler(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(cmd); err != nil {
		return err
	}
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	root, stats := cases.All()

	all, err := cmd.Flags().GetBool("cases")
	if err != nil {
		return err
	}
	if all {
		for _, n := range root.Flatten(prefix) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", n.Name, n.Case.Kind())
		}
		return nil
	}

	var data [][]string
	for _, g := range root.Children() {
		if !strings.HasPrefix(g.Name, prefix) && !strings.HasPrefix(prefix, g.Name) {
			continue
		}
		st := stats[g.Name]
		data = append(data, []string{g.Name, strconv.Itoa(len(root.Flatten(prefixWithin(g.Name, prefix)))),
			strconv.Itoa(st.Total), skipped(st.Skipped)})
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"GROUP", "CASES", "COMBINATIONS", "SKIPPED"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
	return nil
}

// prefixWithin narrows a group name to prefix when prefix reaches into
// the group.
func prefixWithin(group, prefix string) string {
	if strings.HasPrefix(prefix, group) {
		return prefix
	}
	return group
}

// skipped formats filter counts as name=count, sorted by name.
func skipped(m map[string]int) string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, m[name])
	}
	return strings.Join(parts, " ")
}
