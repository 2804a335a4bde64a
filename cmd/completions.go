package cmd

import (
	"github.com/spf13/cobra"
)

// completeDirs restricts flag completion to directories.
func completeDirs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return nil, cobra.ShellCompDirectiveFilterDirs
}

// completeFormats offers the --output values.
func completeFormats(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{
		"text\thuman-readable",
		"json\tindented JSON",
		"yaml\tYAML",
	}, cobra.ShellCompDirectiveNoFileComp
}
