package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

// ResolutionCompletion completes the values accepted by --resolve
func ResolutionCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var completions []string
	for _, choice := range []string{"this-device", "cloud", "cancel"} {
		if strings.HasPrefix(choice, strings.ToLower(toComplete)) {
			completions = append(completions, choice)
		}
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

// HabitCompletion completes habit names for the first argument. names is
// called lazily so completion only opens the database when asked.
func HabitCompletion(names func() ([]string, error)) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		all, err := names()
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}

		var completions []string
		for _, name := range all {
			if strings.HasPrefix(strings.ToLower(name), strings.ToLower(toComplete)) {
				completions = append(completions, name)
			}
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	}
}
