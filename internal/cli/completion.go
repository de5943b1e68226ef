package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate a shell completion script",
	Long: `Generate a completion script for the given shell.

Bash:
  $ source <(recall completion bash)
  $ recall completion bash > /etc/bash_completion.d/recall

Zsh:
  $ recall completion zsh > "${fpath[1]}/_recall"

Fish:
  $ recall completion fish | source
  $ recall completion fish > ~/.config/fish/completions/recall.fish

PowerShell:
  PS> recall completion powershell | Out-String | Invoke-Expression
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			return cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			return cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)

	sourcesRemoveCmd.ValidArgsFunction = completeSourceIDs
	sourcesPauseCmd.ValidArgsFunction = completeSourceIDs
	sourcesResumeCmd.ValidArgsFunction = completeSourceIDs
}

// completeSourceIDs offers registered source ids for commands that take one.
func completeSourceIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) != 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	st, cleanup, err := openStore()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	defer cleanup()

	sources, err := st.ListSources("")
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	var completions []string
	for _, s := range sources {
		completions = append(completions, s.SourceID+"\t"+s.Kind+" ("+string(s.Status)+")")
	}

	return completions, cobra.ShellCompDirectiveNoFileComp
}
