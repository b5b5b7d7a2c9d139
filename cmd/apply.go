package cmd

import (
	"fmt"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/agentic-research/realm/internal/config"
	"github.com/agentic-research/realm/internal/mutate"
)

var (
	applyStyles    []string
	applyClassName string
	applyText      string
)

func init() {
	applyCmd.Flags().StringArrayVar(&applyStyles, "style", nil, "Style property as key=value (repeatable)")
	applyCmd.Flags().StringVar(&applyClassName, "class", "", "Class list to merge into the element")
	applyCmd.Flags().StringVar(&applyText, "text", "", "Replacement text content")
	rootCmd.AddCommand(applyCmd)
}

var applyCmd = &cobra.Command{
	Use:   "apply <file> <selector>",
	Short: "Apply a one-shot edit to a source file",
	Long: `Apply rewrites one element in place, exactly as a connected panel
commit would, and validates that the result still parses before writing.

  realm apply src/App.tsx 'a.text-sm:nth-of-type(2)' --class "text-red-500"
  realm apply src/App.tsx 'h1' --text "New headline" --style color=red`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		filePath, selector := args[0], args[1]

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		ch := mutate.Changes{}
		if len(applyStyles) > 0 {
			ch.Styles = make(map[string]string, len(applyStyles))
			for _, kv := range applyStyles {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("malformed --style %q, want key=value", kv)
				}
				ch.Styles[k] = v
			}
		}
		if cmd.Flags().Changed("class") {
			ch.ClassName = &applyClassName
		}
		if cmd.Flags().Changed("text") {
			ch.Text = &applyText
		}
		if ch.Empty() {
			return fmt.Errorf("nothing to apply, pass --style, --class, or --text")
		}

		engine := mutate.NewEngine(mutate.MatchPolicy{
			MinForwardMatches: cfg.Match.MinForwardMatches,
			ForwardRatio:      cfg.Match.ForwardRatio,
			ReverseRatio:      cfg.Match.ReverseRatio,
		})

		if err := engine.ApplyToFile(osfs.New("."), filePath, selector, ch); err != nil {
			return err
		}
		fmt.Printf("applied %s to %s\n", selector, filePath)
		return nil
	},
}
