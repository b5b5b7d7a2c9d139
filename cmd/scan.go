package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ohler55/ojg/oj"
	"github.com/ohler55/ojg/pretty"
	"github.com/spf13/cobra"

	"github.com/agentic-research/realm/internal/extract"
)

var scanJSON bool

func init() {
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Emit machine-readable JSON")
	rootCmd.AddCommand(scanCmd)
}

var scannableExts = map[string]bool{
	".tsx": true, ".jsx": true, ".ts": true, ".js": true,
}

var scanCmd = &cobra.Command{
	Use:   "scan [path]",
	Short: "Extract addressable elements from component files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := args[0]
		ex := extract.New(nil)

		info, err := os.Stat(root)
		if err != nil {
			return err
		}

		var paths []string
		if info.IsDir() {
			err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					name := d.Name()
					if name == "node_modules" || strings.HasPrefix(name, ".") {
						return filepath.SkipDir
					}
					return nil
				}
				if scannableExts[strings.ToLower(filepath.Ext(path))] {
					paths = append(paths, path)
				}
				return nil
			})
			if err != nil {
				return err
			}
		} else {
			paths = []string{root}
		}

		type scannedElement struct {
			RealmID   string            `json:"realmId"`
			TagName   string            `json:"tagName"`
			Component string            `json:"component"`
			ClassName string            `json:"className,omitempty"`
			Text      string            `json:"text,omitempty"`
			Styles    map[string]string `json:"styles,omitempty"`
		}
		var all []scannedElement

		for _, path := range paths {
			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			res, err := ex.Extract(content, path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "skip %s: %v\n", path, err)
				continue
			}
			for _, el := range res.Elements {
				all = append(all, scannedElement{
					RealmID:   el.ID.Key(),
					TagName:   el.TagName,
					Component: el.ID.Component,
					ClassName: el.Attributes["className"],
					Text:      el.DirectText,
					Styles:    el.Styles,
				})
			}
			for _, perr := range res.Errors {
				fmt.Fprintf(os.Stderr, "parse issue in %s: %v\n", path, perr)
			}
		}

		if scanJSON {
			data, err := oj.Marshal(all)
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		for _, el := range all {
			fmt.Println(pretty.SEN(map[string]any{
				"realm": el.RealmID,
				"tag":   el.TagName,
				"text":  el.Text,
			}))
		}
		fmt.Fprintf(os.Stderr, "%d elements across %d files\n", len(all), len(paths))
		return nil
	},
}
