package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"graphsync/application/statements"
)

type classifyOutput struct {
	Kind string `json:"kind"`
	statements.Classification
}

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <statement>",
		Short: "Show how a statement would be treated",
		Example: `  graphsync classify "MATCH (u:User) RETURN u"
  graphsync classify "MATCH (u) DETACH DELETE u"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := statements.Classify(strings.Join(args, " "))
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(classifyOutput{Kind: c.Kind.String(), Classification: c})
		},
	}
}
