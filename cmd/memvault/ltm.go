package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanity-labs/memvault/internal/ltm"
	"github.com/sanity-labs/memvault/internal/types"
)

var ltmCmd = &cobra.Command{
	Use:   "ltm",
	Short: "Read and mutate the long-term-memory tree",
}

var (
	ltmParentSlug string
	ltmLinks      []string
	ltmActor      string
)

func printEntry(e types.Entry) {
	if jsonOutput {
		b, _ := json.MarshalIndent(e, "", "  ")
		fmt.Println(string(b))
		return
	}
	fmt.Printf("%s (v%d) %s\n%s\n", e.Path, e.Version, e.Title, e.Body)
}

var ltmCreateCmd = &cobra.Command{
	Use:   "create <slug> <title> <body>",
	Short: "Create a new LTM entry",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var parent *string
		if ltmParentSlug != "" {
			parent = &ltmParentSlug
		}
		e, err := current.ltm.Create(rootCtx, ltm.CreateParams{
			Slug:       args[0],
			ParentSlug: parent,
			Title:      args[1],
			Body:       args[2],
			Links:      ltmLinks,
			CreatedBy:  types.AgentRole(ltmActor),
		})
		if err != nil {
			return err
		}
		printEntry(e)
		return nil
	},
}

var ltmReadCmd = &cobra.Command{
	Use:   "read <slug>",
	Short: "Read an LTM entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, ok, err := current.ltm.Read(rootCtx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("not found: %s", args[0])
		}
		printEntry(e)
		return nil
	},
}

var ltmUpdateVersion int

var ltmUpdateCmd = &cobra.Command{
	Use:   "update <slug> <body>",
	Short: "Replace an entry's body (compare-and-swap on --version)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := current.ltm.Update(rootCtx, args[0], args[1], ltmUpdateVersion, types.AgentRole(ltmActor))
		if err != nil {
			return err
		}
		printEntry(e)
		return nil
	},
}

var ltmGlobCmd = &cobra.Command{
	Use:   "glob <pattern>",
	Short: "List entries matching a glob path pattern",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := current.ltm.Glob(rootCtx, args[0], 0)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Println(e.Path)
		}
		return nil
	},
}

var ltmSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search entry titles and bodies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := current.ltm.Search(rootCtx, args[0], "")
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s\t%s\n", e.Path, e.Title)
		}
		return nil
	},
}

func init() {
	ltmCreateCmd.Flags().StringVar(&ltmParentSlug, "parent", "", "Parent slug")
	ltmCreateCmd.Flags().StringSliceVar(&ltmLinks, "link", nil, "Linked slug (repeatable)")
	for _, c := range []*cobra.Command{ltmCreateCmd, ltmUpdateCmd} {
		c.Flags().StringVar(&ltmActor, "actor", string(types.RoleMain), "Agent role performing the mutation")
	}
	ltmUpdateCmd.Flags().IntVar(&ltmUpdateVersion, "version", 1, "Expected current version")

	ltmCmd.AddCommand(ltmCreateCmd, ltmReadCmd, ltmUpdateCmd, ltmGlobCmd, ltmSearchCmd)
}
