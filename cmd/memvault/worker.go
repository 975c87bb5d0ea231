package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Inspect background workers and reports (C9)",
}

var workerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all worker records",
	RunE: func(cmd *cobra.Command, args []string) error {
		workers, err := current.reg.GetAllWorkers(rootCtx)
		if err != nil {
			return err
		}
		if jsonOutput {
			b, _ := json.MarshalIndent(workers, "", "  ")
			fmt.Println(string(b))
			return nil
		}
		for _, w := range workers {
			fmt.Printf("%s\t%s\t%s\n", w.ID, w.Kind, w.Status)
		}
		return nil
	},
}

var workerRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Transition running workers to killed (call once at process start)",
	RunE: func(cmd *cobra.Command, args []string) error {
		killed, err := current.reg.RecoverKilled(rootCtx)
		if err != nil {
			return err
		}
		b, _ := json.MarshalIndent(killed, "", "  ")
		fmt.Println(string(b))
		return nil
	},
}

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List unsurfaced background reports and mark them surfaced",
	RunE: func(cmd *cobra.Command, args []string) error {
		reports, err := current.reg.GetUnsurfaced(rootCtx)
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			return nil
		}
		ids := make([]string, len(reports))
		for i, r := range reports {
			ids[i] = r.ID
			fmt.Printf("[%s] %s\n%s\n\n", r.ID, r.Subsystem, r.Report)
		}
		return current.reg.MarkSurfaced(rootCtx, ids)
	},
}

func init() {
	workerCmd.AddCommand(workerListCmd, workerRecoverCmd)
	rootCmd.AddCommand(reportsCmd)
}
