package cmd

import (
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/citadel/internal/config"
	"github.com/steveyegge/citadel/internal/registry"
)

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "List gateway instances registered on this host",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := config.UserDir()
		if err != nil {
			return err
		}
		reg := registry.New(dir, log.New(os.Stderr, "", 0))
		instances, err := reg.ListInstances()
		if err != nil {
			return err
		}
		if len(instances) == 0 {
			fmt.Println("no instances registered")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PID\tPORT\tSTATE\tPROJECT\tCONTEXT\tLAST HEARTBEAT")
		for _, inst := range instances {
			project := inst.ProjectName
			if project == "" {
				project = "-"
			}
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n",
				inst.PID, inst.Port, inst.State, project, inst.Context,
				inst.LastHeartbeat.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(instancesCmd)
}
