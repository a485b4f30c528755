package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var sessionsServer string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions on one gateway server",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Get(sessionsServer + "/api/sessions")
		if err != nil {
			return fmt.Errorf("fetching sessions: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fetching sessions: status %d", resp.StatusCode)
		}
		var result struct {
			Sessions []struct {
				SessionID         string    `json:"session_id"`
				ClientName        string    `json:"client_name"`
				State             string    `json:"state"`
				ActiveProjectName string    `json:"active_project_name"`
				ToolCallCount     int       `json:"tool_call_count"`
				LastActivity      time.Time `json:"last_activity"`
			} `json:"sessions"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("decoding sessions: %w", err)
		}
		if len(result.Sessions) == 0 {
			fmt.Println("no sessions")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tCLIENT\tSTATE\tPROJECT\tCALLS\tLAST ACTIVITY")
		for _, s := range result.Sessions {
			project := s.ActiveProjectName
			if project == "" {
				project = "-"
			}
			client := s.ClientName
			if client == "" {
				client = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				s.SessionID, client, s.State, project, s.ToolCallCount,
				s.LastActivity.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsServer, "server", "http://127.0.0.1:24282", "gateway server base URL")
	rootCmd.AddCommand(sessionsCmd)
}
