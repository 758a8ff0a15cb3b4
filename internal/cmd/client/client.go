package clientcmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// APIURL resolves the server base URL for client commands.
type APIURL func() string

// NewEnqueueCommand submits a job through the admission gate.
func NewEnqueueCommand(api APIURL) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Submit a background job (gate-checked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, _ := cmd.Flags().GetString("queue")
			kind, _ := cmd.Flags().GetString("kind")
			target, _ := cmd.Flags().GetString("target")
			jobID, _ := cmd.Flags().GetString("job-id")
			user, _ := cmd.Flags().GetString("user")
			household, _ := cmd.Flags().GetString("household")
			payload, _ := cmd.Flags().GetString("payload")

			body := map[string]any{
				"queue":        queue,
				"kind":         kind,
				"target":       target,
				"jobId":        jobID,
				"userId":       user,
				"householdKey": household,
			}
			if payload != "" {
				body["payload"] = json.RawMessage(payload)
			}
			b, _ := json.Marshal(body)
			resp, err := http.Post(api()+"/v1/jobs/enqueue", "application/json", bytes.NewReader(b))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			out, _ := io.ReadAll(resp.Body)
			fmt.Printf("%s %s", resp.Status, out)
			return nil
		},
	}
	cmd.Flags().String("queue", "import-by-url", "Queue name")
	cmd.Flags().String("kind", "import", "Work kind for the dedup key")
	cmd.Flags().String("target", "", "Work target (URL, item id, ...)")
	cmd.Flags().String("job-id", "", "Explicit job ID (overrides kind/target)")
	cmd.Flags().String("user", "", "Acting user ID")
	cmd.Flags().String("household", "", "Acting household key")
	cmd.Flags().String("payload", "", "JSON payload for the handler")
	return cmd
}

// NewStatusCommand looks up a job record.
func NewStatusCommand(api APIURL) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Look up a job by queue and ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, _ := cmd.Flags().GetString("queue")
			jobID, _ := cmd.Flags().GetString("job-id")
			u := fmt.Sprintf("%s/v1/jobs/status?queue=%s&jobId=%s",
				api(), url.QueryEscape(queue), url.QueryEscape(jobID))
			resp, err := http.Get(u)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			out, _ := io.ReadAll(resp.Body)
			fmt.Printf("%s %s", resp.Status, out)
			return nil
		},
	}
	cmd.Flags().String("queue", "import-by-url", "Queue name")
	cmd.Flags().String("job-id", "", "Job ID")
	return cmd
}

// NewEventsCommand tails the policy-aware SSE stream.
func NewEventsCommand(api APIURL) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail live events for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			household, _ := cmd.Flags().GetString("household")
			names, _ := cmd.Flags().GetString("events")
			filter, _ := cmd.Flags().GetString("filter")

			q := url.Values{}
			q.Set("userId", user)
			q.Set("householdKey", household)
			q.Set("events", names)
			if filter != "" {
				q.Set("filter", filter)
			}
			req, err := http.NewRequest(http.MethodGet, api()+"/v1/events?"+q.Encode(), nil)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			resp, err := http.DefaultClient.Do(req.WithContext(ctx))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				out, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("server: %s %s", resp.Status, out)
			}

			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				if line := scanner.Text(); line != "" {
					fmt.Println(line)
				}
			}
			if ctx.Err() != nil {
				return nil
			}
			return scanner.Err()
		},
	}
	cmd.Flags().String("user", "", "User ID to subscribe as")
	cmd.Flags().String("household", "", "Household key to subscribe as")
	cmd.Flags().String("events", "recipeImported,importFailed,itemStatusUpdated,syncFailed", "Comma-separated event names")
	cmd.Flags().String("filter", "", "Optional CEL filter expression")
	return cmd
}

// NewPolicyCommand reads or sets the visibility policy.
func NewPolicyCommand(api APIURL) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Show or change the visibility policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			set, _ := cmd.Flags().GetString("set")
			if set == "" {
				resp, err := http.Get(api() + "/v1/admin/policy")
				if err != nil {
					return err
				}
				defer resp.Body.Close()
				out, _ := io.ReadAll(resp.Body)
				fmt.Printf("%s %s", resp.Status, out)
				return nil
			}
			b, _ := json.Marshal(map[string]string{"policy": set})
			resp, err := http.Post(api()+"/v1/admin/policy", "application/json", bytes.NewReader(b))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			out, _ := io.ReadAll(resp.Body)
			fmt.Printf("%s %s", resp.Status, out)
			return nil
		},
	}
	cmd.Flags().String("set", "", "Policy level: everyone|household|owner")
	return cmd
}
