package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tidehook/tidehook/internal/model"
	"github.com/tidehook/tidehook/internal/ssrf"
)

var (
	epOrgID       string
	epURL         string
	epEvents      string
	epDescription string
)

var endpointCmd = &cobra.Command{
	Use:   "endpoint",
	Short: "Manage webhook endpoints",
	Long:  `Create, inspect, and update webhook endpoints and their signing secrets.`,
}

var endpointCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new endpoint",
	Long: `Register a new endpoint. The destination URL is validated against
internal-address delivery before anything is stored. The signing secret is
generated server-side and printed exactly once; store it now.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if epOrgID == "" || epURL == "" {
			return fmt.Errorf("--org and --url are required")
		}
		if err := ssrf.ValidateURL(epURL); err != nil {
			return fmt.Errorf("destination rejected: %w", err)
		}
		secret, err := generateSecret(32)
		if err != nil {
			return fmt.Errorf("generate secret: %w", err)
		}

		ctx, cancel := cmdContext()
		defer cancel()
		pool, st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		ep := &model.Endpoint{
			ID:          uuid.NewString(),
			OrgID:       epOrgID,
			URL:         epURL,
			Description: epDescription,
			Secret:      secret,
			EventTypes:  parseEvents(epEvents),
			Active:      true,
		}
		if err := st.CreateEndpoint(ctx, ep); err != nil {
			return fmt.Errorf("create endpoint: %w", err)
		}

		if outputJSON {
			printOutput(map[string]any{"endpoint": ep, "secret": secret})
			return nil
		}
		fmt.Printf("Endpoint created: %s\n", ep.ID)
		fmt.Printf("Signing secret (shown only now): %s\n", secret)
		return nil
	},
}

var endpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List endpoints for an organization",
	RunE: func(cmd *cobra.Command, args []string) error {
		if epOrgID == "" {
			return fmt.Errorf("--org is required")
		}
		ctx, cancel := cmdContext()
		defer cancel()
		pool, st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		eps, err := st.ListEndpoints(ctx, epOrgID)
		if err != nil {
			return err
		}
		if outputJSON {
			printOutput(eps)
			return nil
		}
		for _, ep := range eps {
			state := "active"
			if !ep.Active {
				state = "inactive"
			}
			events := "all"
			if len(ep.EventTypes) > 0 {
				events = strings.Join(ep.EventTypes, ",")
			}
			fmt.Printf("%s  %-8s  %s  events=%s\n", ep.ID, state, ep.URL, events)
		}
		return nil
	},
}

var endpointGetCmd = &cobra.Command{
	Use:   "get <endpoint-id>",
	Short: "Show one endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		pool, st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		ep, err := st.GetEndpoint(ctx, args[0])
		if err != nil {
			return err
		}
		printOutput(ep)
		return nil
	},
}

var endpointUpdateCmd = &cobra.Command{
	Use:   "update <endpoint-id>",
	Short: "Update an endpoint's URL, events, or description",
	Long: `Update mutable endpoint fields. A changed URL goes through the same
destination validation as at creation; a rejected URL leaves the stored
endpoint untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		pool, st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		ep, err := st.GetEndpoint(ctx, args[0])
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("url") {
			if err := ssrf.ValidateURL(epURL); err != nil {
				return fmt.Errorf("destination rejected: %w", err)
			}
			ep.URL = epURL
		}
		if cmd.Flags().Changed("events") {
			ep.EventTypes = parseEvents(epEvents)
		}
		if cmd.Flags().Changed("description") {
			ep.Description = epDescription
		}
		if err := st.UpdateEndpoint(ctx, ep); err != nil {
			return err
		}
		printOutput(ep)
		return nil
	},
}

var endpointActivateCmd = &cobra.Command{
	Use:   "activate <endpoint-id>",
	Short: "Resume delivery to an endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEndpointActive(args[0], true)
	},
}

var endpointDeactivateCmd = &cobra.Command{
	Use:   "deactivate <endpoint-id>",
	Short: "Pause delivery to an endpoint",
	Long: `Pause delivery. Pending retries for the endpoint are not discarded;
the sweeper skips them until the endpoint is reactivated.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEndpointActive(args[0], false)
	},
}

var endpointRotateSecretCmd = &cobra.Command{
	Use:   "rotate-secret <endpoint-id>",
	Short: "Replace an endpoint's signing secret",
	Long: `Generate and store a fresh signing secret. The new secret is printed
exactly once; deliveries signed with the old secret stop verifying
immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		pool, st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		ep, err := st.GetEndpoint(ctx, args[0])
		if err != nil {
			return err
		}
		secret, err := generateSecret(32)
		if err != nil {
			return fmt.Errorf("generate secret: %w", err)
		}
		ep.Secret = secret
		if err := st.UpdateEndpoint(ctx, ep); err != nil {
			return err
		}

		if outputJSON {
			printOutput(map[string]string{"endpoint_id": ep.ID, "secret": secret})
			return nil
		}
		fmt.Printf("New signing secret (shown only now): %s\n", secret)
		return nil
	},
}

func setEndpointActive(id string, active bool) error {
	ctx, cancel := cmdContext()
	defer cancel()
	pool, st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	ep, err := st.GetEndpoint(ctx, id)
	if err != nil {
		return err
	}
	ep.Active = active
	if err := st.UpdateEndpoint(ctx, ep); err != nil {
		return err
	}
	state := "active"
	if !active {
		state = "inactive"
	}
	fmt.Printf("Endpoint %s is now %s\n", ep.ID, state)
	return nil
}

// generateSecret generates a random base64-encoded string of n bytes.
func generateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// parseEvents splits a comma-separated event type list. Empty means all.
func parseEvents(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func init() {
	endpointCreateCmd.Flags().StringVar(&epOrgID, "org", "", "organization id (required)")
	endpointCreateCmd.Flags().StringVar(&epURL, "url", "", "destination URL (required)")
	endpointCreateCmd.Flags().StringVar(&epEvents, "events", "", "comma-separated subscribed event types (empty = all)")
	endpointCreateCmd.Flags().StringVar(&epDescription, "description", "", "free-form description")

	endpointListCmd.Flags().StringVar(&epOrgID, "org", "", "organization id (required)")

	endpointUpdateCmd.Flags().StringVar(&epURL, "url", "", "new destination URL")
	endpointUpdateCmd.Flags().StringVar(&epEvents, "events", "", "new comma-separated event types (empty = all)")
	endpointUpdateCmd.Flags().StringVar(&epDescription, "description", "", "new description")

	endpointCmd.AddCommand(endpointCreateCmd)
	endpointCmd.AddCommand(endpointListCmd)
	endpointCmd.AddCommand(endpointGetCmd)
	endpointCmd.AddCommand(endpointUpdateCmd)
	endpointCmd.AddCommand(endpointActivateCmd)
	endpointCmd.AddCommand(endpointDeactivateCmd)
	endpointCmd.AddCommand(endpointRotateSecretCmd)
	rootCmd.AddCommand(endpointCmd)
}
