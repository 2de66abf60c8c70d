package cli

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/models"
)

// IdentifyOptions holds flags for the identify command.
type IdentifyOptions struct {
	*RootOptions
	Email string
	Phone string
}

// NewIdentifyCommand creates the identify command.
func NewIdentifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IdentifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "identify",
		Short: "Reconcile one contact against the store and print its identity",
		Long: `Reconcile one contact against the configured store and print the
consolidated identity as JSON, the same body POST /api/identify returns.

Example:
  fern identify --email doc@hillvalley.edu --phone 123456`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Email == "" && opts.Phone == "" {
				return errors.New("at least one of --email or --phone is required")
			}
			return withService(cmd.Context(), opts.Config, opts.Logger, func(ctx context.Context, service *identity.Service) error {
				summary, err := service.Identify(ctx, opts.Email, opts.Phone)
				if err != nil {
					return err
				}
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(models.IdentifyResponse{Contact: summary})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "contact email")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "contact phone number")

	return cmd
}
