package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/service"
)

var (
	tokenSubject string
	tokenScopes  []string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue API tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Print a signed bearer token for local tooling",
	Long: `Issue signs a token with the configured JWT secret without going through
the client credentials flow. It expires after token_ttl.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		scopes := tokenScopes
		if len(scopes) == 0 {
			scopes = []string{domain.ScopeAll}
		}
		for _, scope := range scopes {
			if !domain.ValidScope(scope) {
				return fmt.Errorf("unknown scope %q", scope)
			}
		}
		token, err := services.AuthService.IssueToken(tokenSubject, "operator", scopes)
		if err != nil {
			return err
		}

		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenIssueCmd)

	tokenIssueCmd.Flags().StringVar(&tokenSubject, "subject", service.LocalOperator.ID, "Token subject")
	tokenIssueCmd.Flags().StringSliceVar(&tokenScopes, "scopes", nil, "Scopes to grant (default all)")
}
