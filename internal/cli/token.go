package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vadim/dealroom/internal/auth"
	"github.com/vadim/dealroom/internal/domain/deal/entity"
)

var (
	tokenRole string
	tokenTTL  time.Duration
	tokenJSON bool
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue an access token for a user",
	Long: `Issue an HS256 access token signed with the configured secret.

Examples:
  dealctl token buyer-42 --role buyer
  dealctl token seller-anna --role seller --ttl 1h --json`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(entity.RoleBuyer), "Role: buyer, seller or advisor")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (defaults to the configured TTL)")
	tokenCmd.Flags().BoolVar(&tokenJSON, "json", false, "Output as JSON")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	role := entity.Role(tokenRole)
	if !role.IsValid() {
		return fmt.Errorf("unknown role %q", tokenRole)
	}

	ttl := cfg.Auth.TokenTTL
	if tokenTTL > 0 {
		ttl = tokenTTL
	}

	token, expiresAt, err := auth.NewService(cfg.Auth.JWTSecret, ttl).Issue(auth.Identity{
		UserID: args[0],
		Role:   role,
	})
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}

	out := cmd.OutOrStdout()
	if tokenJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{
			"token":      token,
			"user_id":    args[0],
			"role":       string(role),
			"expires_at": expiresAt.Format(time.RFC3339),
		})
	}
	fmt.Fprintln(out, token)
	return nil
}
