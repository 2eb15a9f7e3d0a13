package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"scribe.evalgo.org/common"
	"scribe.evalgo.org/security"
)

func init() {
	RootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("user", "", "user id to embed in the token")
	tokenCmd.Flags().String("email", "", "email to embed in the token")
	tokenCmd.MarkFlagRequired("user")
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "issue a signed socket token",
	Long: `Issues a signed JWT a client can present when opening a websocket
connection, valid for security.token_ttl. Meant for development and
operational testing; production clients get tokens from the identity
provider.`,
	Run: runToken,
}

func runToken(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		common.Logger.WithError(err).Fatal("configuration error")
	}

	userID, _ := cmd.Flags().GetString("user")
	email, _ := cmd.Flags().GetString("email")

	token, err := security.NewJWTService(cfg.Security.JWTSecret).
		GenerateToken(userID, email, cfg.Security.TokenTTL)
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to generate token")
	}

	fmt.Println(token)
}
