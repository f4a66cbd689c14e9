package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/gatechat/internal/models"
)

var loginUsername string

var loginCmd = &cobra.Command{
	Use:   "login [name-or-id]",
	Short: "Authenticate against a gateway server",
	Long: `Authenticate against a gateway server and store the bearer token.

Targets the active server unless one is named. The password is read from the
terminal without echo.

Examples:
  gatechat login
  gatechat login prod -u alice`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "username (prompted when omitted)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	var srv models.GatewayServer
	var err error
	if len(args) == 1 {
		srv, err = resolveServer(args[0])
	} else {
		srv, err = orch.ActiveServer()
	}
	if err != nil {
		return err
	}

	username := loginUsername
	if username == "" {
		fmt.Printf("Username for %s: ", srv.Name)
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read username: %w", err)
		}
		username = strings.TrimSpace(line)
	}
	if username == "" {
		return fmt.Errorf("username must not be empty")
	}

	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	token, err := gwClient.Login(context.Background(), srv.BaseURL, username, string(password))
	if err != nil {
		return err
	}

	if err := serverStore.SetToken(srv.ID, token); err != nil {
		return err
	}
	if err := serverStore.UpdateStatus(srv.ID, models.StatusOnline, srv.Region); err != nil {
		return err
	}

	fmt.Printf("Logged in to %s as %s.\n", srv.Name, username)
	return nil
}
