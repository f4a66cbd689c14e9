package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/gatechat/internal/gateway"
	"github.com/raphaelgruber/gatechat/internal/models"
	"github.com/raphaelgruber/gatechat/internal/store"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Manage gateway servers",
	Long: `Manage the registry of gateway servers.

Subcommands:
  add          Register a new gateway server
  list         List registered servers (default)
  use          Select the active server
  remove       Remove a server
  check        Probe every server and update its status
  clear-token  Drop a server's token

Examples:
  gatechat servers add prod https://gw.example.com
  gatechat servers add dev http://localhost:8787
  gatechat servers use prod
  gatechat servers check`,
	RunE: runServersList,
}

var serversAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Register a new gateway server",
	Args:  cobra.ExactArgs(2),
	RunE:  runServersAdd,
}

var serversListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered servers",
	RunE:  runServersList,
}

var serversUseCmd = &cobra.Command{
	Use:   "use <name-or-id>",
	Short: "Select the active server",
	Args:  cobra.ExactArgs(1),
	RunE:  runServersUse,
}

var serversRemoveCmd = &cobra.Command{
	Use:   "remove <name-or-id>",
	Short: "Remove a server from the registry",
	Args:  cobra.ExactArgs(1),
	RunE:  runServersRemove,
}

var serversCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe every server and update its status",
	RunE:  runServersCheck,
}

var serversClearTokenCmd = &cobra.Command{
	Use:   "clear-token [name-or-id]",
	Short: "Drop a server's token, marking it auth_failed",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runServersClearToken,
}

func init() {
	serversCmd.AddCommand(serversAddCmd)
	serversCmd.AddCommand(serversListCmd)
	serversCmd.AddCommand(serversUseCmd)
	serversCmd.AddCommand(serversRemoveCmd)
	serversCmd.AddCommand(serversCheckCmd)
	serversCmd.AddCommand(serversClearTokenCmd)
}

// resolveServer finds a registry entry by name or id.
func resolveServer(arg string) (models.GatewayServer, error) {
	servers, err := serverStore.Load()
	if err != nil {
		return models.GatewayServer{}, err
	}
	for _, srv := range servers {
		if srv.Name == arg || srv.ID == arg {
			return srv, nil
		}
	}
	return models.GatewayServer{}, fmt.Errorf("no server named %q", arg)
}

func runServersAdd(cmd *cobra.Command, args []string) error {
	name, rawURL := args[0], args[1]

	baseURL, err := store.NormalizeAndValidateBaseURL(rawURL)
	if err != nil {
		return err
	}
	if _, err := resolveServer(name); err == nil {
		return fmt.Errorf("server %q already exists", name)
	}

	// Adding an unreachable server is a hard error, unlike 'check' which
	// downgrades failures to offline.
	ctx := context.Background()
	meta, err := gwClient.Meta(ctx, baseURL)
	if err != nil {
		return fmt.Errorf("probe %s: %w", baseURL, err)
	}

	srv := models.NewGatewayServer(name, baseURL)
	srv.Status = models.StatusOnline
	srv.Region = meta.Region
	srv.LastCheckedAt = time.Now()
	if err := serverStore.Add(srv); err != nil {
		return err
	}

	// First server becomes active automatically.
	activeID, err := serverStore.ActiveID()
	if err != nil {
		return err
	}
	if activeID == "" {
		if err := serverStore.SetActiveID(srv.ID); err != nil {
			return err
		}
	}

	fmt.Printf("Added %s (%s", name, baseURL)
	if meta.Region != "" {
		fmt.Printf(", region %s", meta.Region)
	}
	fmt.Println("). Run 'gatechat login' to authenticate.")
	return nil
}

func runServersList(cmd *cobra.Command, args []string) error {
	servers, err := serverStore.Load()
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		fmt.Println("No servers registered. Add one with 'gatechat servers add <name> <url>'.")
		return nil
	}

	activeID, err := serverStore.ActiveID()
	if err != nil {
		return err
	}
	active := store.PickActive(servers, activeID)

	fmt.Printf("Servers (%d):\n\n", len(servers))
	for _, srv := range servers {
		marker := " "
		if active != nil && srv.ID == active.ID {
			marker = "*"
		}
		auth := "no token"
		if srv.HasToken() {
			auth = "token"
		}
		fmt.Printf("%s %-12s %-32s %-11s %s", marker, srv.Name, srv.BaseURL, srv.Status, auth)
		if srv.Region != "" {
			fmt.Printf("  [%s]", srv.Region)
		}
		fmt.Println()
	}
	return nil
}

func runServersUse(cmd *cobra.Command, args []string) error {
	srv, err := resolveServer(args[0])
	if err != nil {
		return err
	}
	if err := serverStore.SetActiveID(srv.ID); err != nil {
		return err
	}
	fmt.Printf("Active server: %s (%s)\n", srv.Name, srv.BaseURL)
	return nil
}

func runServersRemove(cmd *cobra.Command, args []string) error {
	srv, err := resolveServer(args[0])
	if err != nil {
		return err
	}
	if err := serverStore.Remove(srv.ID); err != nil {
		return err
	}
	fmt.Printf("Removed %s.\n", srv.Name)
	return nil
}

func runServersCheck(cmd *cobra.Command, args []string) error {
	servers, err := serverStore.Load()
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		fmt.Println("No servers registered.")
		return nil
	}

	ctx := context.Background()
	for _, srv := range servers {
		ok, err := gwClient.Health(ctx, srv.BaseURL)
		var meta *gateway.Meta
		if err == nil && ok {
			meta, err = gwClient.Meta(ctx, srv.BaseURL)
		}
		if err != nil || !ok {
			// Reachability problems are routine here; record, don't fail.
			logger.Info("server check failed", "server", srv.Name, "error", err)
			if err := serverStore.UpdateStatus(srv.ID, models.StatusOffline, srv.Region); err != nil {
				return err
			}
			fmt.Printf("%-12s offline\n", srv.Name)
			continue
		}
		if err := serverStore.UpdateStatus(srv.ID, models.StatusOnline, meta.Region); err != nil {
			return err
		}
		fmt.Printf("%-12s online", srv.Name)
		if meta.Region != "" {
			fmt.Printf("  [%s]", meta.Region)
		}
		fmt.Println()
	}
	return nil
}

func runServersClearToken(cmd *cobra.Command, args []string) error {
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
	if err := serverStore.ClearToken(srv.ID); err != nil {
		return err
	}
	fmt.Printf("Cleared token for %s.\n", srv.Name)
	return nil
}
