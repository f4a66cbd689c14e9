package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/gatechat/internal/chat"
	"github.com/raphaelgruber/gatechat/internal/models"
)

var modelsProvider string

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models the active server offers",
	Long: `List the models the active gateway server offers for a provider.

Defaults to the active conversation's provider.

Examples:
  gatechat models
  gatechat models --provider gemini`,
	RunE: runModels,
}

func init() {
	modelsCmd.Flags().StringVarP(&modelsProvider, "provider", "p", "", "provider to list models for")
}

func runModels(cmd *cobra.Command, args []string) error {
	srv, err := orch.ActiveServer()
	if err != nil {
		return err
	}
	if !srv.HasToken() {
		return chat.ErrNotAuthenticated
	}

	provider := cfg.DefaultProvider
	if conv, err := activeConversation(); err == nil {
		provider = conv.Provider
	}
	if modelsProvider != "" {
		provider, err = models.ParseProvider(modelsProvider)
		if err != nil {
			return err
		}
	}

	list, err := gwClient.ListModels(context.Background(), srv.BaseURL, srv.Token, provider)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Printf("No models available for %s on %s.\n", provider, srv.Name)
		return nil
	}

	fmt.Printf("Models for %s on %s:\n\n", provider, srv.Name)
	for _, m := range list {
		fmt.Printf("- %s\n", m.ID)
	}
	return nil
}
