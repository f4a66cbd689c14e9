package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/gatechat/internal/models"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"convs"},
	Short:   "Manage conversations",
	Long: `Manage stored conversations.

Subcommands:
  list    List conversations (default)
  new     Start a new conversation and make it active
  use     Select the active conversation
  rename  Rename the active conversation
  model   Set the active conversation's provider and model

Examples:
  gatechat conversations
  gatechat conversations new
  gatechat conversations rename "Trip planning"
  gatechat conversations model gemini gemini-2.5-pro`,
	RunE: runConversationsList,
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	RunE:  runConversationsList,
}

var conversationsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a new conversation and make it active",
	RunE:  runConversationsNew,
}

var conversationsUseCmd = &cobra.Command{
	Use:   "use <id-or-title>",
	Short: "Select the active conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsUse,
}

var conversationsRenameCmd = &cobra.Command{
	Use:   "rename <title>",
	Short: "Rename the active conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsRename,
}

var conversationsModelCmd = &cobra.Command{
	Use:   "model <provider> [model]",
	Short: "Set the active conversation's provider and model",
	Long: `Set the active conversation's provider, and optionally a specific model.
Omitting the model selects the provider's default.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runConversationsModel,
}

func init() {
	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsNewCmd)
	conversationsCmd.AddCommand(conversationsUseCmd)
	conversationsCmd.AddCommand(conversationsRenameCmd)
	conversationsCmd.AddCommand(conversationsModelCmd)
}

// resolveConversation finds a conversation by id, id prefix, or exact title.
func resolveConversation(arg string) (models.Conversation, error) {
	convs, err := convStore.Conversations()
	if err != nil {
		return models.Conversation{}, err
	}
	for _, conv := range convs {
		if conv.ID == arg || conv.Title == arg {
			return conv, nil
		}
	}
	for _, conv := range convs {
		if strings.HasPrefix(conv.ID, arg) {
			return conv, nil
		}
	}
	return models.Conversation{}, fmt.Errorf("no conversation matching %q", arg)
}

func runConversationsList(cmd *cobra.Command, args []string) error {
	if _, err := activeConversation(); err != nil {
		return err
	}
	convs, err := convStore.Conversations()
	if err != nil {
		return err
	}
	activeID, err := convStore.ActiveConversationID()
	if err != nil {
		return err
	}

	fmt.Printf("Conversations (%d):\n\n", len(convs))
	for _, conv := range convs {
		marker := " "
		if conv.ID == activeID {
			marker = "*"
		}
		fmt.Printf("%s %-26s %s/%s  %s\n",
			marker, conv.Title, conv.Provider, conv.Model, conv.ID[:8])
	}
	return nil
}

func runConversationsNew(cmd *cobra.Command, args []string) error {
	conv, err := convStore.NewConversation(cfg.DefaultProvider, cfg.DefaultModel, orch.Greeting())
	if err != nil {
		return err
	}
	fmt.Printf("Started %s (%s/%s).\n", conv.Title, conv.Provider, conv.Model)
	return nil
}

func runConversationsUse(cmd *cobra.Command, args []string) error {
	conv, err := resolveConversation(args[0])
	if err != nil {
		return err
	}
	if err := convStore.SetActiveConversation(conv.ID); err != nil {
		return err
	}
	fmt.Printf("Active conversation: %s\n", conv.Title)
	return nil
}

func runConversationsRename(cmd *cobra.Command, args []string) error {
	conv, err := activeConversation()
	if err != nil {
		return err
	}
	if err := convStore.Rename(conv.ID, args[0]); err != nil {
		return err
	}
	fmt.Printf("Renamed to %s.\n", strings.TrimSpace(args[0]))
	return nil
}

func runConversationsModel(cmd *cobra.Command, args []string) error {
	conv, err := activeConversation()
	if err != nil {
		return err
	}
	provider, err := models.ParseProvider(args[0])
	if err != nil {
		return err
	}
	model := provider.DefaultModel()
	if len(args) == 2 {
		model = args[1]
	}
	if err := convStore.SetProviderModel(conv.ID, provider, model); err != nil {
		return err
	}
	fmt.Printf("Using %s/%s.\n", provider, model)
	return nil
}
