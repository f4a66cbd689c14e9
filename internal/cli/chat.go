package cli

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/gatechat/internal/chat"
	"github.com/raphaelgruber/gatechat/internal/gateway"
	"github.com/raphaelgruber/gatechat/internal/models"
)

var (
	chatFiles []string
	chatPlain bool
	chatStats bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with the active conversation",
	Long: `Chat with the active conversation on the active gateway server.

With a message argument the reply is streamed to stdout and the command
exits. Without one, an interactive session opens (unless --plain is given).

Examples:
  gatechat chat "explain CRDTs in one paragraph"
  gatechat chat "summarize this" -f notes.txt -f diagram.png
  gatechat chat --stats "what changed?"
  gatechat chat`,
	Args: cobra.ArbitraryArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringArrayVarP(&chatFiles, "file", "f", nil, "attach a file (repeatable)")
	chatCmd.Flags().BoolVar(&chatPlain, "plain", false, "no interactive UI, stream to stdout")
	chatCmd.Flags().BoolVar(&chatStats, "stats", false, "print request statistics afterwards")
}

func runChat(cmd *cobra.Command, args []string) error {
	conv, err := activeConversation()
	if err != nil {
		return err
	}

	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" && len(chatFiles) == 0 {
		if chatPlain || !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("no message given")
		}
		return runChatSession(conv)
	}

	files, err := loadFiles(chatFiles)
	if err != nil {
		return err
	}

	_, err = orch.Send(context.Background(), chat.SendRequest{
		ConversationID: conv.ID,
		Text:           text,
		Files:          files,
	}, func(delta string) { fmt.Print(delta) })
	if err != nil {
		return err
	}
	fmt.Println()

	if chatStats {
		printStats()
	}
	return nil
}

// loadFiles reads attachment bytes from disk. The MIME type comes from the
// file extension; unknown extensions are sent untyped and left to the
// gateway to sniff.
func loadFiles(paths []string) ([]gateway.File, error) {
	var files []gateway.File
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read attachment: %w", err)
		}
		files = append(files, gateway.File{
			Name: filepath.Base(path),
			Mime: mime.TypeByExtension(filepath.Ext(path)),
			Data: data,
		})
	}
	return files, nil
}

func printStats() {
	snap := collector.Snapshot()

	fmt.Println("\nStatistics:")
	ops := make([]string, 0, len(snap.Ops))
	for op := range snap.Ops {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		s := snap.Ops[op]
		fmt.Printf("  %-12s %d call(s), avg %.0fms (min %dms, max %dms)\n",
			op, s.Count, s.AvgTimeMs, s.MinTimeMs, s.MaxTimeMs)
	}
	if snap.Stream.Streams > 0 {
		fmt.Printf("  %-12s %d delta(s), %d bytes, first delta after %.0fms\n",
			"streamed", snap.Stream.Deltas, snap.Stream.Bytes, snap.Stream.AvgFirstMs)
	}
}

// runChatSession opens the interactive chat UI.
func runChatSession(conv models.Conversation) error {
	m, err := newChatModel(conv)
	if err != nil {
		return err
	}
	p := tea.NewProgram(m)
	_, err = p.Run()
	return err
}
