package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask <document-id> <question...>",
	Short: "Ask a question about a ready document",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runAsk,
}

var chatsCmd = &cobra.Command{
	Use:   "chats <document-id>",
	Short: "Show the questions asked about a document, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runChats,
}

func init() {
	rootCmd.AddCommand(askCmd, chatsCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	documentID := args[0]
	question := strings.Join(args[1:], " ")

	a, closeApp, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp()

	if err := a.LoadIndex(cmd.Context()); err != nil {
		return fmt.Errorf("failed to load index: %w", err)
	}

	answer, err := a.QA.Ask(cmd.Context(), documentID, question)
	if err != nil {
		return err
	}

	cmd.Println(answer.Text)
	if len(answer.Sources) > 0 {
		cmd.Printf("%s %s\n", faint("Sources:"), cyan(strings.Join(answer.Sources, ", ")))
	}
	return nil
}

func runChats(cmd *cobra.Command, args []string) error {
	a, closeApp, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp()

	turns, err := a.QA.History(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		cmd.Println("No questions asked yet.")
		return nil
	}

	for _, t := range turns {
		cmd.Printf("%s %s\n", green("Q:"), t.Question)
		cmd.Printf("%s %s\n", cyan("A:"), t.Answer)
		if len(t.Sources) > 0 {
			cmd.Printf("   %s\n", faint(strings.Join(t.Sources, ", ")))
		}
		cmd.Printf("   %s\n\n", faint(t.CreatedAt.Local().Format("2006-01-02 15:04:05")))
	}
	return nil
}
