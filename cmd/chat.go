package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/groundchat/groundchat/internal/app"
	"github.com/groundchat/groundchat/internal/chat"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	RunE:  runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}()

	sessionID := uuid.NewString()

	fmt.Println("groundchat - ask questions about your indexed documents")
	fmt.Println("Type /help for commands, /exit to quit.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")

		if !scanner.Scan() {
			// EOF (Ctrl+D)
			fmt.Println("\nGoodbye!")
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if handleCommand(input, a, sessionID) {
				break
			}
			continue
		}

		answer, err := a.Engine.Ask(ctx, sessionID, input)
		if err != nil {
			if errors.Is(err, chat.ErrGenerationUnavailable) {
				fmt.Fprintln(os.Stderr, "The model is currently unavailable. Please try again.")
			} else {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			continue
		}

		fmt.Println(answer.Text)
		if len(answer.Passages) > 0 {
			fmt.Println()
			fmt.Println(sourcesLine(answer))
		}
		fmt.Println()
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}

// handleCommand handles slash commands; returns true when the REPL should
// exit.
func handleCommand(input string, a *app.App, sessionID string) bool {
	parts := strings.Fields(input)

	switch parts[0] {
	case "/exit", "/quit":
		fmt.Println("Goodbye!")
		return true

	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /reset              Clear conversation history")
		fmt.Println("  /grounded on|off    Toggle document grounding")
		fmt.Println("  /help               Show this help")
		fmt.Println("  /exit, /quit        Exit")

	case "/reset":
		if err := a.Engine.Reset(sessionID); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			break
		}
		fmt.Println("Conversation history cleared.")

	case "/grounded":
		if len(parts) != 2 || (parts[1] != "on" && parts[1] != "off") {
			fmt.Println("Usage: /grounded on|off")
			break
		}
		grounded := parts[1] == "on"
		if err := a.Engine.SetGrounded(sessionID, grounded); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			break
		}
		if grounded {
			fmt.Println("Grounded mode on: answers use indexed documents.")
		} else {
			fmt.Println("Grounded mode off: answering from conversation only.")
		}

	default:
		fmt.Printf("Unknown command %q. Type /help for commands.\n", parts[0])
	}

	return false
}

// sourcesLine renders the distinct sources behind an answer.
func sourcesLine(answer *chat.Answer) string {
	seen := make(map[string]bool)
	var sources []string
	for _, p := range answer.Passages {
		if !seen[p.Source] {
			seen[p.Source] = true
			sources = append(sources, p.Source)
		}
	}
	return "Sources: " + strings.Join(sources, ", ")
}
