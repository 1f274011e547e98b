// Parley CLI - command line client for the parley chat server
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/parley-chat/parley/clients/go/parley"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("PARLEY_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	client := parley.NewClient(baseURL)
	client.Token = os.Getenv("PARLEY_TOKEN")
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "register":
		if len(os.Args) < 5 {
			fmt.Fprintln(os.Stderr, "Usage: parley register <name> <email> <password>")
			os.Exit(1)
		}
		resp, err := client.Register(os.Args[2], os.Args[3], os.Args[4])
		exitOnError(err)
		fmt.Printf("Registered as: %s\nToken: %s\n", resp.ID, resp.Token)

	case "login":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: parley login <email> <password>")
			os.Exit(1)
		}
		resp, err := client.Login(os.Args[2], os.Args[3])
		exitOnError(err)
		fmt.Printf("Logged in as: %s\nToken: %s\n", resp.ID, resp.Token)

	case "search":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: parley search <query>")
			os.Exit(1)
		}
		users, err := client.SearchUsers(os.Args[2])
		exitOnError(err)
		for _, u := range users {
			fmt.Printf("  %s  %s <%s>\n", u.ID, u.Name, u.Email)
		}

	case "conversations":
		convs, err := client.Conversations()
		exitOnError(err)
		for _, c := range convs {
			kind := "direct"
			if c.IsGroup {
				kind = "group"
			}
			fmt.Printf("  %s  [%s] %s (%d members)\n", c.ID, kind, c.Name, len(c.Participants))
		}

	case "create":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: parley create <user_id>... [-g <name>]")
			os.Exit(1)
		}
		name := ""
		isGroup := false
		members := []string{}
		args := os.Args[2:]
		for i := 0; i < len(args); i++ {
			if args[i] == "-g" && i+1 < len(args) {
				isGroup = true
				name = args[i+1]
				i++
				continue
			}
			members = append(members, args[i])
		}
		conv, err := client.CreateConversation(name, isGroup, members)
		exitOnError(err)
		fmt.Printf("Conversation: %s\n", conv.ID)

	case "read":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: parley read <conversation_id>")
			os.Exit(1)
		}
		msgs, err := client.Messages(os.Args[2])
		exitOnError(err)
		printMessages(msgs)

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: parley send <conversation_id> <message>")
			os.Exit(1)
		}
		msg, err := client.SendMessage(os.Args[2], os.Args[3])
		exitOnError(err)
		fmt.Printf("Sent: %s\n", msg.ID)

	case "watch":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: parley watch <conversation_id>")
			os.Exit(1)
		}
		// Print history, then poll for new messages until interrupted
		msgs, err := client.Messages(os.Args[2])
		exitOnError(err)
		printMessages(msgs)

		cursor := ""
		if len(msgs) > 0 {
			cursor = msgs[len(msgs)-1].ID
		}
		p := parley.NewPoller(client, os.Args[2], cursor, parley.DefaultPollInterval)
		p.Handler = printMessages

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		p.Run(ctx)

	case "delete":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: parley delete <conversation_id> <message_id>")
			os.Exit(1)
		}
		exitOnError(client.DeleteMessage(os.Args[2], os.Args[3]))
		fmt.Println("Deleted")

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`Parley CLI - chat from the command line

Usage: parley <command> [options]

Commands:
  register <name> <email> <password>   Create an account
  login <email> <password>             Log in, prints a token
  search <query>                       Find users by name or email
  conversations                        List your conversations
  create <user_id>... [-g <name>]      Start a conversation (direct or group)
  read <conversation_id>               Print message history
  send <conversation_id> <message>     Send a message
  watch <conversation_id>              Print history, then follow new messages
  delete <conversation_id> <msg_id>    Delete a message
  health                               Check server health

Environment:
  PARLEY_URL     Server URL (default: http://localhost:8080)
  PARLEY_TOKEN   Session token from register/login`)
}

func printMessages(msgs []parley.Message) {
	for _, msg := range msgs {
		ts := msg.CreatedAt.Local().Format("2006-01-02 15:04:05")
		name := msg.SenderName
		if name == "" {
			name = msg.SenderID
			if len(name) > 8 {
				name = name[:8]
			}
		}
		fmt.Printf("[%s] %s: %s\n", ts, name, msg.Content)
	}
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
