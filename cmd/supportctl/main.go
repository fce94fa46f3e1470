// supportctl is a terminal client for the support desk. It keeps one
// realtime session open and prints a line for every notification.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"blakv.app/support/common/id"
	"blakv.app/support/internal/client"
	"blakv.app/support/internal/http/middleware"
	"blakv.app/support/internal/model"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		serverURL  string
		userFlag   string
		signingKey string
		watch      bool
	)

	flagSet := pflag.NewFlagSet("supportctl", pflag.ContinueOnError)
	flagSet.StringVar(&serverURL, "server", getEnv("SUPPORT_URL", "http://localhost:5000"), "support server base URL")
	flagSet.StringVarP(&userFlag, "user", "u", os.Getenv("SUPPORT_USER_ID"), "user id to act as")
	flagSet.StringVar(&signingKey, "signing-key", os.Getenv("IDENTITY_SIGNING_KEY"), "HMAC key for the identity header, when the server requires one")
	flagSet.BoolVarP(&watch, "watch", "w", false, "poll the ticket list in the background")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	userID, err := id.Parse(userFlag)
	if err != nil {
		return fmt.Errorf("--user: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := client.SessionConfig{
		BaseURL: serverURL,
		UserID:  userID,
		OnNotify: func(n client.Notification) {
			fmt.Fprintf(os.Stderr, "\n* %s: %s (%s)\n> ", n.Title, n.Message, n.Link)
		},
	}
	if signingKey != "" {
		cfg.Signature = middleware.Sign(signingKey, id.Format(userID))
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	session, err := client.Dial(dialCtx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer session.Close()

	user := session.User()
	fmt.Fprintf(os.Stderr, "Connected as %s (%s). Type 'help' for commands.\n", user.Name, user.Role)

	if watch {
		if err := session.WatchQueue(ctx); err != nil {
			return err
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := execute(ctx, session, strings.TrimSpace(line))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func execute(ctx context.Context, s *client.Session, line string) (bool, error) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
		return false, nil
	case "quit", "exit", "q":
		return true, nil
	case "help":
		fmt.Println(commands)
	case "list":
		for _, t := range s.Reconciler().Tickets() {
			printSummary(t)
		}
	case "new":
		subject, message, ok := strings.Cut(arg, "|")
		if !ok {
			return false, errors.New("usage: new <subject> | <message>")
		}
		t, err := s.Create(ctx, strings.TrimSpace(subject), strings.TrimSpace(message))
		if err != nil {
			return false, err
		}
		fmt.Printf("Created ticket %s\n", id.Format(t.ID))
	case "open":
		ticketID, err := id.Parse(arg)
		if err != nil {
			return false, fmt.Errorf("usage: open <ticket id>")
		}
		t, err := s.OpenTicket(ctx, ticketID)
		if err != nil {
			return false, err
		}
		printTicket(t)
	case "show":
		t := s.Reconciler().Current()
		if t == nil {
			return false, client.ErrNoTicketOpen
		}
		printTicket(t)
	case "close":
		return false, s.CloseTicket(ctx)
	case "send":
		if arg == "" {
			return false, errors.New("usage: send <message>")
		}
		_, err := s.Send(ctx, arg)
		return false, err
	case "status":
		t, err := s.SetStatus(ctx, model.TicketStatus(arg))
		if err != nil {
			return false, err
		}
		fmt.Printf("Ticket %s is now %s\n", id.Format(t.ID), t.Status)
	case "watch":
		return false, s.WatchQueue(ctx)
	case "unwatch":
		s.StopQueue()
	case "inbox":
		for _, n := range s.Reconciler().Notifications() {
			mark := " "
			if !n.Read {
				mark = "*"
			}
			fmt.Printf("%s %s  %s: %s\n", mark, n.CreatedAt.Format(time.Kitchen), n.Title, n.Message)
		}
		fmt.Printf("%d unread\n", s.Reconciler().Unread())
	case "read":
		s.Reconciler().MarkAllRead()
	default:
		return false, fmt.Errorf("unknown command %q", cmd)
	}
	return false, nil
}

func printSummary(t model.Ticket) {
	agent := "unassigned"
	if t.AssignedAgentName != nil {
		agent = *t.AssignedAgentName
	}
	fmt.Printf("%s  %-11s  %-20s  %s  (%d messages)\n", id.Format(t.ID), t.Status, agent, t.Subject, len(t.Messages))
}

func printTicket(t *model.Ticket) {
	fmt.Printf("# %s [%s] %s\n", t.Subject, t.Status, t.CustomerName)
	for _, m := range t.Messages {
		who := m.SenderName
		if m.IsAgentReply {
			who += " (support)"
		}
		fmt.Printf("  %s  %s: %s\n", m.CreatedAt.Format(time.Kitchen), who, m.Content)
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintln(os.Stderr, "Usage: supportctl --user <id> [flags]")
	fmt.Fprintln(os.Stderr)
	flagSet.PrintDefaults()
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, commands)
}

const commands = `Commands:
  list                       tickets known to this session
  new <subject> | <message>  open a ticket
  open <id>                  view a ticket and follow it live
  show                       reprint the open ticket
  send <message>             reply on the open ticket
  status <status>            set the open ticket's status (agents)
  close                      stop following the open ticket
  watch / unwatch            poll the ticket list
  inbox                      notification history
  read                       mark all notifications read
  quit`

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
