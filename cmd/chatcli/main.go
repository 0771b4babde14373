// chatcli is a line-oriented chat client for one conversation. The coach
// and client parties each run their own instance against the server, which
// is the only thing coordinating them.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/DorianValentino/eliteshred-dashboard/internal/chatview"
	"github.com/DorianValentino/eliteshred-dashboard/internal/logging"
	"github.com/DorianValentino/eliteshred-dashboard/internal/models"
	"github.com/DorianValentino/eliteshred-dashboard/pkg/utils"
)

func main() {
	var (
		server       = flag.String("server", "http://localhost:8080", "chat server base URL")
		role         = flag.String("role", "client", "party role: coach or client")
		conversation = flag.Int64("conversation", 0, "conversation id (the client's id)")
		token        = flag.String("token", "", "bearer token; minted locally when -secret is set instead")
		secret       = flag.String("secret", "", "shared JWT secret for minting a token")
		recipient    = flag.String("recipient", "", "recipient address attached to outgoing messages")
	)
	flag.Parse()

	senderRole := models.SenderRole(*role)
	if !senderRole.Valid() {
		fmt.Fprintln(os.Stderr, "role must be coach or client")
		os.Exit(1)
	}
	if *conversation <= 0 {
		fmt.Fprintln(os.Stderr, "-conversation is required")
		os.Exit(1)
	}

	logger := logging.New("development", "")

	bearer := *token
	if bearer == "" {
		if *secret == "" {
			fmt.Fprintln(os.Stderr, "either -token or -secret is required")
			os.Exit(1)
		}
		actorID := strconv.FormatInt(*conversation, 10)
		if senderRole == models.RoleCoach {
			actorID = "0"
		}
		minted, err := utils.GenerateToken(actorID, string(senderRole), *secret)
		if err != nil {
			logger.Fatal().Err(err).Msg("mint token")
		}
		bearer = minted
	}

	remote := chatview.NewRemote(*server, bearer, logger)

	view := chatview.New(remote, remote, chatview.Config{
		ConversationID:   *conversation,
		Role:             senderRole,
		RecipientAddress: *recipient,
		MarkReadOnOpen:   senderRole == models.RoleCoach,
		Logger:           logger,
		OnInsert: func(message models.Message) {
			fmt.Printf("[%s] %s: %s\n",
				message.CreatedAt.Local().Format("15:04"),
				message.Sender,
				message.Body,
			)
		},
	})

	ctx := context.Background()
	if err := view.Open(ctx); err != nil {
		logger.Fatal().Err(err).Msg("open conversation view")
	}
	defer view.Close()
	view.Focus(ctx)

	for _, entry := range view.Messages() {
		fmt.Printf("[%s] %s: %s\n",
			entry.Message.CreatedAt.Local().Format("15:04"),
			entry.Message.Sender,
			entry.Message.Body,
		)
	}
	if view.PollOnly() {
		fmt.Println("(no live connection, unread polling only)")
	}
	fmt.Println("type a message and press enter; /unread, /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/unread":
			fmt.Printf("unread: %d\n", view.Unread())
			continue
		}

		if _, err := view.Send(ctx, line); err != nil {
			fmt.Fprintf(os.Stderr, "send failed, message not delivered: %v\n", err)
		}
	}
}
