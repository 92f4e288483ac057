package main

import (
	"errors"
	"strconv"
	"strings"

	"github.com/PaulBabatuyi/treechat/internal/chat"
	"github.com/PaulBabatuyi/treechat/internal/model"
	"github.com/PaulBabatuyi/treechat/internal/normalize"
)

// CommandKind is what a line typed by the user asks for.
type CommandKind int

const (
	CmdNone CommandKind = iota
	CmdText
	CmdUsers
	CmdOpen
	CmdEdit
	CmdCancel
	CmdDelete
	CmdReset
	CmdNewPassword
	CmdHelp
	CmdQuit
)

// Command is a parsed input line.
type Command struct {
	Kind CommandKind
	Args []string
	// Text is the raw line for CmdText.
	Text string
}

var errUnknownCommand = errors.New("unknown command, type /help")

const helpText = `commands:
  /users [query]            list people you can chat with
  /open <email|number>      open a conversation
  /edit <number|id>         edit one of your messages
  /cancel                   leave edit mode
  /delete <number|id>       delete one of your messages
  /reset <email>            send a password reset token
  /newpass <token> <pass>   set a new password with a reset token
  /quit                     sign out and exit
anything else is sent to the open conversation`

// parseCommand parses one input line.
func parseCommand(line string) (Command, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Command{Kind: CmdNone}, nil
	}
	if !strings.HasPrefix(trimmed, "/") {
		return Command{Kind: CmdText, Text: line}, nil
	}

	fields := strings.Fields(trimmed)
	name, args := strings.ToLower(fields[0]), fields[1:]
	switch name {
	case "/users":
		// the query may contain spaces
		return Command{Kind: CmdUsers, Args: []string{strings.Join(args, " ")}}, nil
	case "/open":
		return withArgs(CmdOpen, args, 1, "usage: /open <email|number>")
	case "/edit":
		return withArgs(CmdEdit, args, 1, "usage: /edit <number|id>")
	case "/cancel":
		return Command{Kind: CmdCancel}, nil
	case "/delete":
		return withArgs(CmdDelete, args, 1, "usage: /delete <number|id>")
	case "/reset":
		return withArgs(CmdReset, args, 1, "usage: /reset <email>")
	case "/newpass":
		return withArgs(CmdNewPassword, args, 2, "usage: /newpass <token> <password>")
	case "/help":
		return Command{Kind: CmdHelp}, nil
	case "/quit", "/exit":
		return Command{Kind: CmdQuit}, nil
	default:
		return Command{}, errUnknownCommand
	}
}

func withArgs(kind CommandKind, args []string, n int, usage string) (Command, error) {
	if len(args) != n {
		return Command{}, errors.New(usage)
	}
	return Command{Kind: kind, Args: args}, nil
}

// pick resolves a 1-based position into a list of n entries.
func pick(arg string, n int) (int, bool) {
	i, err := strconv.Atoi(arg)
	if err != nil || i < 1 || i > n {
		return 0, false
	}
	return i - 1, true
}

// resolveMessage finds a message of the snapshot by its position on screen,
// its id, or a unique id suffix.
func resolveMessage(s chat.State, arg string) (model.Message, bool) {
	if i, ok := pick(arg, len(s.Messages)); ok {
		return s.Messages[i], true
	}
	if m, ok := s.Message(arg); ok {
		return m, true
	}
	var found []model.Message
	for _, m := range s.Messages {
		if strings.HasSuffix(m.ID, arg) {
			found = append(found, m)
		}
	}
	if len(found) == 1 {
		return found[0], true
	}
	return model.Message{}, false
}

// resolveConversation finds a conversation by its position in the list.
func resolveConversation(s chat.State, arg string) (model.Conversation, bool) {
	if i, ok := pick(arg, len(s.Conversations)); ok {
		return s.Conversations[i], true
	}
	return model.Conversation{}, false
}

// resolveUser finds a user by email.
func resolveUser(users []model.User, email string) (model.User, bool) {
	email = normalize.Email(email)
	for _, u := range users {
		if u.Email == email {
			return u, true
		}
	}
	return model.User{}, false
}

// isYes reads a confirmation answer.
func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
