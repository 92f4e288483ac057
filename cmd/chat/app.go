package main

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/PaulBabatuyi/treechat/internal/auth"
	"github.com/PaulBabatuyi/treechat/internal/chat"
	"github.com/PaulBabatuyi/treechat/internal/logger"
	"github.com/PaulBabatuyi/treechat/internal/view"
)

const commandTimeout = 15 * time.Second

var errSignedOut = errors.New("you are not signed in")

// app runs user commands against the signed-in session.
type app struct {
	provider *auth.Provider
	client   *chat.Client
	term     *terminal
	lines    <-chan string
	log      *logger.Logger
}

// bindSession forwards the provider's session changes to the client.
func bindSession(p *auth.Provider, c *chat.Client) (unbind func()) {
	return p.OnSessionChange(func(s *auth.Session) {
		if s == nil {
			c.SessionChanged(nil)
			return
		}
		u := s.User
		c.SessionChanged(&u)
	})
}

// run reads commands until /quit, end of input or ctx is done.
func (a *app) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-a.lines:
			if !ok {
				return
			}
			cmd, err := parseCommand(line)
			if err != nil {
				a.term.println(err.Error())
				continue
			}
			if cmd.Kind == CmdQuit {
				return
			}
			a.report(a.handle(ctx, cmd))
		}
	}
}

// report prints errors the engine does not turn into notices.
func (a *app) report(err error) {
	switch {
	case err == nil:
	case chat.Classify(err) == chat.ClassValidation || errors.Is(err, errSignedOut):
		a.term.println(err.Error())
	case errors.Is(err, chat.ErrClosed):
		a.log.Debug("engine closed", zap.Error(err))
	default:
		// already shown as a notice
		a.log.Debug("command failed", zap.Error(err))
	}
}

func (a *app) handle(parent context.Context, cmd Command) error {
	ctx, cancel := context.WithTimeout(parent, commandTimeout)
	defer cancel()

	switch cmd.Kind {
	case CmdNone:
		return nil
	case CmdHelp:
		a.term.println(helpText)
		return nil
	case CmdReset:
		if err := a.provider.ResetCredential(ctx, cmd.Args[0]); err != nil {
			a.term.println(auth.Message(err))
			return nil
		}
		a.term.println("A reset token was sent to " + cmd.Args[0] + ".")
		return nil
	case CmdNewPassword:
		if err := a.provider.CompleteReset(ctx, cmd.Args[0], cmd.Args[1]); err != nil {
			a.term.println(auth.Message(err))
			return nil
		}
		a.term.println("Password updated.")
		return nil
	}

	coord := a.client.Coordinator()
	if coord == nil {
		return errSignedOut
	}
	engine := a.client.Engine()

	switch cmd.Kind {
	case CmdText:
		if engine.Snapshot().EditingMessageID != "" {
			return coord.SaveEdit(ctx, cmd.Text)
		}
		return coord.SendMessage(ctx, cmd.Text)

	case CmdUsers:
		users, err := coord.Users(ctx)
		if err != nil {
			return err
		}
		a.term.users(view.ProjectUsers(users, cmd.Args[0]))
		return nil

	case CmdOpen:
		if conv, ok := resolveConversation(engine.Snapshot(), cmd.Args[0]); ok {
			return coord.Open(conv)
		}
		users, err := coord.Users(ctx)
		if err != nil {
			return err
		}
		peer, ok := resolveUser(users, cmd.Args[0])
		if !ok {
			a.term.println(view.LabelNoUsers)
			return nil
		}
		_, err = coord.StartConversation(ctx, peer)
		return err

	case CmdEdit:
		m, ok := resolveMessage(engine.Snapshot(), cmd.Args[0])
		if !ok {
			a.term.println("message not found")
			return nil
		}
		_, err := coord.BeginEdit(m.ID)
		return err

	case CmdCancel:
		coord.CancelEdit()
		return nil

	case CmdDelete:
		m, ok := resolveMessage(engine.Snapshot(), cmd.Args[0])
		if !ok {
			a.term.println("message not found")
			return nil
		}
		// no deadline on the answer; the coordinator bounds the write
		return coord.DeleteMessage(parent, m.ID, chat.ConfirmFunc(func(prompt string) bool {
			a.term.prompt(prompt + " [y/N] ")
			select {
			case answer, ok := <-a.lines:
				return ok && isYes(answer)
			case <-parent.Done():
				return false
			}
		}))
	}
	return nil
}
