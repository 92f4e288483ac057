package data

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/treechat/internal/ident"
	"github.com/PaulBabatuyi/treechat/internal/model"
)

// Store errors carry gRPC status codes so callers classify them the same
// way regardless of which store produced them.
var (
	ErrNotFound         = status.Error(codes.NotFound, "document not found")
	ErrExists           = status.Error(codes.AlreadyExists, "document already exists")
	ErrPermissionDenied = status.Error(codes.PermissionDenied, "missing or insufficient permissions")
)

// CanRead checks that actor is a member of c.
func CanRead(c model.Conversation, actor string) error {
	if !ident.Contains(c.Participants, actor) {
		return ErrPermissionDenied
	}
	return nil
}

// CanCreateConversation checks the id is the key of exactly two distinct
// participants and that actor is one of them.
func CanCreateConversation(c model.Conversation, actor string) error {
	if !ident.Valid(c.ID, c.Participants) {
		return status.Errorf(codes.InvalidArgument, "conversation id %q does not match its participants", c.ID)
	}
	return CanRead(c, actor)
}

// CanPost checks actor may add m to c.
func CanPost(c model.Conversation, m model.Message, actor string) error {
	if err := CanRead(c, actor); err != nil {
		return err
	}
	if m.SenderID != actor || m.ChatID != c.ID {
		return ErrPermissionDenied
	}
	return nil
}

// CanModify checks actor may edit or delete m. Only the sender may.
func CanModify(c model.Conversation, m model.Message, actor string) error {
	if err := CanRead(c, actor); err != nil {
		return err
	}
	if m.SenderID != actor {
		return ErrPermissionDenied
	}
	return nil
}
