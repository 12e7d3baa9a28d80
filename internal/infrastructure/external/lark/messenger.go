package lark

import (
	"context"
	"encoding/json"
	"fmt"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/b2b-provisioning/internal/application/port"
)

const (
	receiveIDTypeChat = "chat_id"
	msgTypeText       = "text"
)

// messageCreator is the slice of the IM API the notifier uses
type messageCreator interface {
	Create(ctx context.Context, req *larkim.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.CreateMessageResp, error)
}

// Notifier implements port.Notifier by posting text messages to a Lark group chat
type Notifier struct {
	messages messageCreator
	chatID   string
	logger   *zap.Logger
}

// NewNotifier creates a notifier posting to chatID
func NewNotifier(client *SDKClient, chatID string, logger *zap.Logger) *Notifier {
	return newNotifier(client.GetClient().Im.Message, chatID, logger)
}

func newNotifier(messages messageCreator, chatID string, logger *zap.Logger) *Notifier {
	return &Notifier{
		messages: messages,
		chatID:   chatID,
		logger:   logger,
	}
}

// Notify sends message to the configured chat
func (n *Notifier) Notify(ctx context.Context, message string) error {
	if n.chatID == "" {
		return fmt.Errorf("chat id cannot be empty")
	}
	if message == "" {
		return fmt.Errorf("message cannot be empty")
	}

	content, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return fmt.Errorf("failed to marshal message content: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDTypeChat).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(n.chatID).
			MsgType(msgTypeText).
			Content(string(content)).
			Build()).
		Build()

	resp, err := n.messages.Create(ctx, req)
	if err != nil {
		n.logger.Error("Failed to send message",
			zap.String("chat_id", n.chatID),
			zap.Error(err))
		return fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		n.logger.Error("API returned failure",
			zap.String("chat_id", n.chatID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}
	n.logger.Info("Message sent successfully",
		zap.String("message_id", messageID),
		zap.String("chat_id", n.chatID))
	return nil
}

// Verify interface compliance
var _ port.Notifier = (*Notifier)(nil)
