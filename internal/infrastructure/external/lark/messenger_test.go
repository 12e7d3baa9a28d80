package lark

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockMessages struct {
	reqs []*larkim.CreateMessageReq
	resp *larkim.CreateMessageResp
	err  error
}

func (m *mockMessages) Create(ctx context.Context, req *larkim.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.CreateMessageResp, error) {
	m.reqs = append(m.reqs, req)
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

func okResponse() *larkim.CreateMessageResp {
	id := "om_123"
	return &larkim.CreateMessageResp{
		CodeError: larkcore.CodeError{Code: 0},
		Data:      &larkim.CreateMessageRespData{MessageId: &id},
	}
}

func TestNotifier_Notify(t *testing.T) {
	messages := &mockMessages{resp: okResponse()}
	n := newNotifier(messages, "oc_ops", zap.NewNop())

	text := "Install request 3 (case 10) is scheduled for 2025-01-10.\nTechnician: \"Li\""
	require.NoError(t, n.Notify(context.Background(), text))
	require.Len(t, messages.reqs, 1)

	body := messages.reqs[0].Body
	require.NotNil(t, body)
	assert.Equal(t, "oc_ops", *body.ReceiveId)
	assert.Equal(t, msgTypeText, *body.MsgType)

	var content map[string]string
	require.NoError(t, json.Unmarshal([]byte(*body.Content), &content))
	assert.Equal(t, text, content["text"])
}

func TestNotifier_Errors(t *testing.T) {
	tests := []struct {
		name     string
		chatID   string
		message  string
		messages *mockMessages
		want     string
	}{
		{name: "no chat", chatID: "", message: "hi", messages: &mockMessages{}, want: "chat id"},
		{name: "empty message", chatID: "oc_ops", message: "", messages: &mockMessages{}, want: "message cannot be empty"},
		{name: "transport", chatID: "oc_ops", message: "hi", messages: &mockMessages{err: errors.New("dial tcp")}, want: "dial tcp"},
		{
			name:     "api failure",
			chatID:   "oc_ops",
			message:  "hi",
			messages: &mockMessages{resp: &larkim.CreateMessageResp{CodeError: larkcore.CodeError{Code: 230002, Msg: "bot not in chat"}}},
			want:     "bot not in chat",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newNotifier(tt.messages, tt.chatID, zap.NewNop())
			assert.ErrorContains(t, n.Notify(context.Background(), tt.message), tt.want)
		})
	}
}
