package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedMessageHandler(t *testing.T) {
	type payload struct {
		ID string `json:"id"`
	}
	var processed []string
	h := &TypedMessageHandler[payload]{
		Validate: func(p *payload) bool { return p.ID != "" },
		Process: func(_ context.Context, p *payload) error {
			if p.ID == "fail" {
				return errors.New("boom")
			}
			processed = append(processed, p.ID)
			return nil
		},
		AlwaysMark: true,
	}

	cases := []struct {
		name     string
		msg      string
		wantMark bool
		wantErr  bool
	}{
		{"valid", `{"id":"a"}`, true, false},
		{"invalid json marked", `{`, true, false},
		{"failed validation marked", `{"id":""}`, true, false},
		{"process error not marked", `{"id":"fail"}`, false, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			mark, err := h.HandleMessage(context.Background(), []byte(c.msg))
			assert.Equal(t, c.wantMark, mark)
			assert.Equal(t, c.wantErr, err != nil)
		})
	}
	assert.Equal(t, []string{"a"}, processed)
}

func TestTriggerHandler(t *testing.T) {
	var got []string
	h := NewTriggerHandler(func(_ context.Context, id string) { got = append(got, id) }, nil)

	mark, err := h.HandleMessage(context.Background(), []byte(`{"source_id":" jin10 "}`))
	require.NoError(t, err)
	assert.True(t, mark)

	mark, err = h.HandleMessage(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, mark)

	mark, _ = h.HandleMessage(context.Background(), []byte(`{"source_id":"bad id"}`))
	assert.True(t, mark)

	assert.Equal(t, []string{"jin10", ""}, got)
}

func TestProducerSend(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"id":"a1"}` {
			return errors.New("unexpected payload")
		}
		return nil
	})
	mp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewProducerFrom(mp, "articles")
	require.NoError(t, p.Send(context.Background(), "a1", []byte(`{"id":"a1"}`)))
	err := p.Send(context.Background(), "a2", []byte(`{}`))
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestProducerSendCancelled(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	p := NewProducerFrom(mp, "articles")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Send(ctx, "k", nil), context.Canceled)
	require.NoError(t, p.Close())
}
