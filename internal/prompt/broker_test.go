package prompt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	opened chan *Prompt
	closed map[string]string
}

func newRecorder() *recorder {
	return &recorder{opened: make(chan *Prompt, 8), closed: make(map[string]string)}
}

func (r *recorder) PromptOpened(p *Prompt) { r.opened <- p }

func (r *recorder) PromptClosed(id, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed[id] = reason
}

func (r *recorder) reason(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed[id]
}

func TestAskResolve(t *testing.T) {
	rec := newRecorder()
	b := NewBroker(Config{Timeout: time.Second}, rec)

	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := b.Ask(context.Background(), KindWalletChoose, "changelly", WalletChoosePayload{
			Choices: []WalletChoice{{WalletID: "w1", PluginID: "bitcoin", CurrencyCode: "BTC"}},
		})
		done <- result{resp, err}
	}()

	p := <-rec.opened
	assert.Equal(t, KindWalletChoose, p.Kind)
	assert.Equal(t, "changelly", p.PluginID)
	assert.NotEmpty(t, p.ID)
	assert.True(t, p.ExpiresAt.After(p.CreatedAt))

	pending := b.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, p.ID, pending[0].ID)

	require.NoError(t, b.Resolve(p.ID, Response{Approved: true, WalletID: "w1"}))

	res := <-done
	require.NoError(t, res.err)
	assert.True(t, res.resp.Approved)
	assert.Equal(t, "w1", res.resp.WalletID)
	assert.Equal(t, ClosedResolved, rec.reason(p.ID))
	assert.Empty(t, b.Pending())

	err := b.Resolve(p.ID, Response{})
	assert.ErrorIs(t, err, ErrPromptNotFound)
}

func TestAskTimeout(t *testing.T) {
	rec := newRecorder()
	b := NewBroker(Config{Timeout: 20 * time.Millisecond}, rec)

	_, err := b.Ask(context.Background(), KindSpendConfirm, "bity", SpendConfirmPayload{})
	assert.ErrorIs(t, err, ErrPromptTimeout)

	p := <-rec.opened
	assert.Equal(t, ClosedTimeout, rec.reason(p.ID))
	assert.Empty(t, b.Pending())
}

func TestResolveWinsOverExpiry(t *testing.T) {
	rec := newRecorder()
	b := NewBroker(Config{Timeout: time.Minute}, rec)

	// Resolve claims the prompt just before the timer fires.
	entry := &pending{prompt: &Prompt{ID: "p1", Kind: KindSpendConfirm}, ch: make(chan Response, 1)}
	b.pending["p1"] = entry
	require.NoError(t, b.Resolve("p1", Response{Approved: true}))

	resp, err := b.expire(entry, ClosedTimeout, ErrPromptTimeout)
	require.NoError(t, err)
	assert.True(t, resp.Approved)
	assert.Equal(t, ClosedResolved, rec.reason("p1"))

	// Close claims it before a cancelled context is noticed.
	entry = &pending{prompt: &Prompt{ID: "p2", Kind: KindSpendConfirm}, ch: make(chan Response, 1)}
	b.pending["p2"] = entry
	b.Close()

	_, err = b.expire(entry, ClosedCancelled, context.Canceled)
	assert.ErrorIs(t, err, ErrBrokerClosed)
}

func TestExpireUnclaimed(t *testing.T) {
	rec := newRecorder()
	b := NewBroker(Config{Timeout: time.Minute}, rec)

	entry := &pending{prompt: &Prompt{ID: "p1", Kind: KindMessageSign}, ch: make(chan Response, 1)}
	b.pending["p1"] = entry

	_, err := b.expire(entry, ClosedTimeout, ErrPromptTimeout)
	assert.ErrorIs(t, err, ErrPromptTimeout)
	assert.Equal(t, ClosedTimeout, rec.reason("p1"))
	assert.ErrorIs(t, b.Resolve("p1", Response{Approved: true}), ErrPromptNotFound)
}

func TestAskContextCancel(t *testing.T) {
	rec := newRecorder()
	b := NewBroker(Config{Timeout: time.Minute}, rec)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-rec.opened
		cancel()
	}()

	_, err := b.Ask(ctx, KindMessageSign, "bity", MessageSignPayload{Message: "hi"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, b.Pending())
}

func TestAskUnknownKind(t *testing.T) {
	b := NewBroker(Config{}, nil)
	_, err := b.Ask(context.Background(), Kind("pay_me"), "x", nil)
	assert.Error(t, err)
}

func TestAutoApprove(t *testing.T) {
	b := NewBroker(Config{AutoApprove: []Kind{KindWalletChoose, KindSpendConfirm}}, nil)
	ctx := context.Background()

	resp, err := b.Ask(ctx, KindWalletChoose, "x", &WalletChoosePayload{
		Choices: []WalletChoice{
			{WalletID: "first", TokenID: "a0b8"},
			{WalletID: "second"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, Response{Approved: true, WalletID: "first", TokenID: "a0b8"}, resp)

	resp, err = b.Ask(ctx, KindSpendConfirm, "x", SpendConfirmPayload{})
	require.NoError(t, err)
	assert.True(t, resp.Approved)

	_, err = b.Ask(ctx, KindWalletChoose, "x", WalletChoosePayload{})
	assert.ErrorIs(t, err, ErrNoChoice)
}

func TestClose(t *testing.T) {
	rec := newRecorder()
	b := NewBroker(Config{Timeout: time.Minute}, rec)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Ask(context.Background(), KindSpendConfirm, "x", nil)
		errCh <- err
	}()
	p := <-rec.opened

	b.Close()
	assert.ErrorIs(t, <-errCh, ErrBrokerClosed)
	assert.Equal(t, ClosedCancelled, rec.reason(p.ID))

	_, err := b.Ask(context.Background(), KindSpendConfirm, "x", nil)
	assert.ErrorIs(t, err, ErrBrokerClosed)
}

func TestParseKinds(t *testing.T) {
	kinds, err := ParseKinds([]string{"wallet_choose", "message_sign"})
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindWalletChoose, KindMessageSign}, kinds)

	_, err = ParseKinds([]string{"everything"})
	assert.Error(t, err)
}
