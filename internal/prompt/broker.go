package prompt

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/klingon-exchange/walletbridge/pkg/logging"
)

// DefaultTimeout is used when the config leaves the timeout unset.
const DefaultTimeout = 5 * time.Minute

// Config configures a Broker.
type Config struct {
	Timeout time.Duration

	// AutoApprove lists kinds answered without asking the host.
	AutoApprove []Kind

	Logger *logging.Logger
}

type pending struct {
	prompt *Prompt
	ch     chan Response
}

// Broker issues prompts to the host UI and waits for their answers.
type Broker struct {
	timeout time.Duration
	auto    map[Kind]bool
	log     *logging.Logger

	notifier Notifier

	mu      sync.Mutex
	pending map[string]*pending
	closed  bool
}

// NewBroker creates a broker. The notifier may be nil and set later.
func NewBroker(cfg Config, notifier Notifier) *Broker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	log := cfg.Logger
	if log == nil {
		log = logging.GetDefault()
	}

	auto := make(map[Kind]bool)
	for _, k := range cfg.AutoApprove {
		auto[k] = true
	}

	return &Broker{
		timeout:  timeout,
		auto:     auto,
		log:      log.Component("prompt"),
		notifier: notifier,
		pending:  make(map[string]*pending),
	}
}

// SetNotifier replaces the notifier.
func (b *Broker) SetNotifier(n Notifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifier = n
}

// Ask opens a prompt and blocks until the host resolves it, the timeout
// elapses or ctx is done.
func (b *Broker) Ask(ctx context.Context, kind Kind, pluginID string, payload interface{}) (Response, error) {
	if !kind.Valid() {
		return Response{}, fmt.Errorf("unknown prompt kind %q", kind)
	}

	now := time.Now()
	p := &Prompt{
		ID:        uuid.New().String(),
		Kind:      kind,
		PluginID:  pluginID,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(b.timeout),
	}

	if b.auto[kind] {
		resp, err := autoAnswer(p)
		b.log.Debug("Prompt auto-answered", "id", p.ID, "kind", kind, "plugin", pluginID, "approved", resp.Approved)
		return resp, err
	}

	entry := &pending{prompt: p, ch: make(chan Response, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Response{}, ErrBrokerClosed
	}
	b.pending[p.ID] = entry
	notifier := b.notifier
	b.mu.Unlock()

	b.log.Info("Prompt opened", "id", p.ID, "kind", kind, "plugin", pluginID)
	if notifier != nil {
		notifier.PromptOpened(p)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-entry.ch:
		if !ok {
			return Response{}, ErrBrokerClosed
		}
		return resp, nil
	case <-timer.C:
		return b.expire(entry, ClosedTimeout, ErrPromptTimeout)
	case <-ctx.Done():
		return b.expire(entry, ClosedCancelled, ctx.Err())
	}
}

// expire stops waiting on entry. If Resolve or Close claimed it first, their
// answer is returned instead of cause.
func (b *Broker) expire(entry *pending, reason string, cause error) (Response, error) {
	if b.drop(entry.prompt.ID, reason) {
		return Response{}, cause
	}
	resp, ok := <-entry.ch
	if !ok {
		return Response{}, ErrBrokerClosed
	}
	return resp, nil
}

// Resolve answers a pending prompt.
func (b *Broker) Resolve(id string, resp Response) error {
	b.mu.Lock()
	entry, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	notifier := b.notifier
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrPromptNotFound, id)
	}

	entry.ch <- resp
	b.log.Info("Prompt resolved", "id", id, "kind", entry.prompt.Kind, "approved", resp.Approved)
	if notifier != nil {
		notifier.PromptClosed(id, ClosedResolved)
	}
	return nil
}

// Get returns a pending prompt.
func (b *Broker) Get(id string) (*Prompt, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.pending[id]
	if !ok {
		return nil, false
	}
	return entry.prompt, true
}

// Pending returns the open prompts, oldest first.
func (b *Broker) Pending() []*Prompt {
	b.mu.Lock()
	out := make([]*Prompt, 0, len(b.pending))
	for _, entry := range b.pending {
		out = append(out, entry.prompt)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Close rejects all pending prompts and refuses new ones.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	entries := b.pending
	b.pending = make(map[string]*pending)
	notifier := b.notifier
	b.mu.Unlock()

	for id, entry := range entries {
		close(entry.ch)
		if notifier != nil {
			notifier.PromptClosed(id, ClosedCancelled)
		}
	}
}

// drop removes a prompt that is no longer waited on. It reports false when
// the prompt was already gone.
func (b *Broker) drop(id, reason string) bool {
	b.mu.Lock()
	_, ok := b.pending[id]
	delete(b.pending, id)
	notifier := b.notifier
	b.mu.Unlock()

	if !ok {
		return false
	}
	b.log.Info("Prompt closed", "id", id, "reason", reason)
	if notifier != nil {
		notifier.PromptClosed(id, reason)
	}
	return true
}

// autoAnswer approves a prompt without the host. Wallet choices pick the
// first offered wallet.
func autoAnswer(p *Prompt) (Response, error) {
	if p.Kind != KindWalletChoose {
		return Response{Approved: true}, nil
	}

	var choices []WalletChoice
	switch payload := p.Payload.(type) {
	case WalletChoosePayload:
		choices = payload.Choices
	case *WalletChoosePayload:
		choices = payload.Choices
	}
	if len(choices) == 0 {
		return Response{}, ErrNoChoice
	}
	return Response{
		Approved: true,
		WalletID: choices[0].WalletID,
		TokenID:  choices[0].TokenID,
	}, nil
}

// ParseKinds converts configured kind names, rejecting unknown ones.
func ParseKinds(names []string) ([]Kind, error) {
	kinds := make([]Kind, 0, len(names))
	for _, name := range names {
		k := Kind(name)
		if !k.Valid() {
			return nil, fmt.Errorf("unknown prompt kind %q", name)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
