// Package orchestration drives the two primitives every contract call in
// this system is built from: submit an external message and wait for its
// effect, either the destination transaction itself (Transfer) or a
// transaction caused by an outbound message a wallet produced in response
// (Call). Both register their wait with the block walker's subscription
// registry before submitting the message, so the resolving transaction
// can never race ahead of the registration.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stever/internal/blockdata"
	"stever/internal/message"
	"stever/internal/walker"
)

// ErrOutboundNotFound is returned by Call when the source transaction
// carried no outbound message to the expected destination.
var ErrOutboundNotFound = errors.New("orchestration: outbound message not found")

// ErrMessageAlreadyPending mirrors the registry's duplicate-hash rejection
// under this package's own error identity, so callers can match on it
// without importing the walker package.
var ErrMessageAlreadyPending = walker.ErrAlreadyPending

const defaultFirstTimeout = 60 * time.Second

// Sender submits a raw external inbound message body to the node.
type Sender interface {
	SendMessage(ctx context.Context, body []byte) error
}

// Orchestrator owns the node sender and block-walker registry every
// transfer/call submission goes through.
type Orchestrator struct {
	sender   Sender
	registry *walker.Registry
}

// New builds an Orchestrator.
func New(sender Sender, registry *walker.Registry) *Orchestrator {
	return &Orchestrator{sender: sender, registry: registry}
}

// Result pairs a resolved transaction with the hash it was delivered for.
type Result struct {
	Transaction blockdata.Transaction
	Message     message.ExternalIn
}

// Builder constructs the external message to submit given the retry
// timeout that should apply to this attempt, returning the message and the
// masterchain time at which its pending entry expires.
type Builder func(timeout time.Duration) (message.ExternalIn, uint32, error)

// Transfer serializes the message build returns, registers a pending entry
// keyed by its representation hash, submits it, and waits for the
// destination transaction. If the entry expires first, it rebuilds with
// doubled timeout (starting at 60s) and resubmits. A submission error
// removes the pending entry and is returned immediately.
func (o *Orchestrator) Transfer(ctx context.Context, dst message.Address, build Builder) (Result, error) {
	timeout := defaultFirstTimeout
	for {
		msg, expireAt, err := build(timeout)
		if err != nil {
			return Result{}, fmt.Errorf("orchestration: build message: %w", err)
		}

		res, ok, err := o.submitAndAwait(ctx, dst, msg, expireAt)
		if err != nil {
			return Result{}, err
		}
		if ok {
			return res, nil
		}

		timeout *= 2
	}
}

// Call wraps an internal message as the body of a wallet-built external
// message via build, submits it, waits for the source transaction, then
// walks its outbound messages for the one addressed to internalMsg.Dst and
// waits for the transaction whose inbound-message hash matches it.
//
// The destination subscription is opened before Transfer submits anything,
// so a destination transaction that lands before Call gets around to
// looking for it is never missed.
func (o *Orchestrator) Call(ctx context.Context, wallet message.Address, internalMsg message.Internal, build Builder) (Result, error) {
	dstTxs, cancel := o.registry.Subscribe(internalMsg.Dst.Workchain, internalMsg.Dst.Account)
	defer cancel()

	source, err := o.Transfer(ctx, wallet, build)
	if err != nil {
		return Result{}, err
	}

	var outboundHash [32]byte
	found := false
	for _, out := range source.Transaction.Outbound {
		if out.DstWorkchain == internalMsg.Dst.Workchain && out.DstAccount == internalMsg.Dst.Account {
			outboundHash = out.Hash
			found = true
			break
		}
	}
	if !found {
		return Result{}, ErrOutboundNotFound
	}

	for {
		select {
		case tx := <-dstTxs:
			if tx.InMsgHash != nil && *tx.InMsgHash == outboundHash {
				return Result{Transaction: tx}, nil
			}
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
}

// submitAndAwait registers the pending entry, submits the message, and
// waits for either resolution or expiry. ok is false on expiry, meaning the
// caller should rebuild and retry; it is never true alongside a non-nil
// error.
func (o *Orchestrator) submitAndAwait(ctx context.Context, dst message.Address, msg message.ExternalIn, expireAt uint32) (Result, bool, error) {
	hash := msg.Hash()

	ch, err := o.registry.RegisterPending(dst.Workchain, dst.Account, hash, expireAt)
	if err != nil {
		return Result{}, false, fmt.Errorf("orchestration: register pending message: %w", err)
	}

	if err := o.sender.SendMessage(ctx, msg.Encode()); err != nil {
		o.registry.CancelPending(dst.Workchain, dst.Account, hash)
		return Result{}, false, fmt.Errorf("orchestration: send message: %w", err)
	}

	select {
	case res := <-ch:
		if res.Expired {
			return Result{}, false, nil
		}
		return Result{Transaction: res.Transaction, Message: msg}, true, nil
	case <-ctx.Done():
		o.registry.CancelPending(dst.Workchain, dst.Account, hash)
		return Result{}, false, ctx.Err()
	}
}
