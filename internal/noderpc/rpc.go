// Package noderpc is the typed façade over the control transport (C1):
// key management, message submission, config and account-state lookups,
// and node stats parsing.
package noderpc

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"time"

	"stever/internal/chain"
)

// transport is the subset of *transport.Transport the façade needs; kept as
// an interface so tests can supply a fake without a real socket.
type transport interface {
	Query(ctx context.Context, timeout time.Duration, payload []byte) ([]byte, error)
}

// Client is the node RPC façade.
type Client struct {
	t       transport
	timeout time.Duration
}

// New wraps a connected transport. timeout is applied to every call unless
// the operation documents its own (get_capabilities-style short queries
// live in the overlay package, not here).
func New(t transport, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{t: t, timeout: timeout}
}

func (c *Client) call(ctx context.Context, query []byte) ([]byte, error) {
	return c.t.Query(ctx, c.timeout, wrapControlQuery(query))
}

// GenerateKeyPair asks the node to create a new Ed25519 keypair and returns
// its 32-byte key id.
func (c *Client) GenerateKeyPair(ctx context.Context) ([32]byte, error) {
	resp, err := c.call(ctx, wrapGenerateKeyPair())
	if err != nil {
		return [32]byte{}, err
	}
	return parseKeyHash(resp)
}

// ExportPublicKey returns the Ed25519 public key for a key id.
func (c *Client) ExportPublicKey(ctx context.Context, keyHash [32]byte) (ed25519.PublicKey, error) {
	resp, err := c.call(ctx, wrapExportPublicKey(keyHash))
	if err != nil {
		return nil, err
	}
	pub, err := parseExportedPublicKey(resp)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(pub), nil
}

// Sign produces a 64-byte Ed25519 signature over data using the node's key.
func (c *Client) Sign(ctx context.Context, keyHash [32]byte, data []byte) ([]byte, error) {
	resp, err := c.call(ctx, wrapSign(keyHash, data))
	if err != nil {
		return nil, err
	}
	return parseSignature(resp)
}

// AddValidatorPermanentKey registers a validator key for an election date.
func (c *Client) AddValidatorPermanentKey(ctx context.Context, keyHash [32]byte, electionDate, ttlSeconds uint32) error {
	resp, err := c.call(ctx, wrapAddValidatorPermanentKey(keyHash, electionDate, ttlSeconds))
	if err != nil {
		return err
	}
	return parseSuccess(resp)
}

// AddValidatorAdnlAddress associates an ADNL key with a validator permanent
// key for the given ttl.
func (c *Client) AddValidatorAdnlAddress(ctx context.Context, permanentKeyHash, adnlKeyHash [32]byte, ttlSeconds uint32) error {
	resp, err := c.call(ctx, wrapAddValidatorAdnlAddress(permanentKeyHash, adnlKeyHash, ttlSeconds))
	if err != nil {
		return err
	}
	return parseSuccess(resp)
}

// SendMessage submits an external inbound message to the node's mempool.
func (c *Client) SendMessage(ctx context.Context, body []byte) error {
	resp, err := c.call(ctx, wrapSendMessage(body))
	if err != nil {
		return err
	}
	return parseSuccess(resp)
}

// GetConfigAll returns the block the config was read at and the opaque
// config proof blob (see configInfo for why it isn't decoded further here).
func (c *Client) GetConfigAll(ctx context.Context, at chain.BlockID) (chain.BlockID, []byte, error) {
	resp, err := c.call(ctx, wrapGetConfigAll(at))
	if err != nil {
		return chain.BlockID{}, nil, err
	}
	info, err := parseConfigInfo(resp)
	if err != nil {
		return chain.BlockID{}, nil, err
	}
	return info.blockID, info.configProof, nil
}

// GetConfigParam returns the block and the opaque proof blob for a single
// config parameter.
func (c *Client) GetConfigParam(ctx context.Context, at chain.BlockID, param int32) (chain.BlockID, []byte, error) {
	resp, err := c.call(ctx, wrapGetConfigParam(at, param))
	if err != nil {
		return chain.BlockID{}, nil, err
	}
	info, err := parseConfigInfo(resp)
	if err != nil {
		return chain.BlockID{}, nil, err
	}
	return info.blockID, info.configProof, nil
}

// GetShardAccountState returns the raw shard account cell for address, or
// nil if the account has never been initialized.
func (c *Client) GetShardAccountState(ctx context.Context, address []byte) ([]byte, error) {
	resp, err := c.call(ctx, wrapGetShardAccountState(address))
	if err != nil {
		return nil, err
	}
	return parseShardAccountState(resp)
}

// GetStats fetches and parses the node's stats.
func (c *Client) GetStats(ctx context.Context) (NodeStats, error) {
	resp, err := c.call(ctx, wrapGetStats())
	if err != nil {
		return NodeStats{}, err
	}
	items, err := parseStats(resp)
	if err != nil {
		return NodeStats{}, err
	}
	return parseNodeStats(items)
}

// GetRawStats fetches the node's stats without interpreting them: every
// (key, JSON-value) pair engine.validator.stats carries, keyed by name.
// This is a façade method distinct from the typed GetStats, for callers
// (the status server's introspection endpoint) that want to surface
// fields GetStats doesn't itself understand.
func (c *Client) GetRawStats(ctx context.Context) (map[string]json.RawMessage, error) {
	resp, err := c.call(ctx, wrapGetStats())
	if err != nil {
		return nil, err
	}
	items, err := parseStats(resp)
	if err != nil {
		return nil, err
	}
	raw := make(map[string]json.RawMessage, len(items))
	for _, item := range items {
		raw[string(item.Key)] = json.RawMessage(item.Value)
	}
	return raw, nil
}

