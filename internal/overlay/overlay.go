// Package overlay implements the peer-authenticated UDP overlay client used
// to fetch blocks from the validator node: get_capabilities, get_block and
// get_next_block, each backed by the same ADNL-style handshake and framing
// as the control transport but carried over datagrams instead of a stream.
package overlay

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	sha256simd "github.com/minio/sha256-simd"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"

	"stever/internal/adnlcrypto"
	"stever/internal/chain"
)

var (
	ErrTimeout      = errors.New("overlay: timeout")
	ErrNotFound     = errors.New("overlay: not found")
	ErrHashMismatch = errors.New("overlay: hash mismatch")
)

// Config describes the node's public overlay endpoint.
type Config struct {
	ServerAddress     string
	ServerPubKey      ed25519.PublicKey
	ClientSecret      ed25519.PrivateKey
	ZerostateFileHash [32]byte
	Logger            *logrus.Entry
}

// Client is a connected overlay session. It is not safe for concurrent
// queries: query writes to and reads from the socket and advances both
// cipher streams without holding a lock.
type Client struct {
	log        *logrus.Entry
	conn       *net.UDPConn
	sendCph    cipher.Stream
	recvCph    cipher.Stream
	queryPrefix []byte

	mu        sync.Mutex
	roundtrip time.Duration
}

// overlayID derives a short identifier for the node's masterchain overlay
// from the zero-state file hash, the same role for_shard_overlay plays in
// the reference node: every query is prefixed with it so the node can route
// the request to the right overlay.
func overlayID(zerostateFileHash [32]byte) [32]byte {
	var buf [36]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(chain.WorkchainMasterchain))
	copy(buf[4:], zerostateFileHash[:])
	return sha256.Sum256(buf[:])
}

// Connect sends the ADNL handshake datagram and returns a ready client.
// Connect does not wait for an acknowledgement: ADNL's UDP handshake is
// fire-and-forget, the same as the reference node implementation.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	raddr, err := net.ResolveUDPAddr("udp", cfg.ServerAddress)
	if err != nil {
		return nil, fmt.Errorf("overlay: resolve address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("overlay: dial: %w", err)
	}

	secret := make([]byte, 160)
	if _, err := rand.Read(secret); err != nil {
		conn.Close()
		return nil, fmt.Errorf("overlay: generate handshake secret: %w", err)
	}
	recvKey, sendKey := secret[0:32], secret[32:64]
	recvIV, sendIV := secret[64:80], secret[80:96]

	recvBlock, err := aes.NewCipher(recvKey)
	if err != nil {
		conn.Close()
		return nil, err
	}
	sendBlock, err := aes.NewCipher(sendKey)
	if err != nil {
		conn.Close()
		return nil, err
	}

	handshake, err := buildHandshakePacket(cfg.ServerPubKey, cfg.ClientSecret, secret)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Write(handshake); err != nil {
		conn.Close()
		return nil, fmt.Errorf("overlay: send handshake: %w", err)
	}

	id := overlayID(cfg.ZerostateFileHash)

	return &Client{
		log:         log,
		conn:        conn,
		sendCph:     cipher.NewCTR(sendBlock, sendIV),
		recvCph:     cipher.NewCTR(recvBlock, recvIV),
		queryPrefix: id[:],
	}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func buildHandshakePacket(serverPub ed25519.PublicKey, clientSecret ed25519.PrivateKey, secret []byte) ([]byte, error) {
	serverShortID := sha256simd.Sum256(serverPub)
	clientX25519Priv := adnlcrypto.SeedToX25519(clientSecret.Seed())
	clientPub := clientSecret.Public().(ed25519.PublicKey)

	serverMontgomery, err := adnlcrypto.PubKeyToMontgomery(serverPub)
	if err != nil {
		return nil, fmt.Errorf("overlay: convert server pubkey: %w", err)
	}
	sharedSecretBytes, err := curve25519.X25519(clientX25519Priv[:], serverMontgomery)
	if err != nil {
		return nil, fmt.Errorf("overlay: x25519: %w", err)
	}
	var sharedSecret [32]byte
	copy(sharedSecret[:], sharedSecretBytes)

	checksum := sha256simd.Sum256(secret)

	packet := make([]byte, 0, 96+len(secret))
	packet = append(packet, serverShortID[:]...)
	packet = append(packet, clientPub...)
	packet = append(packet, checksum[:]...)

	cph := adnlcrypto.HandshakeCipher(sharedSecret, checksum)
	encryptedSecret := make([]byte, len(secret))
	cph.XORKeyStream(encryptedSecret, secret)
	packet = append(packet, encryptedSecret...)
	return packet, nil
}

// query sends one boxed request datagram and waits for the single reply
// datagram within timeout, returning the decrypted, checksum-verified
// payload. A nil, nil result means the read deadline elapsed.
func (c *Client) query(payload []byte, timeout time.Duration) ([]byte, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	frame := append(append([]byte{}, nonce...), c.queryPrefix...)
	frame = append(frame, payload...)
	sum := sha256simd.Sum256(frame)
	frame = append(frame, sum[:]...)

	out := make([]byte, len(frame))
	c.sendCph.XORKeyStream(out, frame)
	if _, err := c.conn.Write(out); err != nil {
		return nil, fmt.Errorf("overlay: write: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 64*1024)
	n, err := c.conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil
		}
		return nil, fmt.Errorf("overlay: read: %w", err)
	}

	body := buf[:n]
	c.recvCph.XORKeyStream(body, body)
	if len(body) < 64 {
		return nil, fmt.Errorf("overlay: short datagram")
	}
	respPayload := body[32 : len(body)-32]
	checksum := body[len(body)-32:]
	want := sha256simd.Sum256(body[:len(body)-32])
	if !adnlcrypto.BytesEqual(want[:], checksum) {
		return nil, fmt.Errorf("overlay: checksum mismatch")
	}
	return respPayload, nil
}

// GetCapabilities issues a short get_capabilities query with a 1s timeout.
func (c *Client) GetCapabilities(ctx context.Context) (Capabilities, error) {
	resp, err := c.query(wrapGetCapabilities(), time.Second)
	if err != nil {
		return Capabilities{}, err
	}
	if resp == nil {
		return Capabilities{}, ErrTimeout
	}
	return parseCapabilities(resp)
}

// backoff implements the 200ms/1.2x/1s-cap schedule shared by get_block and
// get_next_block.
type backoff struct {
	next time.Duration
}

func newBackoff() *backoff { return &backoff{next: 200 * time.Millisecond} }

func (b *backoff) sleep(ctx context.Context) error {
	select {
	case <-time.After(b.next):
	case <-ctx.Done():
		return ctx.Err()
	}
	b.step()
	return nil
}

func (b *backoff) step() {
	b.next = time.Duration(float64(b.next) * 1.2)
	if b.next > time.Second {
		b.next = time.Second
	}
}

// GetBlock fetches a block by id: prepareBlock until found, then
// downloadBlock until the bytes arrive, verifying the SHA-256 file hash.
func (c *Client) GetBlock(ctx context.Context, id chain.BlockID) ([]byte, error) {
	prep := newBackoff()
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := c.query(wrapPrepareBlock(id), time.Second)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			found, err := parsePrepared(resp)
			if err != nil {
				return nil, err
			}
			if found {
				break
			}
		}
		c.log.Debug("overlay: block not found, backing off")
		if err := prep.sleep(ctx); err != nil {
			return nil, err
		}
	}

	dl := newBackoff()
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := c.query(wrapDownloadBlock(id), c.estimateRoundtrip(attempt))
		if err != nil {
			return nil, err
		}
		if resp != nil {
			c.updateRoundtrip(dl.next)
			return c.verifyBlock(id, resp)
		}
		if err := dl.sleep(ctx); err != nil {
			return nil, err
		}
		attempt++
	}
}

// GetNextBlock fetches the first masterchain block referencing prevID as
// its predecessor. While the node has no such block (dataFullEmpty or no
// reply), it retries on the backoff schedule until one arrives or ctx is
// done; it never returns a "not yet" result to the caller.
func (c *Client) GetNextBlock(ctx context.Context, prevID chain.BlockID) ([]byte, chain.BlockID, error) {
	dl := newBackoff()
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil, chain.BlockID{}, ctx.Err()
		}
		resp, err := c.query(wrapDownloadNextBlockFull(prevID), c.estimateRoundtrip(attempt))
		if err != nil {
			return nil, chain.BlockID{}, err
		}
		if resp != nil {
			full, err := parseDataFull(resp)
			if err != nil {
				return nil, chain.BlockID{}, err
			}
			if full.found {
				c.updateRoundtrip(dl.next)
				block, err := c.verifyBlock(full.blockID, full.block)
				return block, full.blockID, err
			}
		}
		if err := dl.sleep(ctx); err != nil {
			return nil, chain.BlockID{}, err
		}
		attempt++
	}
}

func (c *Client) verifyBlock(id chain.BlockID, block []byte) ([]byte, error) {
	fileHash := sha256.Sum256(block)
	if fileHash != id.FileHash {
		return nil, ErrHashMismatch
	}
	return block, nil
}

// estimateRoundtrip returns the per-attempt timeout: the running average of
// successful round trips plus attempt*50ms, or 1s while no average exists.
func (c *Client) estimateRoundtrip(attempt int) time.Duration {
	c.mu.Lock()
	rt := c.roundtrip
	c.mu.Unlock()
	if rt == 0 {
		return time.Second
	}
	return rt + time.Duration(attempt)*50*time.Millisecond
}

func (c *Client) updateRoundtrip(sample time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roundtrip == 0 {
		c.roundtrip = sample
	} else {
		c.roundtrip = (c.roundtrip + sample) / 2
	}
}

