// Package transport implements the encrypted, length-prefixed TCP control
// channel to the validator node: handshake, AES-256-CTR framing, and
// query/response multiplexing keyed by a 32-byte query id.
package transport

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	sha256simd "github.com/minio/sha256-simd"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"

	"stever/internal/adnlcrypto"
)

var (
	ErrConnectTimeout = errors.New("transport: connect timeout")
	ErrIO             = errors.New("transport: io error")
	ErrDecode         = errors.New("transport: answer decode error")
	ErrClosed         = errors.New("transport: closed")
)

// Config describes how to reach and authenticate with the node's control
// port.
type Config struct {
	ServerAddress     string
	ServerPubKey      ed25519.PublicKey
	ClientSecret      ed25519.PrivateKey // full Ed25519 private key; Seed() and Public() are used
	ConnectionTimeout time.Duration
	QueryTimeout      time.Duration
	Logger            *logrus.Entry
}

func (c Config) connectionTimeout() time.Duration {
	if c.ConnectionTimeout > 0 {
		return c.ConnectionTimeout
	}
	return 2 * time.Second
}

func (c Config) queryTimeout() time.Duration {
	if c.QueryTimeout > 0 {
		return c.QueryTimeout
	}
	return 10 * time.Second
}

// Transport is a connected, authenticated control channel. It owns one
// dedicated goroutine (readLoop) that reads and decrypts the receive
// stream; outgoing frames are encrypted and written on the calling
// goroutine under writeMu. Callers interact with it only through Query.
type Transport struct {
	log     *logrus.Entry
	conn    net.Conn
	queries *queriesCache
	queryID atomic.Uint64

	writeMu sync.Mutex
	sendCph cipher.Stream

	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	closeErr  atomic.Value
}

// Connect dials the node, performs the handshake and starts the I/O loops.
func Connect(ctx context.Context, cfg Config) (*Transport, error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	dialer := net.Dialer{Timeout: cfg.connectionTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.ServerAddress)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrConnectTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	}

	secret := make([]byte, 160)
	if _, err := rand.Read(secret); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: generate handshake secret: %w", err)
	}

	// server->client and client->server keys/ivs.
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
	recvCph := cipher.NewCTR(recvBlock, recvIV)
	sendCph := cipher.NewCTR(sendBlock, sendIV)

	handshake, err := buildHandshakePacket(cfg.ServerPubKey, cfg.ClientSecret, secret)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Write(handshake); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	ctxIO, cancel := context.WithCancel(context.Background())
	t := &Transport{
		log:     log,
		conn:    conn,
		queries: newQueriesCache(),
		sendCph: sendCph,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go t.readLoop(ctxIO, recvCph)

	return t, nil
}

// Close cancels all pending queries and tears down the connection.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		t.conn.Close()
		t.queries.cancelAll()
		close(t.done)
	})
	return nil
}

// Query sends a boxed query and waits for its matching answer or the
// per-query deadline, whichever comes first.
func (t *Transport) Query(ctx context.Context, timeout time.Duration, payload []byte) ([]byte, error) {
	select {
	case <-t.done:
		return nil, ErrClosed
	default:
	}

	var queryID [32]byte
	binary.LittleEndian.PutUint64(queryID[:8], t.queryID.Add(1)-1)

	frame := wrapQuery(queryID, payload)

	waiter := t.queries.add(queryID)
	defer t.queries.remove(queryID)

	if err := t.writeFrame(frame); err != nil {
		waiter.cancel()
		return nil, err
	}

	queryCtx := ctx
	var queryCancel context.CancelFunc
	if timeout > 0 {
		queryCtx, queryCancel = context.WithTimeout(ctx, timeout)
		defer queryCancel()
	}

	select {
	case data := <-waiter.ch:
		return data, nil
	case <-queryCtx.Done():
		return nil, fmt.Errorf("transport: query %x timed out: %w", queryID[:8], queryCtx.Err())
	case <-t.done:
		return nil, ErrClosed
	}
}

func (t *Transport) writeFrame(payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}

	length := uint32(len(nonce) + len(payload) + 32)
	buf := make([]byte, 4, 4+length)
	binary.LittleEndian.PutUint32(buf, length)
	buf = append(buf, nonce...)
	buf = append(buf, payload...)

	sum := sha256simd.Sum256(buf[4:])
	buf = append(buf, sum[:]...)

	t.sendCph.XORKeyStream(buf, buf)

	if _, err := t.conn.Write(buf); err != nil {
		t.Close()
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func (t *Transport) readLoop(ctx context.Context, recvCph cipher.Stream) {
	defer t.Close()

	lenBuf := make([]byte, 4)
	for {
		if _, err := readFull(t.conn, lenBuf); err != nil {
			if ctx.Err() == nil {
				t.log.WithError(err).Error("control transport: failed to read frame length")
			}
			return
		}
		recvCph.XORKeyStream(lenBuf, lenBuf)
		length := binary.LittleEndian.Uint32(lenBuf)
		if length < 64 {
			continue // dropped: below minimum frame size
		}

		body := make([]byte, length)
		if _, err := readFull(t.conn, body); err != nil {
			if ctx.Err() == nil {
				t.log.WithError(err).Error("control transport: failed to read frame body")
			}
			return
		}
		recvCph.XORKeyStream(body, body)

		payload := body[:length-32]
		checksum := body[length-32:]
		want := sha256simd.Sum256(payload)
		if !adnlcrypto.BytesEqual(want[:], checksum) {
			t.log.Warn("control transport: checksum mismatch, dropping frame")
			continue
		}

		nonce, rest := payload[:32], payload[32:]
		_ = nonce
		if len(rest) == 0 {
			continue
		}

		queryID, data, err := unwrapAnswer(rest)
		if err != nil {
			t.log.WithError(err).Warn("control transport: invalid answer")
			continue
		}
		t.queries.fulfill(queryID, data)
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func buildHandshakePacket(serverPub ed25519.PublicKey, clientSecret ed25519.PrivateKey, secret []byte) ([]byte, error) {
	serverShortID := sha256simd.Sum256(serverPub)

	clientX25519Priv := adnlcrypto.SeedToX25519(clientSecret.Seed())
	clientPub := clientSecret.Public().(ed25519.PublicKey)

	serverMontgomery, err := adnlcrypto.PubKeyToMontgomery(serverPub)
	if err != nil {
		return nil, fmt.Errorf("transport: convert server pubkey: %w", err)
	}
	sharedSecret, err := curve25519.X25519(clientX25519Priv[:], serverMontgomery)
	if err != nil {
		return nil, fmt.Errorf("transport: x25519: %w", err)
	}

	checksum := sha256simd.Sum256(secret)

	packet := make([]byte, 0, 96+len(secret))
	packet = append(packet, serverShortID[:]...)
	packet = append(packet, clientPub...)
	packet = append(packet, checksum[:]...)

	cph := adnlcrypto.HandshakeCipher([32]byte(sharedSecret), checksum)
	encryptedSecret := make([]byte, len(secret))
	cph.XORKeyStream(encryptedSecret, secret)
	packet = append(packet, encryptedSecret...)

	return packet, nil
}
