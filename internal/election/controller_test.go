package election

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	mockclock "github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"stever/internal/chain"
	"stever/internal/contracts"
	"stever/internal/contracts/vm"
	"stever/internal/message"
	"stever/internal/noderpc"
	"stever/internal/orchestration"
	"stever/internal/tlwire"
	"stever/internal/walker"
)

// fakeKeyRPC is a deterministic, keyed-by-insertion-order stand-in for a
// noderpc.Client's key-management calls, the same role elector_test.go's
// copy plays one package over.
type fakeKeyRPC struct {
	keys    map[[32]byte]ed25519.PrivateKey
	nextKey byte
}

func newFakeKeyRPC() *fakeKeyRPC { return &fakeKeyRPC{keys: make(map[[32]byte]ed25519.PrivateKey)} }

func (f *fakeKeyRPC) GenerateKeyPair(ctx context.Context) ([32]byte, error) {
	f.nextKey++
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = f.nextKey
	kp := ed25519.NewKeyFromSeed(seed)
	var hash [32]byte
	hash[0] = f.nextKey
	f.keys[hash] = kp
	return hash, nil
}

func (f *fakeKeyRPC) ExportPublicKey(ctx context.Context, keyHash [32]byte) (ed25519.PublicKey, error) {
	return f.keys[keyHash].Public().(ed25519.PublicKey), nil
}

func (f *fakeKeyRPC) Sign(ctx context.Context, keyHash [32]byte, data []byte) ([]byte, error) {
	return ed25519.Sign(f.keys[keyHash], data), nil
}

func (f *fakeKeyRPC) AddValidatorPermanentKey(ctx context.Context, keyHash [32]byte, electionDate, ttlSeconds uint32) error {
	return nil
}

func (f *fakeKeyRPC) AddValidatorAdnlAddress(ctx context.Context, permanentKeyHash, adnlKeyHash [32]byte, ttlSeconds uint32) error {
	return nil
}

// fakeFetcher answers GetShardAccountState from a fixed per-address table;
// an address with no entry reports as never initialized, same as a live
// node would for an account nobody has funded yet.
type fakeFetcher struct {
	byAddress map[[32]byte][]byte
}

func (f *fakeFetcher) GetShardAccountState(ctx context.Context, address []byte) ([]byte, error) {
	var key [32]byte
	copy(key[:], address)
	return f.byAddress[key], nil
}

// fakeNodeRPC satisfies NodeRPC for tests that never reach GetStats or
// GetBlockchainConfig (exercised against Controller.tick's earlier steps
// in other packages already); both stub out here with zero values.
type fakeNodeRPC struct {
	*fakeKeyRPC
	*fakeFetcher
}

func (f *fakeNodeRPC) GetStats(ctx context.Context) (noderpc.NodeStats, error) {
	return noderpc.NodeStats{}, nil
}

func (f *fakeNodeRPC) GetBlockchainConfig(ctx context.Context) (chain.BlockID, noderpc.BlockchainConfig, error) {
	return chain.BlockID{}, noderpc.BlockchainConfig{}, nil
}

// fakeSender records every submitted external message body, the same
// convention orchestration_test.go and pool_test.go use.
type fakeSender struct {
	mu   sync.Mutex
	sent [][]byte
}

func (f *fakeSender) SendMessage(ctx context.Context, body []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, body)
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSender) last() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

// decodedSendTransaction is the subset of a wallet's sendTransaction ABI
// call a test cares about: the inner internal message's destination,
// value and payload, plus whether the outer external message carried a
// state init.
type decodedSendTransaction struct {
	hasStateInit bool
	destWorkchain int32
	destAccount   [32]byte
	value         uint64
	payload       []byte
}

func decodeSendTransaction(t *testing.T, raw []byte) decodedSendTransaction {
	t.Helper()
	r := tlwire.NewReader(raw)
	if _, err := r.Uint32(); err != nil { // ExtInMsg box id
		t.Fatalf("ext in box id: %v", err)
	}
	if _, err := r.Int32(); err != nil { // dst workchain
		t.Fatalf("ext in dst workchain: %v", err)
	}
	if _, err := r.Fixed(32); err != nil { // dst account
		t.Fatalf("ext in dst account: %v", err)
	}
	stateInit, err := r.Bytes()
	if err != nil {
		t.Fatalf("ext in state init: %v", err)
	}
	body, err := r.Bytes()
	if err != nil {
		t.Fatalf("ext in body: %v", err)
	}

	br := tlwire.NewReader(body)
	if _, err := br.Uint32(); err != nil { // sendTransaction box id
		t.Fatalf("send transaction box id: %v", err)
	}
	if _, err := br.Uint64(); err != nil { // time_ms
		t.Fatalf("time_ms: %v", err)
	}
	if _, err := br.Uint32(); err != nil { // expire_at
		t.Fatalf("expire_at: %v", err)
	}
	if _, err := br.Bytes(); err != nil { // pubkey
		t.Fatalf("pubkey: %v", err)
	}
	if _, err := br.Bytes(); err != nil { // signature
		t.Fatalf("signature: %v", err)
	}
	destWorkchain, err := br.Int32()
	if err != nil {
		t.Fatalf("dest workchain: %v", err)
	}
	destAccountRaw, err := br.Fixed(32)
	if err != nil {
		t.Fatalf("dest account: %v", err)
	}
	value, err := br.Uint64()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if _, err := br.Uint32(); err != nil { // bounce
		t.Fatalf("bounce: %v", err)
	}
	if _, err := br.Uint32(); err != nil { // flags
		t.Fatalf("flags: %v", err)
	}
	payload, err := br.Bytes()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}

	var destAccount [32]byte
	copy(destAccount[:], destAccountRaw)
	return decodedSendTransaction{
		hasStateInit:  len(stateInit) > 0,
		destWorkchain: destWorkchain,
		destAccount:   destAccount,
		value:         value,
		payload:       payload,
	}
}

func bigBalanceAccount() []byte {
	return contracts.EncodeAccount(vm.Account{Balance: 1_000_000 * oneEver})
}

func addr32(b byte) [32]byte {
	var a [32]byte
	a[0] = b
	return a
}

func TestElectSingleSendsFreshParticipationWhenNotYetElected(t *testing.T) {
	kp := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))
	walletCode := []byte("wallet code")
	walletAddr := contracts.ComputeWalletAddress(chain.WorkchainMasterchain, walletCode, kp.Public().(ed25519.PublicKey))
	electorAddr := message.Address{Workchain: chain.WorkchainMasterchain, Account: addr32(9)}

	sender := &fakeSender{}
	orch := orchestration.New(sender, walker.NewRegistry())
	rpc := &fakeNodeRPC{
		fakeKeyRPC: newFakeKeyRPC(),
		fakeFetcher: &fakeFetcher{byAddress: map[[32]byte][]byte{
			walletAddr.Account: bigBalanceAccount(),
		}},
	}
	clk := mockclock.NewMock()

	c := New(Config{
		RPC:           rpc,
		Orch:          orch,
		ValidatorKeys: kp,
		WalletCode:    walletCode,
		Clock:         clk,
		Log:           testLog(),
	})

	elector := contracts.NewElector(electorAddr, rpc, clk)
	cfg := &SingleConfig{WalletAddress: walletAddr, StakePerRound: 10_000 * oneEver, StakeFactor: 0}
	data := contracts.Data{Credits: map[[32]byte]uint64{}}
	timings := noderpc.ElectionTimings{ValidatorsElectedFor: 600, ElectionsStartBefore: 600, ElectionsEndBefore: 60, StakeHeldFor: 60}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.electSingle(ctx, elector, cfg, data, 1000, timings)
	if err == nil {
		t.Fatalf("expected electSingle to fail once ctx expires waiting for the outbound transaction")
	}

	if sender.count() != 1 {
		t.Fatalf("expected exactly one submitted message, got %d", sender.count())
	}

	got := decodeSendTransaction(t, sender.last())
	if got.hasStateInit {
		t.Fatalf("wallet is already active, should not attach a state init")
	}
	if got.destWorkchain != electorAddr.Workchain || got.destAccount != electorAddr.Account {
		t.Fatalf("expected participation addressed to the elector, got workchain=%d account=%x", got.destWorkchain, got.destAccount)
	}
	wantValue := cfg.StakePerRound + oneEver
	if got.value != wantValue {
		t.Fatalf("value = %d, want %d", got.value, wantValue)
	}

	pr := tlwire.NewReader(got.payload)
	boxID, err := pr.Uint32()
	if err != nil {
		t.Fatalf("participation box id: %v", err)
	}
	wantBoxID := tlwire.BoxID("stever.participateInElections query_id:long validator_key:int256 stake_at:int max_factor:int adnl_addr:int256 signature:bytes = ParticipateInElections")
	if boxID != wantBoxID {
		t.Fatalf("box id = %x, want participateInElections %x", boxID, wantBoxID)
	}
}

func TestElectSingleSkipsParticipationWhenAlreadyElected(t *testing.T) {
	kp := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))
	walletCode := []byte("wallet code")
	walletAddr := contracts.ComputeWalletAddress(chain.WorkchainMasterchain, walletCode, kp.Public().(ed25519.PublicKey))
	electorAddr := message.Address{Workchain: chain.WorkchainMasterchain, Account: addr32(9)}

	sender := &fakeSender{}
	orch := orchestration.New(sender, walker.NewRegistry())
	rpc := &fakeNodeRPC{
		fakeKeyRPC: newFakeKeyRPC(),
		fakeFetcher: &fakeFetcher{byAddress: map[[32]byte][]byte{
			walletAddr.Account: bigBalanceAccount(),
		}},
	}
	clk := mockclock.NewMock()
	c := New(Config{RPC: rpc, Orch: orch, ValidatorKeys: kp, WalletCode: walletCode, Clock: clk, Log: testLog()})
	elector := contracts.NewElector(electorAddr, rpc, clk)

	cfg := &SingleConfig{WalletAddress: walletAddr, StakePerRound: 10_000 * oneEver}
	data := contracts.Data{
		Credits: map[[32]byte]uint64{},
		Current: &contracts.CurrentElection{Members: []contracts.ElectionMember{{SrcAddr: walletAddr.Account}}},
	}
	timings := noderpc.ElectionTimings{ValidatorsElectedFor: 600, ElectionsStartBefore: 600, ElectionsEndBefore: 60, StakeHeldFor: 60}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := c.electSingle(ctx, elector, cfg, data, 1000, timings); err != nil {
		t.Fatalf("electSingle: %v", err)
	}
	if sender.count() != 0 {
		t.Fatalf("expected no messages once already elected, got %d", sender.count())
	}
}

func TestElectSingleRecoversUnfrozenStakeBeforeParticipating(t *testing.T) {
	kp := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))
	walletCode := []byte("wallet code")
	walletAddr := contracts.ComputeWalletAddress(chain.WorkchainMasterchain, walletCode, kp.Public().(ed25519.PublicKey))
	electorAddr := message.Address{Workchain: chain.WorkchainMasterchain, Account: addr32(9)}

	sender := &fakeSender{}
	orch := orchestration.New(sender, walker.NewRegistry())
	rpc := &fakeNodeRPC{
		fakeKeyRPC: newFakeKeyRPC(),
		fakeFetcher: &fakeFetcher{byAddress: map[[32]byte][]byte{
			walletAddr.Account: bigBalanceAccount(),
		}},
	}
	clk := mockclock.NewMock()
	c := New(Config{RPC: rpc, Orch: orch, ValidatorKeys: kp, WalletCode: walletCode, Clock: clk, Log: testLog()})
	elector := contracts.NewElector(electorAddr, rpc, clk)

	cfg := &SingleConfig{WalletAddress: walletAddr, StakePerRound: 10_000 * oneEver}
	data := contracts.Data{Credits: map[[32]byte]uint64{walletAddr.Account: 5 * oneEver}}
	timings := noderpc.ElectionTimings{ValidatorsElectedFor: 600, ElectionsStartBefore: 600, ElectionsEndBefore: 60, StakeHeldFor: 60}

	// The recover-stake send never resolves in this test (nothing dispatches
	// a matching transaction through the registry), so a short-lived ctx is
	// enough to observe the first submission and stop there, the same
	// pattern pool_test.go's TestDeploySubmitsSignedStateInitBeforeWaiting
	// uses for an orchestration call this test has no interest in completing.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := c.electSingle(ctx, elector, cfg, data, 1000, timings); err == nil {
		t.Fatalf("expected electSingle to fail waiting for the recover-stake transaction")
	}
	if sender.count() != 1 {
		t.Fatalf("expected exactly one submitted message (recover stake), got %d", sender.count())
	}

	got := decodeSendTransaction(t, sender.last())
	if got.value != oneEver {
		t.Fatalf("recover stake value = %d, want %d", got.value, oneEver)
	}
	pr := tlwire.NewReader(got.payload)
	boxID, err := pr.Uint32()
	if err != nil {
		t.Fatalf("recover stake box id: %v", err)
	}
	wantBoxID := tlwire.BoxID("stever.recoverStake query_id:long = RecoverStake")
	if boxID != wantBoxID {
		t.Fatalf("box id = %x, want recoverStake %x", boxID, wantBoxID)
	}
}

func TestMaintainPoolBalancesUsesWalletsOwnStateNotTargets(t *testing.T) {
	kp := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))
	walletCode := []byte("wallet code")
	walletAddr := contracts.ComputeWalletAddress(chain.WorkchainBase, walletCode, kp.Public().(ed25519.PublicKey))
	poolKp := ed25519.NewKeyFromSeed(func() []byte { s := make([]byte, ed25519.SeedSize); s[0] = 7; return s }())
	depoolCode := contracts.DePoolCode{Code: []byte("pool code")}

	sender := &fakeSender{}
	orch := orchestration.New(sender, walker.NewRegistry())

	// The wallet itself is already active with plenty of balance; the pool
	// has never been funded, so it's under the topup threshold and
	// triggers a send. The guarded wallet.Call blocks waiting for the
	// outbound transaction that never arrives, so maintainPoolBalances
	// never gets past this first target to the two proxies; that's
	// exactly what this test wants to observe. If the send ever attaches
	// a state init here, it leaked the destination's (uninitialized)
	// state into the wallet's own sendTransaction call instead of the
	// wallet's own.
	rpc := &fakeNodeRPC{
		fakeKeyRPC: newFakeKeyRPC(),
		fakeFetcher: &fakeFetcher{byAddress: map[[32]byte][]byte{
			walletAddr.Account: bigBalanceAccount(),
		}},
	}
	clk := mockclock.NewMock()
	c := New(Config{RPC: rpc, Orch: orch, ValidatorKeys: kp, WalletCode: walletCode, DePoolCode: depoolCode, Clock: clk, Log: testLog()})

	wallet := contracts.NewWallet(chain.WorkchainBase, kp, walletCode, orch, clk)
	pool := contracts.NewDePool(contracts.DePoolDefaultV3, poolKp, depoolCode, orch, clk)
	info := contracts.Info{Proxies: []message.Address{
		{Workchain: chain.WorkchainBase, Account: addr32(20)},
		{Workchain: chain.WorkchainBase, Account: addr32(21)},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := c.maintainPoolBalances(ctx, wallet, pool, info); err == nil {
		t.Fatalf("expected maintainPoolBalances to fail once ctx expires waiting on the pool's transfer")
	}

	if sender.count() != 1 {
		t.Fatalf("expected exactly one topup send (the pool, before the proxies are reached), got %d", sender.count())
	}
	got := decodeSendTransaction(t, sender.last())
	if got.hasStateInit {
		t.Fatalf("send attached a state init; wallet is active and should not")
	}
	if got.destAccount != pool.Address.Account {
		t.Fatalf("expected the send addressed to the pool, got account %x", got.destAccount)
	}
	if got.value != poolTopUpBalance {
		t.Fatalf("value = %d, want %d", got.value, poolTopUpBalance)
	}
}

func TestIsSyncedSingleModeIgnoresShardTimeDiff(t *testing.T) {
	c := New(Config{Params: Params{MaxTimeDiff: 10}, Log: testLog()})
	stats := noderpc.NodeStats{Ready: true, McTimeDiff: 1, ScTimeDiff: nil}
	if !c.isSynced(stats, true) {
		t.Fatalf("expected single-mode sync check to ignore a missing shard time diff")
	}
}

func TestIsSyncedPoolModeRequiresShardTimeDiff(t *testing.T) {
	c := New(Config{Params: Params{MaxTimeDiff: 10}, Log: testLog()})
	stats := noderpc.NodeStats{Ready: true, McTimeDiff: 1, ScTimeDiff: nil}
	if c.isSynced(stats, false) {
		t.Fatalf("expected pool-mode sync check to require a shard time diff")
	}
	big := int32(20)
	stats.ScTimeDiff = &big
	if c.isSynced(stats, false) {
		t.Fatalf("expected pool-mode sync check to reject a shard time diff over the max")
	}
	small := int32(1)
	stats.ScTimeDiff = &small
	if !c.isSynced(stats, false) {
		t.Fatalf("expected pool-mode sync check to accept a small shard time diff")
	}
}

func TestElectionWaitOrProceedWaitsBeforeStartOffset(t *testing.T) {
	c := New(Config{Params: Params{ElectionsStartOffset: 100, DisableRandomShift: true}, Log: testLog()})
	wait, proceed := c.electionWaitOrProceed(Timeline{Phase: Elections, SinceElectionsStart: 40, UntilElectionsEnd: 900})
	if proceed {
		t.Fatalf("expected to wait, not proceed, before the start offset elapses")
	}
	if wait != 60*time.Second {
		t.Fatalf("wait = %v, want 60s", wait)
	}
}

func TestElectionWaitOrProceedProceedsAfterStartOffset(t *testing.T) {
	c := New(Config{Params: Params{ElectionsStartOffset: 100, ElectionsEndOffset: 50, DisableRandomShift: true}, Log: testLog()})
	_, proceed := c.electionWaitOrProceed(Timeline{Phase: Elections, SinceElectionsStart: 150, UntilElectionsEnd: 900})
	if !proceed {
		t.Fatalf("expected to proceed once past the start offset and well before the end cutoff")
	}
}

func TestElectionWaitOrProceedWaitsNearEndOffset(t *testing.T) {
	c := New(Config{Params: Params{ElectionsStartOffset: 0, ElectionsEndOffset: 100, DisableRandomShift: true}, Log: testLog()})
	wait, proceed := c.electionWaitOrProceed(Timeline{Phase: Elections, SinceElectionsStart: 500, UntilElectionsEnd: 40})
	if proceed {
		t.Fatalf("expected to wait for the end-offset cutoff to clear rather than proceed")
	}
	if wait != 60*time.Second {
		t.Fatalf("wait = %v, want 60s", wait)
	}
}

func TestElectionRandomShiftDisabledIsZeroAndCached(t *testing.T) {
	c := New(Config{Params: Params{DisableRandomShift: true}, Log: testLog()})
	tl := Timeline{Phase: Elections, SinceElectionsStart: 10, UntilElectionsEnd: 990}
	if s := c.electionRandomShift(tl); s != 0 {
		t.Fatalf("shift = %d, want 0 when disabled", s)
	}
	if c.randomShift == nil {
		t.Fatalf("expected the shift to be cached after first computation")
	}
}

func TestOrderRoundsRequiresExactlyFourRounds(t *testing.T) {
	prev, target, pooling, prePooling := orderRounds(map[uint64]contracts.Round{1: {ID: 1}, 2: {ID: 2}})
	if prev != nil || target != nil || pooling != nil || prePooling != nil {
		t.Fatalf("expected all-nil when fewer than four rounds are present")
	}

	rounds := map[uint64]contracts.Round{
		3: {ID: 3}, 1: {ID: 1}, 4: {ID: 4}, 2: {ID: 2},
	}
	prev, target, pooling, prePooling = orderRounds(rounds)
	if prev == nil || prev.ID != 1 {
		t.Fatalf("prev = %+v, want round 1", prev)
	}
	if target == nil || target.ID != 2 {
		t.Fatalf("target = %+v, want round 2", target)
	}
	if pooling == nil || pooling.ID != 3 {
		t.Fatalf("pooling = %+v, want round 3", pooling)
	}
	if prePooling == nil || prePooling.ID != 4 {
		t.Fatalf("prePooling = %+v, want round 4", prePooling)
	}
}

func TestEnsureDeployedSkipsSingleConfig(t *testing.T) {
	c := New(Config{Log: testLog()})
	deployed, err := c.ensureDeployed(context.Background(), &Config{Single: &SingleConfig{}})
	if err != nil || deployed {
		t.Fatalf("deployed=%v err=%v, want false,nil for a single-mode config", deployed, err)
	}
}

func TestEnsureDeployedSkipsWhenAlreadyDeployedForThisValidator(t *testing.T) {
	c := New(Config{Log: testLog()})
	cfg := &Config{Pool: &PoolConfig{
		OwnerAddress: message.Address{Account: addr32(1)},
		PoolAddress:  message.Address{Account: addr32(2)},
	}}
	c.lastDeployed = &Config{Pool: &PoolConfig{
		OwnerAddress: cfg.Pool.OwnerAddress,
		PoolAddress:  cfg.Pool.PoolAddress,
	}}

	deployed, err := c.ensureDeployed(context.Background(), cfg)
	if err != nil || deployed {
		t.Fatalf("deployed=%v err=%v, want false,nil once lastDeployed matches", deployed, err)
	}
}

func TestSaturatingSubU64AndMaxU64(t *testing.T) {
	if got := saturatingSubU64(5, 10); got != 0 {
		t.Fatalf("saturatingSubU64(5,10) = %d, want 0", got)
	}
	if got := saturatingSubU64(10, 4); got != 6 {
		t.Fatalf("saturatingSubU64(10,4) = %d, want 6", got)
	}
	if got := maxU64(3, 9); got != 9 {
		t.Fatalf("maxU64(3,9) = %d, want 9", got)
	}
	if got := maxU64(9, 3); got != 9 {
		t.Fatalf("maxU64(9,3) = %d, want 9", got)
	}
}
