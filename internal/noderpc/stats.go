package noderpc

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"stever/internal/chain"
)

// NodeStats is the parsed form of engine.validator.stats: either the node
// isn't synced yet, or it is and every required field parsed.
type NodeStats struct {
	Ready      bool
	SyncStatus string

	NodeVersion  NodeVersion
	McTime       uint32
	McTimeDiff   int32
	ScTimeDiff   *int32 // nil when the node reports the shards_timediff as "unknown"
	LastMcBlock  chain.BlockID
	InCurrentSet ValidatorSetMembership
	InNextSet    ValidatorSetMembership
}

// NodeVersion is the node's self-reported "X.Y.Z" version string.
type NodeVersion struct {
	Major, Minor, Patch uint32
}

func parseNodeVersion(s string) (NodeVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return NodeVersion{}, fmt.Errorf("noderpc: invalid node version %q", s)
	}
	var v [3]uint32
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return NodeVersion{}, fmt.Errorf("noderpc: invalid node version %q", s)
		}
		v[i] = uint32(n)
	}
	return NodeVersion{Major: v[0], Minor: v[1], Patch: v[2]}, nil
}

// ValidatorSetMembership reports whether the node's key is in a validator
// set and, if so, its ADNL id.
type ValidatorSetMembership struct {
	Member bool
	ADNLID [32]byte
}

const (
	statsSyncStatus         = "sync_status"
	statsMcBlockTime        = "masterchainblocktime"
	statsNodeVersion        = "node_version"
	statsTimediff           = "timediff"
	statsShardsTimediff     = "shards_timediff"
	statsInCurrentVset      = "in_current_vset_p34"
	statsCurrentVsetAdnl    = "current_vset_p34_adnl_id"
	statsInNextVset         = "in_next_vset_p36"
	statsNextVsetAdnl       = "next_vset_p36_adnl_id"
	statsLastAppliedMcBlock = "last_applied_masterchain_block_id"

	syncStatusFinished = "SynchronizationFinished"
)

// InvalidStatsError reports that the node's stats were missing a required
// field or contained a value that couldn't be parsed.
type InvalidStatsError struct {
	FieldsMissing bool
	Key           string
}

func (e *InvalidStatsError) Error() string {
	if e.FieldsMissing {
		return "noderpc: stats missing required fields"
	}
	return fmt.Sprintf("noderpc: invalid stats value for %q", e.Key)
}

func parseNodeStats(items []oneStat) (NodeStats, error) {
	var (
		syncStatus      string
		haveSyncStatus  bool
		mcTime          uint32
		haveMcTime      bool
		mcTimeDiff      int32
		haveMcTimeDiff  bool
		scTimeDiff      *int32
		haveScTimeDiff  bool
		nodeVersion     NodeVersion
		haveNodeVersion bool
		inCurrentSet    *bool
		currentSetAdnl  *[32]byte
		inNextSet       *bool
		nextSetAdnl     *[32]byte
		lastMcBlock     chain.BlockID
		haveLastMc      bool
	)

	for _, item := range items {
		key := string(item.Key)
		switch key {
		case statsSyncStatus:
			var v string
			if err := json.Unmarshal(item.Value, &v); err != nil {
				return NodeStats{}, &InvalidStatsError{Key: key}
			}
			syncStatus, haveSyncStatus = v, true
		case statsMcBlockTime:
			var v uint32
			if err := json.Unmarshal(item.Value, &v); err != nil {
				return NodeStats{}, &InvalidStatsError{Key: key}
			}
			mcTime, haveMcTime = v, true
		case statsNodeVersion:
			var v string
			if err := json.Unmarshal(item.Value, &v); err != nil {
				return NodeStats{}, &InvalidStatsError{Key: key}
			}
			parsed, err := parseNodeVersion(v)
			if err != nil {
				return NodeStats{}, &InvalidStatsError{Key: key}
			}
			nodeVersion, haveNodeVersion = parsed, true
		case statsTimediff:
			var v int32
			if err := json.Unmarshal(item.Value, &v); err != nil {
				return NodeStats{}, &InvalidStatsError{Key: key}
			}
			mcTimeDiff, haveMcTimeDiff = v, true
		case statsShardsTimediff:
			var v int32
			if err := json.Unmarshal(item.Value, &v); err == nil {
				scTimeDiff = &v
			} // a string value means "unknown"; scTimeDiff stays nil
			haveScTimeDiff = true
		case statsInCurrentVset:
			var v bool
			if err := json.Unmarshal(item.Value, &v); err != nil {
				return NodeStats{}, &InvalidStatsError{Key: key}
			}
			inCurrentSet = &v
		case statsCurrentVsetAdnl:
			id, err := parseADNLID(item.Value)
			if err != nil {
				return NodeStats{}, &InvalidStatsError{Key: key}
			}
			currentSetAdnl = &id
		case statsInNextVset:
			var v bool
			if err := json.Unmarshal(item.Value, &v); err != nil {
				return NodeStats{}, &InvalidStatsError{Key: key}
			}
			inNextSet = &v
		case statsNextVsetAdnl:
			id, err := parseADNLID(item.Value)
			if err != nil {
				return NodeStats{}, &InvalidStatsError{Key: key}
			}
			nextSetAdnl = &id
		case statsLastAppliedMcBlock:
			var raw string
			if err := json.Unmarshal(item.Value, &raw); err != nil {
				return NodeStats{}, &InvalidStatsError{Key: key}
			}
			id, err := parseLastMcBlock(raw)
			if err != nil {
				return NodeStats{}, &InvalidStatsError{Key: key}
			}
			lastMcBlock, haveLastMc = id, true
		}
	}

	if !haveSyncStatus || syncStatus != syncStatusFinished {
		return NodeStats{Ready: false, SyncStatus: syncStatus}, nil
	}
	if !haveMcTime || !haveMcTimeDiff || !haveScTimeDiff || !haveLastMc || !haveNodeVersion {
		return NodeStats{}, &InvalidStatsError{FieldsMissing: true}
	}

	inCurrent, err := resolveMembership(inCurrentSet, currentSetAdnl)
	if err != nil {
		return NodeStats{}, err
	}
	inNext, err := resolveMembership(inNextSet, nextSetAdnl)
	if err != nil {
		return NodeStats{}, err
	}

	return NodeStats{
		Ready:        true,
		NodeVersion:  nodeVersion,
		McTime:       mcTime,
		McTimeDiff:   mcTimeDiff,
		ScTimeDiff:   scTimeDiff,
		LastMcBlock:  lastMcBlock,
		InCurrentSet: inCurrent,
		InNextSet:    inNext,
	}, nil
}

func resolveMembership(member *bool, adnl *[32]byte) (ValidatorSetMembership, error) {
	if member == nil || !*member {
		return ValidatorSetMembership{}, nil
	}
	if adnl == nil {
		return ValidatorSetMembership{}, &InvalidStatsError{FieldsMissing: true}
	}
	return ValidatorSetMembership{Member: true, ADNLID: *adnl}, nil
}

// parseADNLID accepts a JSON string holding either hex or base-64 encoded
// 32 bytes.
func parseADNLID(raw json.RawMessage) ([32]byte, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	if b, err := hex.DecodeString(s); err == nil && len(b) == 32 {
		copy(out[:], b)
		return out, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == 32 {
		copy(out[:], b)
		return out, nil
	}
	return out, fmt.Errorf("noderpc: invalid adnl id %q", s)
}

// parseLastMcBlock parses "wc:shard_hex:seq_no:rh:fh" (colon-separated, hex
// shard/hash fields) into a BlockID.
func parseLastMcBlock(raw string) (chain.BlockID, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 5 {
		return chain.BlockID{}, fmt.Errorf("noderpc: malformed last applied mc block %q", raw)
	}
	workchain, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return chain.BlockID{}, err
	}
	shard, err := strconv.ParseUint(parts[1], 16, 64)
	if err != nil {
		return chain.BlockID{}, err
	}
	seq, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return chain.BlockID{}, err
	}
	rootHash, err := hex.DecodeString(parts[3])
	if err != nil || len(rootHash) != 32 {
		return chain.BlockID{}, fmt.Errorf("noderpc: malformed root hash in %q", raw)
	}
	fileHash, err := hex.DecodeString(parts[4])
	if err != nil || len(fileHash) != 32 {
		return chain.BlockID{}, fmt.Errorf("noderpc: malformed file hash in %q", raw)
	}

	var id chain.BlockID
	id.Shard = chain.ShardID{Workchain: int32(workchain), Prefix: shard}
	id.Seq = uint32(seq)
	copy(id.RootHash[:], rootHash)
	copy(id.FileHash[:], fileHash)
	return id, nil
}
