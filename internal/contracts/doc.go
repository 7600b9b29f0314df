// Package contracts builds the external and internal messages the
// election controller sends to the system and pool contracts, and runs
// their read-only getters against a fetched account state.
//
// There is no TVM cell or ABI-codegen library in the dependency set (the
// same gap internal/blockdata and internal/message work around), so call
// bodies here are boxed TL records rather than real ABI-encoded cells:
// each function gets a stable box id and a fixed field layout, encoded and
// decoded with internal/tlwire. The election-participation signing blob is
// the one exception — its bytes are dictated by the wire format the
// elector itself verifies against, so it is assembled by hand rather than
// boxed.
package contracts
