package auth

import "context"

// Capability is a bit in a permission mask.
type Capability uint64

const (
	CapSolutionSubmit Capability = 1 << iota
	CapSolutionView
	CapSolutionRejudge
	CapInstanceManage
	CapContestView
	CapContestManage
	CapRanklistManage
)

// HasCapability reports whether mask grants bit.
func HasCapability(mask, bit Capability) bool {
	return mask&bit == bit
}

// Target names the resource a capability is checked against.
type Target struct {
	Kind  string
	ID    string
	OrgID string
}

// Checker resolves the capability mask a principal holds on a target.
type Checker interface {
	Capabilities(ctx context.Context, p Principal, target Target) (Capability, error)
}

// TokenChecker grants the mask embedded in the token within the token's
// organization and nothing outside it.
type TokenChecker struct{}

func (TokenChecker) Capabilities(_ context.Context, p Principal, target Target) (Capability, error) {
	if target.OrgID != "" && target.OrgID != p.OrgID {
		return 0, nil
	}
	return p.Caps, nil
}
