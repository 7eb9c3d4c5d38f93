package domain

// ResourceOwner names the aggregate administratively responsible for
// another aggregate: an org for org-scoped data, or the instance itself
// for instance-scoped data.
type ResourceOwner struct {
	Type OwnerType
	// ID is the org ID when Type == OwnerOrg, and equal to InstanceID when
	// Type == OwnerInstance.
	ID string
}

// InstanceScoped reports whether the owner is the instance itself rather
// than a specific org.
func (r ResourceOwner) InstanceScoped() bool { return r.Type == OwnerInstance }

// Instance is the top-level tenant boundary: every aggregate, read table
// row, and projection checkpoint is partitioned by InstanceID. The
// instance aggregate itself records only its name and lifecycle state;
// instance-scoped IDPs are separate idp aggregates owned by the instance.
type Instance struct {
	ID    string
	Name  string
	State LifecycleState
}
