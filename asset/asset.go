// Package asset identifies the properties and land parcels the lifecycle
// engines operate on. Both kinds share the same state machines; the kind
// travels as data on the reference.
package asset

import "fmt"

type Kind string

const (
	KindProperty Kind = "property"
	KindParcel   Kind = "parcel"
)

// Ref points at a listable asset.
type Ref struct {
	Kind Kind
	ID   string
}

func (r Ref) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("asset: missing id")
	}
	switch r.Kind {
	case KindProperty, KindParcel:
		return nil
	default:
		return fmt.Errorf("asset: invalid kind %q", r.Kind)
	}
}

func (r Ref) String() string {
	return string(r.Kind) + ":" + r.ID
}
