package card

import (
	"errors"
	"fmt"
)

type OwnerKind string

const (
	OwnerNone       OwnerKind = ""
	OwnerPerson     OwnerKind = "PERSON"
	OwnerEnterprise OwnerKind = "ENTERPRISE"
)

var ErrInvalidOwner = errors.New("invalid owner")

// Owner is either unassigned, a person, or an enterprise.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id,omitempty"`
}

func Unassigned() Owner          { return Owner{} }
func Person(id string) Owner     { return Owner{Kind: OwnerPerson, ID: id} }
func Enterprise(id string) Owner { return Owner{Kind: OwnerEnterprise, ID: id} }

// Assigned reports whether the card belongs to someone.
func (o Owner) Assigned() bool { return o.Kind != OwnerNone }

func (o Owner) Validate() error {
	switch o.Kind {
	case OwnerNone:
		if o.ID != "" {
			return fmt.Errorf("%w: unassigned owner carries id %q", ErrInvalidOwner, o.ID)
		}
	case OwnerPerson, OwnerEnterprise:
		if o.ID == "" {
			return fmt.Errorf("%w: %s owner needs an id", ErrInvalidOwner, o.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOwner, o.Kind)
	}
	return nil
}

func (o Owner) String() string {
	if !o.Assigned() {
		return "unassigned"
	}
	return string(o.Kind) + ":" + o.ID
}
