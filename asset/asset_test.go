package asset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefValidate(t *testing.T) {
	assert.NoError(t, Ref{Kind: KindProperty, ID: "villa-12"}.Validate())
	assert.NoError(t, Ref{Kind: KindParcel, ID: "parcel-88"}.Validate())

	assert.Error(t, Ref{Kind: KindProperty}.Validate())
	assert.Error(t, Ref{Kind: "castle", ID: "x"}.Validate())
	assert.Error(t, Ref{}.Validate())
}

func TestRefString(t *testing.T) {
	assert.Equal(t, "property:villa-12", Ref{Kind: KindProperty, ID: "villa-12"}.String())
}
