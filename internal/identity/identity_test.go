package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lattice-io/hostrt/internal/identity"
)

func TestNewDefaultsLinkName(t *testing.T) {
	id := identity.New("Vpublickey", "")
	assert.Equal(t, "default", id.LinkName)

	id2 := identity.New("Vpublickey", "custom")
	assert.Equal(t, "custom", id2.LinkName)
}

func TestIdentityEquality(t *testing.T) {
	a := identity.New("Vxxx", "default")
	b := identity.New("Vxxx", "default")
	c := identity.New("Vxxx", "other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestParseTruthy(t *testing.T) {
	cases := map[string]bool{
		"true":       true,
		"TRUE":       true,
		"YES":        true,
		"y":          true,
		"enabled":    true,
		"totes":      true,
		"YOU BETCHA": true,
		"yuppers":    true,
		"false":      false,
		"":           false,
		"maybe":      false,
	}

	for input, want := range cases {
		assert.Equal(t, want, identity.ParseTruthy(input), "input=%q", input)
	}
}
