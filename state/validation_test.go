package state

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameValidator_Valid(t *testing.T) {
	assert.NoError(t, NameValidator("1"))
	assert.NoError(t, NameValidator("ab_cd"))
	assert.NoError(t, NameValidator("abcd-a.com"))
}

func TestNameValidator_Invalid(t *testing.T) {
	assert.Error(t, NameValidator("1A"))
	assert.Error(t, NameValidator("node name"))
	assert.Error(t, NameValidator(""))
	assert.Error(t, NameValidator("\t"))
	assert.Error(t, NameValidator("abcd-a.com\\hi"))
	assert.Error(t, NameValidator(strings.Repeat("a", 200)))
}

func TestEndpointValidator(t *testing.T) {
	assert.NoError(t, EndpointValidator("127.0.0.1:9000"))
	assert.NoError(t, EndpointValidator("[::1]:9000"))
	assert.Error(t, EndpointValidator("not-an-endpoint"))
	assert.Error(t, EndpointValidator("127.0.0.1"))
}

func TestAddressValidator(t *testing.T) {
	assert.NoError(t, AddressValidator(1001))
	assert.Error(t, AddressValidator(0))
}
