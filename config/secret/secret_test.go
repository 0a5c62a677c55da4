package secret

import (
	"encoding/json"
	"fmt"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

func TestString_Redacts(t *testing.T) {
	s := String("super-sensitive")

	assert.Check(t, cmp.Equal(fmt.Sprintf("%s", s), "REDACTED"))
	assert.Check(t, cmp.Equal(fmt.Sprintf("%v", s), "REDACTED"))
	assert.Check(t, cmp.Equal(fmt.Sprintf("%#v", s), "REDACTED"))

	b, err := json.Marshal(s)
	assert.Assert(t, err)
	assert.Check(t, cmp.Equal(string(b), `"REDACTED"`))

	assert.Check(t, cmp.Equal(s.Raw(), "super-sensitive"))
}
