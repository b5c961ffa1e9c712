package codec

import (
	"testing"

	"gotest.tools/v3/assert"
)

type position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func TestDecodeIntoStruct(t *testing.T) {
	pos, err := Decode[position]([]byte(`{"x":1,"y":2}`))
	assert.NilError(t, err)
	assert.Equal(t, position{X: 1, Y: 2}, pos)
}

func TestDecodeReportsBadInput(t *testing.T) {
	_, err := Decode[position]([]byte(`{"x":`))
	assert.Check(t, err != nil)
}
