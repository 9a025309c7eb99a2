package inspect

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestEncodeBodyBase64RoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		body := rapid.SliceOf(rapid.Byte()).Draw(rt, "body")
		encoded := EncodeBody(body)
		if len(body) == 0 {
			assert.Equal(t, "", encoded)
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		assert.NoError(t, err)
		assert.Equal(t, body, decoded)
	})
}
