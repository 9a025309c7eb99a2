package inspect

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// maxLoggedMessageTokens bounds how much of an over-long message
// content is logged verbatim; the full content still goes to the
// inspection endpoint untouched.
const maxLoggedMessageTokens = 2000

// modelEncodings maps model names to their tiktoken encoding, trimmed
// to the encodings this package's callers' models actually use.
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

const defaultEncoding = "cl100k_base"

var encodingCache sync.Map // encoding name -> *tiktoken.Tiktoken

func encodingFor(model string) (*tiktoken.Tiktoken, error) {
	name, ok := modelEncodings[model]
	if !ok {
		name = defaultEncoding
	}
	if enc, ok := encodingCache.Load(name); ok {
		return enc.(*tiktoken.Tiktoken), nil
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, err
	}
	encodingCache.Store(name, enc)
	return enc, nil
}

// countTokens estimates the token count of text under model's
// encoding, falling back to a length-of-4 heuristic (tiktoken-go's
// encoding data failed to load, e.g. no network access to fetch BPE
// ranks) rather than failing the inspection call outright.
func countTokens(model, text string) int {
	enc, err := encodingFor(model)
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// truncateForLogging returns a version of content safe to pass to a
// logger: unchanged if it fits within maxLoggedMessageTokens under
// model's tokenizer, else a prefix followed by an elision marker. It
// never touches the content actually sent to the inspection endpoint.
func truncateForLogging(model, content string) string {
	if countTokens(model, content) <= maxLoggedMessageTokens {
		return content
	}
	enc, err := encodingFor(model)
	if err != nil {
		if len(content) > maxLoggedMessageTokens*4 {
			return content[:maxLoggedMessageTokens*4] + "...[truncated]"
		}
		return content
	}
	tokens := enc.Encode(content, nil, nil)
	if len(tokens) <= maxLoggedMessageTokens {
		return content
	}
	return enc.Decode(tokens[:maxLoggedMessageTokens]) + "...[truncated]"
}
