package ports

import "github.com/layer-3/glytch/core"

// Tokenizer converts browser sessions to and from cookie tokens
type Tokenizer interface {
	SessionToToken(session *core.BrowserSession) (string, error)
	TokenToSession(token string) (*core.BrowserSession, error)
}
