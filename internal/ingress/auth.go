package ingress

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/justinas/alice"
	"github.com/xmidt-org/bascule"
	"github.com/xmidt-org/bascule/basculehttp"
)

// NewAuthChain builds the administrative surface's auth pre-handler from a
// list of base64-encoded "user:password" credentials. An empty list leaves
// every route unauthenticated.
func NewAuthChain(encodedBasicCredentials []string, logger log.Logger) *alice.Chain {
	if len(encodedBasicCredentials) == 0 {
		chain := alice.New()
		return &chain
	}

	allowed := make(basculehttp.BasicTokenFactory, len(encodedBasicCredentials))
	for _, encoded := range encodedBasicCredentials {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			level.Error(logger).Log("msg", "ignoring malformed basic auth credential", "err", err)
			continue
		}
		i := strings.IndexByte(string(decoded), ':')
		if i < 1 {
			level.Error(logger).Log("msg", "ignoring basic auth credential without a user:password separator")
			continue
		}
		allowed[string(decoded[:i])] = string(decoded[i+1:])
	}

	constructor := basculehttp.NewConstructor(
		basculehttp.WithTokenFactory("Basic", allowed),
	)
	enforcer := basculehttp.NewEnforcer(
		basculehttp.WithRules("Basic", bascule.Validators{bascule.ValidatorFunc(func(context.Context, bascule.Token) error {
			return nil
		})}),
	)

	chain := alice.New(constructor, enforcer)
	return &chain
}
