package authchain

import (
	"fmt"
	"net/http"

	"github.com/jamesread/authchain/authpublic"
	"github.com/jamesread/authchain/providers/hasbearer"
	"github.com/jamesread/authchain/providers/hasnegotiate"
	"github.com/jamesread/authchain/providers/hasoidc"
	"github.com/jamesread/authchain/providers/haspassword"
	"github.com/jamesread/authchain/providers/hassaml"
	"github.com/jamesread/authchain/tokens"
	log "github.com/sirupsen/logrus"
)

// Deps are the shared collaborators handed to every provider at
// construction.
type Deps struct {
	// Directory is the backing identity-service client.
	Directory authpublic.DirectoryClient

	// BasePath resolves the application base path for a request. Providers
	// use it to build redirect destinations. Optional.
	BasePath func(r *http.Request) string

	// Tokens signs and verifies intermediate login state.
	Tokens *tokens.Manager

	// IsBackground classifies a request as automated rather than
	// user-driven. Background requests do not extend session expiry on
	// touch. Optional; nil treats every request as user-driven.
	IsBackground func(r *http.Request) bool
}

// registry maps configured mechanism names to initialized providers. It is
// built once at construction and never mutated afterwards, so it is safe to
// share across concurrent requests without locking.
type registry struct {
	order  []string
	byName map[string]authpublic.Provider
}

// buildRegistry constructs every configured provider. Configuration problems
// are fatal: an unknown mechanism name, a duplicate entry, zero providers,
// or per-provider option validation failures all abort construction rather
// than run with a partial chain.
func buildRegistry(cfg *authpublic.Config, deps Deps) (*registry, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no authentication providers configured")
	}

	reg := &registry{
		order:  make([]string, 0, len(cfg.Providers)),
		byName: make(map[string]authpublic.Provider, len(cfg.Providers)),
	}

	for _, pc := range cfg.Providers {
		if _, dup := reg.byName[pc.Name]; dup {
			return nil, fmt.Errorf("provider %q configured twice", pc.Name)
		}

		pdeps := authpublic.ProviderDeps{
			Directory: deps.Directory,
			BasePath:  deps.BasePath,
			Tokens:    deps.Tokens,
			Log:       log.WithField("provider", pc.Name),
		}

		var (
			provider authpublic.Provider
			err      error
		)

		switch pc.Name {
		case authpublic.ProviderPassword:
			provider, err = haspassword.New(pc.Password, pdeps)
		case authpublic.ProviderBearer:
			provider, err = hasbearer.New(pc.Bearer, pdeps)
		case authpublic.ProviderNegotiate:
			provider, err = hasnegotiate.New(pc.Negotiate, pdeps)
		case authpublic.ProviderSAML:
			provider, err = hassaml.New(pc.SAML, pdeps)
		case authpublic.ProviderOIDC:
			provider, err = hasoidc.New(pc.OIDC, pdeps)
		default:
			return nil, fmt.Errorf("unknown authentication provider %q", pc.Name)
		}

		if err != nil {
			return nil, fmt.Errorf("configure provider %q: %w", pc.Name, err)
		}

		reg.order = append(reg.order, pc.Name)
		reg.byName[pc.Name] = provider
	}

	return reg, nil
}

func (r *registry) get(name string) (authpublic.Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// visitOrder computes the provider traversal for one request: the session
// owner first (when set and configured), then the remaining providers in
// configured order. A fresh slice is built per call so concurrent requests
// never share traversal state.
func (r *registry) visitOrder(owner string) []string {
	if owner == "" {
		return r.order
	}

	if _, ok := r.byName[owner]; !ok {
		return r.order
	}

	visit := make([]string, 0, len(r.order))
	visit = append(visit, owner)
	for _, name := range r.order {
		if name != owner {
			visit = append(visit, name)
		}
	}

	return visit
}
