//go:build !windows

package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-krb5/krb5/client"
	"github.com/go-krb5/krb5/config"
	"github.com/go-krb5/krb5/credentials"
	"github.com/go-krb5/krb5/keytab"
	"github.com/go-krb5/krb5/spnego"
)

// KerberosProvider implements SecurityProvider for the Negotiate scheme
// using the pure Go krb5 library.
type KerberosProvider struct {
	cfg KerberosConfig

	once    sync.Once
	conf    *config.Config
	confErr error
}

// NewKerberosProvider creates a Kerberos provider. krb5.conf is loaded on
// first use.
func NewKerberosProvider(cfg KerberosConfig) *KerberosProvider {
	return &KerberosProvider{cfg: cfg}
}

func (p *KerberosProvider) loadConfig() (*config.Config, error) {
	p.once.Do(func() {
		path := p.cfg.Krb5ConfPath
		if path == "" {
			path = os.Getenv("KRB5_CONFIG")
			if path == "" {
				path = "/etc/krb5.conf"
			}
		}
		p.conf, p.confErr = config.Load(path)
		if p.confErr != nil {
			p.confErr = fmt.Errorf("load krb5.conf from %s: %w", path, p.confErr)
		}
	})
	return p.conf, p.confErr
}

// Acquire implements SecurityProvider.
func (p *KerberosProvider) Acquire(_ context.Context, scheme Scheme, creds *Credentials) (SecurityContext, error) {
	if scheme != SchemeNegotiate {
		return nil, fmt.Errorf("%w: kerberos provider cannot serve %s", ErrCredentialsUnavailable, scheme)
	}
	if creds == nil {
		return nil, fmt.Errorf("%w: no credentials", ErrCredentialsUnavailable)
	}
	conf, err := p.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialsUnavailable, err)
	}

	var cl *client.Client
	switch {
	case creds.IsCurrentUser():
		path := p.ccachePath()
		cc, err := credentials.LoadCCache(path)
		if err != nil {
			return nil, fmt.Errorf("%w: load ccache from %s: %v", ErrCredentialsUnavailable, path, err)
		}
		cl, err = client.NewFromCCache(cc, conf, client.DisablePAFXFAST(true))
		if err != nil {
			return nil, fmt.Errorf("%w: create client from ccache: %v", ErrCredentialsUnavailable, err)
		}
	default:
		user, realm := splitPrincipal(creds.Principal())
		if p.cfg.Realm != "" {
			realm = p.cfg.Realm
		}
		if realm == "" {
			realm = conf.LibDefaults.DefaultRealm
		}
		if p.cfg.KeytabPath != "" {
			kt, err := keytab.Load(p.cfg.KeytabPath)
			if err != nil {
				return nil, fmt.Errorf("%w: load keytab from %s: %v", ErrCredentialsUnavailable, p.cfg.KeytabPath, err)
			}
			cl = client.NewWithKeytab(user, realm, kt, conf, client.DisablePAFXFAST(true))
		} else {
			cl = client.NewWithPassword(user, realm, creds.secretString(), conf, client.DisablePAFXFAST(true))
		}
	}

	return &kerberosContext{client: cl}, nil
}

// ccachePath resolves the current user's credential cache.
func (p *KerberosProvider) ccachePath() string {
	if p.cfg.CCachePath != "" {
		return p.cfg.CCachePath
	}
	if env := os.Getenv("KRB5CCNAME"); env != "" {
		return strings.TrimPrefix(env, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

// kerberosContext produces a single SPNEGO NegTokenInit carrying an AP-REQ.
type kerberosContext struct {
	client *client.Client
	sent   bool
}

// Step implements SecurityContext.
func (c *kerberosContext) Step(_ context.Context, target string, input []byte) ([]byte, bool, error) {
	if c.sent {
		if len(input) > 0 {
			// Server tokens after our AP-REQ are mutual-auth replies; the
			// exchange is already complete from the client side.
			return nil, false, errors.New("kerberos: unexpected continuation token")
		}
		return nil, false, errors.New("kerberos: token already produced")
	}
	if target == "" {
		return nil, false, errors.New("kerberos: empty target SPN")
	}

	if err := c.client.Login(); err != nil {
		return nil, false, fmt.Errorf("kerberos login: %w", err)
	}

	tkn, err := spnego.SPNEGOClient(c.client, target).InitSecContext()
	if err != nil {
		return nil, false, fmt.Errorf("kerberos init sec context: %w", err)
	}
	token, err := tkn.Marshal()
	if err != nil {
		return nil, false, fmt.Errorf("marshal token: %w", err)
	}
	c.sent = true
	return token, false, nil
}

// Close implements SecurityContext.
func (c *kerberosContext) Close() error {
	c.client.Destroy()
	return nil
}
