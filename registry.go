package snmp3

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps protocol names, as they appear in configuration, to
// authentication protocols and privacy strategies. Each privacy strategy owns
// its salt counter, so one Registry should serve every message of an engine.
type Registry struct {
	mu   sync.RWMutex
	auth map[string]AuthProtocol
	priv map[string]*Privacy
}

// NewRegistry returns a registry holding every protocol this package
// implements.
func NewRegistry() *Registry {
	r := &Registry{
		auth: map[string]AuthProtocol{},
		priv: map[string]*Privacy{},
	}
	for _, a := range []AuthProtocol{
		AuthProtocolMD5,
		AuthProtocolSHA1,
		AuthProtocolSHA224,
		AuthProtocolSHA256,
		AuthProtocolSHA384,
		AuthProtocolSHA512,
	} {
		r.auth[a.String()] = a
	}
	r.auth["sha"] = AuthProtocolSHA1

	r.RegisterPrivacy(NewPrivacy("des", 16, KeyExtensionNone, NewDESScheme()))
	r.RegisterPrivacy(NewPrivacy("3des", 32, KeyExtensionReeder, NewTripleDESScheme()))
	r.RegisterPrivacy(NewPrivacy("aes128", 16, KeyExtensionNone, NewAESScheme(16)))
	r.RegisterPrivacy(NewPrivacy("aes192", 24, KeyExtensionReeder, NewAESScheme(24)))
	r.RegisterPrivacy(NewPrivacy("aes256", 32, KeyExtensionReeder, NewAESScheme(32)))
	r.RegisterPrivacy(NewPrivacy("aes192blu", 24, KeyExtensionBlumenthal, NewAESScheme(24)))
	r.RegisterPrivacy(NewPrivacy("aes256blu", 32, KeyExtensionBlumenthal, NewAESScheme(32)))
	r.priv["aes"] = r.priv["aes128"]
	return r
}

func (r *Registry) RegisterPrivacy(p *Privacy) {
	r.mu.Lock()
	r.priv[strings.ToLower(p.Name())] = p
	r.mu.Unlock()
}

// AuthProtocol resolves name. The empty string and "none" resolve to
// AuthProtocolNone.
func (r *Registry) AuthProtocol(name string) (AuthProtocol, error) {
	name = protocolName(name)
	if name == "" || name == "none" {
		return AuthProtocolNone, nil
	}
	r.mu.RLock()
	a, ok := r.auth[name]
	r.mu.RUnlock()
	if !ok {
		return AuthProtocolNone, fmt.Errorf("%w: authentication protocol %q", ErrUnsupportedProtocol, name)
	}
	return a, nil
}

// protocolName is the registry key of a protocol name.
func protocolName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func isNoProtocol(name string) bool {
	name = protocolName(name)
	return name == "" || name == "none"
}

// Privacy resolves name. The empty string and "none" resolve to nil.
func (r *Registry) Privacy(name string) (*Privacy, error) {
	name = protocolName(name)
	if name == "" || name == "none" {
		return nil, nil
	}
	r.mu.RLock()
	p, ok := r.priv[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: privacy protocol %q", ErrUnsupportedProtocol, name)
	}
	return p, nil
}

// PrivacyNames lists the registered privacy protocol names, sorted.
func (r *Registry) PrivacyNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.priv))
	for n := range r.priv {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
