package policy

import (
	"os"

	"github.com/davidahmann/creditgate/internal/audit"
	"gopkg.in/yaml.v3"
)

type LoadedPolicy struct {
	Policy Policy
	Hash   string
	Bytes  []byte
}

// LoadPolicy overlays a YAML file on DefaultPolicy and hashes the raw bytes.
func LoadPolicy(path string) (LoadedPolicy, error) {
	// #nosec G304 -- path comes from operator-configured policy path.
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadedPolicy{}, err
	}

	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return LoadedPolicy{}, err
	}
	if err := p.Validate(); err != nil {
		return LoadedPolicy{}, err
	}

	return LoadedPolicy{
		Policy: p,
		Hash:   audit.Digest(data),
		Bytes:  data,
	}, nil
}

// Default returns the built-in policy, hashed over its YAML rendering so
// recommendations made without a policy file are still attributable.
func Default() LoadedPolicy {
	p := DefaultPolicy()
	data, err := yaml.Marshal(p)
	if err != nil {
		panic(err)
	}
	return LoadedPolicy{Policy: p, Hash: audit.Digest(data), Bytes: data}
}
