// Package keystore implements C8: the pluggable backing store a server
// process uses to resolve the ServerKey owning a client-presented KID.
// FileStore reads the byte-exact .skey encoding directly (§4.1/§6.2);
// VaultStore fetches the same encoded bytes from a HashiCorp Vault KV
// mount, adapted from this repo's config package's VaultClient pattern.
package keystore

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/keys"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/profile"
)

// Store resolves a ServerKey by its KID. FileStore and VaultStore also
// satisfy kex.ServerKeyResolver through their ResolveServerKey methods.
type Store interface {
	Load(kid keys.KID) (*keys.ServerKey, error)
}

// FileStore loads .skey files named by their KID's hex encoding from a
// directory, matching the reference layout of one file per server key.
type FileStore struct {
	Dir    string
	Params profile.Params
}

// NewFileStore returns a FileStore rooted at dir.
func NewFileStore(dir string, p profile.Params) *FileStore {
	return &FileStore{Dir: dir, Params: p}
}

func (f *FileStore) Load(kid keys.KID) (*keys.ServerKey, error) {
	name := fmt.Sprintf("%x.skey", kid[:])
	buf, err := os.ReadFile(filepath.Join(f.Dir, name))
	if err != nil {
		return nil, fmt.Errorf("keystore: read %s: %w", name, err)
	}
	return keys.DecodeServer(buf, f.Params)
}

// ResolveServerKey adapts Load to kex.ServerKeyResolver's signature: the
// owning ServerKey is stored under the presented KID's Master+Server
// partition with a zero Device-ID partition.
func (f *FileStore) ResolveServerKey(kid keys.KID) (*keys.ServerKey, error) {
	var owner keys.KID
	copy(owner[0:8], kid[0:8])
	return f.Load(owner)
}

// VaultStore fetches the same byte-exact encoding from a Vault KV v2
// mount instead of the filesystem, for deployments that keep server keys
// out of the server's own disk.
type VaultStore struct {
	client     *vaultapi.Client
	mountPath  string
	secretPath string
	params     profile.Params
}

// NewVaultStore connects to addr with token and reads secrets from
// mountPath/secretPath/<kid-hex>.
func NewVaultStore(addr, token, mountPath, secretPath string, p profile.Params) (*VaultStore, error) {
	cfg := &vaultapi.Config{Address: addr}
	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("keystore: vault client: %w", err)
	}
	client.SetToken(token)
	if _, err := client.Sys().Health(); err != nil {
		return nil, fmt.Errorf("keystore: vault health check: %w", err)
	}
	return &VaultStore{
		client:     client,
		mountPath:  mountPath,
		secretPath: secretPath,
		params:     p,
	}, nil
}

func (v *VaultStore) Load(kid keys.KID) (*keys.ServerKey, error) {
	path := fmt.Sprintf("%s/data/%s/%x", v.mountPath, v.secretPath, kid[:])
	secret, err := v.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("keystore: vault read: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("keystore: no secret at %s", path)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("keystore: malformed vault secret at %s", path)
	}
	encoded, ok := data["skey"].(string)
	if !ok {
		return nil, fmt.Errorf("keystore: vault secret at %s missing skey field", path)
	}
	buf, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("keystore: decode vault secret: %w", err)
	}
	return keys.DecodeServer(buf, v.params)
}

// ResolveServerKey adapts Load to kex.ServerKeyResolver's signature, looking
// up the owning ServerKey by the presented KID's Master+Server partition.
func (v *VaultStore) ResolveServerKey(kid keys.KID) (*keys.ServerKey, error) {
	var owner keys.KID
	copy(owner[0:8], kid[0:8])
	return v.Load(owner)
}
