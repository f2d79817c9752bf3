package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/config"
)

var ErrNotFound = errors.New("wallet not found")

// Account is an immutable signer loaded at startup.
type Account struct {
	ID      int64
	Name    string
	Address common.Address
	key     *ecdsa.PrivateKey
}

func (a *Account) Key() *ecdsa.PrivateKey { return a.key }

// Store is the keystore by id plus one mutex per wallet, so a trade holds its
// nonce from fetch to broadcast without racing other trades on the same wallet.
type Store struct {
	byID  map[int64]*Account
	locks map[int64]*sync.Mutex
}

func NewStore(records []config.WalletRecord) (*Store, error) {
	if len(records) == 0 {
		return nil, config.ErrNoWallets
	}
	s := &Store{
		byID:  make(map[int64]*Account, len(records)),
		locks: make(map[int64]*sync.Mutex, len(records)),
	}
	for _, r := range records {
		if _, dup := s.byID[r.ID]; dup {
			return nil, fmt.Errorf("wallet %d: duplicate id", r.ID)
		}
		key, err := crypto.HexToECDSA(strings.TrimPrefix(r.PrivateKey, "0x"))
		if err != nil {
			// never echo the key material
			return nil, fmt.Errorf("wallet %d: invalid private key", r.ID)
		}
		s.byID[r.ID] = &Account{
			ID:      r.ID,
			Name:    r.Name,
			Address: crypto.PubkeyToAddress(key.PublicKey),
			key:     key,
		}
		s.locks[r.ID] = &sync.Mutex{}
	}
	return s, nil
}

func (s *Store) Get(id int64) (*Account, error) {
	a, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return a, nil
}

// Lock serializes trades for one wallet. The returned func releases it.
func (s *Store) Lock(id int64) (func(), error) {
	mu, ok := s.locks[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	mu.Lock()
	return mu.Unlock, nil
}

// List returns accounts ordered by id.
func (s *Store) List() []*Account {
	out := make([]*Account, 0, len(s.byID))
	for _, a := range s.byID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
