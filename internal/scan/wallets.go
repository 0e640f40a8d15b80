package scan

import (
	"context"
	"fmt"
	"sync"

	"github.com/Klingon-tech/shieldscan/internal/storage"
	"github.com/Klingon-tech/shieldscan/internal/syncer"
	"github.com/Klingon-tech/shieldscan/internal/wallet"
	"github.com/Klingon-tech/shieldscan/pkg/keys"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// Wallets keeps persisted wallet state for any number of viewing keys in
// one database, each under its own fingerprint namespace. Syncs of the same
// key are serialized; different keys sync concurrently.
type Wallets struct {
	db  storage.DB
	svc *Service

	mu    sync.Mutex
	locks map[types.Hash]*sync.Mutex
}

// NewWallets creates a registry over db that syncs through svc.
func NewWallets(db storage.DB, svc *Service) *Wallets {
	return &Wallets{db: db, svc: svc, locks: make(map[types.Hash]*sync.Mutex)}
}

// Store returns the persisted store of vk.
func (w *Wallets) Store(vk *keys.ViewingKey) *wallet.Store {
	return wallet.ForKey(w.db, vk.Fingerprint())
}

func (w *Wallets) lock(fp types.Hash) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.locks[fp]
	if !ok {
		l = &sync.Mutex{}
		w.locks[fp] = l
	}
	return l
}

// Sync moves vk's store to end. A zero start means the wallet birthday.
// The first sync of a key records start as its birthday; a later start
// below it lowers the birthday and the store is rescanned from there.
func (w *Wallets) Sync(ctx context.Context, vk *keys.ViewingKey, server string, start, end uint64, obs syncer.Observer) (*syncer.Result, error) {
	l := w.lock(vk.Fingerprint())
	l.Lock()
	defer l.Unlock()

	store := w.Store(vk)
	birthday, ok, err := store.Birthday()
	if err != nil {
		return nil, err
	}
	if start == 0 && ok {
		start = birthday
	}
	if !ok || start < birthday {
		if err := store.SetBirthday(start); err != nil {
			return nil, err
		}
	}
	return w.svc.Sync(ctx, store, vk, server, start, end, obs)
}

// Status describes the persisted state of one key.
type Status struct {
	Fingerprint types.Hash    `json:"fingerprint"`
	Network     types.Network `json:"network"`
	Checkpoint  uint64        `json:"checkpoint"`
	Synced      bool          `json:"synced"`
	Birthday    uint64        `json:"birthday"`
	LowestBlock uint64        `json:"lowest_block"`
	Notes       int           `json:"notes"`
	Unspent     int           `json:"unspent"`
}

// Status reports vk's persisted progress.
func (w *Wallets) Status(vk *keys.ViewingKey) (*Status, error) {
	store := w.Store(vk)
	st := &Status{Fingerprint: vk.Fingerprint(), Network: vk.Network()}
	var err error
	if st.Checkpoint, st.Synced, err = store.Checkpoint(); err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	if st.Birthday, _, err = store.Birthday(); err != nil {
		return nil, fmt.Errorf("birthday: %w", err)
	}
	if st.LowestBlock, _, err = store.LowestBlock(); err != nil {
		return nil, fmt.Errorf("lowest block: %w", err)
	}
	notes, err := store.Notes()
	if err != nil {
		return nil, err
	}
	st.Notes = len(notes)
	for i := range notes {
		if !notes[i].Spent {
			st.Unspent++
		}
	}
	return st, nil
}

// Balance returns vk's balance at asOf, defaulting to the checkpoint when
// asOf is zero. confirmations overrides the service default when positive.
func (w *Wallets) Balance(vk *keys.ViewingKey, asOf, confirmations uint64) (wallet.Balance, uint64, error) {
	store := w.Store(vk)
	if asOf == 0 {
		cp, synced, err := store.Checkpoint()
		if err != nil {
			return wallet.Balance{}, 0, err
		}
		if !synced {
			return wallet.Balance{}, 0, nil
		}
		asOf = cp
	}
	if confirmations == 0 {
		confirmations = w.svc.Config().Confirmations
	}
	bal, err := store.Balance(asOf, confirmations)
	return bal, asOf, err
}

// History returns vk's transactions in [start, end]. A zero end means the
// checkpoint.
func (w *Wallets) History(vk *keys.ViewingKey, start, end uint64) ([]wallet.Transaction, error) {
	store := w.Store(vk)
	if end == 0 {
		cp, synced, err := store.Checkpoint()
		if err != nil {
			return nil, err
		}
		if !synced {
			return []wallet.Transaction{}, nil
		}
		end = cp
	}
	txs, err := store.Transactions(start, end)
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []wallet.Transaction{}
	}
	return txs, nil
}

// Forget deletes every record kept for vk.
func (w *Wallets) Forget(vk *keys.ViewingKey) error {
	l := w.lock(vk.Fingerprint())
	l.Lock()
	defer l.Unlock()
	return storage.NewPrefixDB(w.db, wallet.Namespace(vk.Fingerprint())).DeleteAll()
}
