package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/MarkoPoloResearchLab/stakeledger/pkg/wager"
)

const (
	accountsDirName    = "accounts"
	policyFileName     = "policy.json"
	aggregatesFileName = "aggregates.json"
	recordExtension    = ".json"
	stagingPattern     = ".staging-*"
	directoryMode      = 0o755
	fileMode           = 0o644

	errorOperationStore     = "store"
	errorSubjectAccount     = "account"
	errorSubjectPolicy      = "policy"
	errorSubjectAggregates  = "aggregates"
	errorSubjectTransaction = "transaction"
	errorCodeCommit         = "commit"
	errorCodeDecode         = "decode"
	errorCodeEncode         = "encode"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodePut            = "put"
)

// Store implements wager.Store on a directory of JSON records. Each record is
// replaced by writing a staging file and renaming it over the old one.
type Store struct {
	root     string
	renameFn func(oldPath string, newPath string) error
	journal  *journal
}

// New opens (creating if needed) a Store rooted at dir.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("filestore: empty directory")
	}
	if err := os.MkdirAll(filepath.Join(dir, accountsDirName), directoryMode); err != nil {
		return nil, fmt.Errorf("filestore: %w", err)
	}
	return &Store{root: dir, renameFn: os.Rename}, nil
}

// Root returns the directory holding the records.
func (store *Store) Root() string {
	return store.root
}

// WithTx stages writes made by fn and commits them in order once fn returns
// nil. If a later write fails, earlier ones are restored to their prior contents.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wager.Store) error) error {
	if store.journal != nil {
		return fn(ctx, store)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	transactionStore := &Store{root: store.root, renameFn: store.renameFn, journal: newJournal()}
	if err := fn(ctx, transactionStore); err != nil {
		return err
	}
	return store.commit(transactionStore.journal)
}

func (store *Store) GetAccount(_ context.Context, userID wager.UserID) (wager.Account, error) {
	var record accountRecord
	found, err := store.readRecord(store.accountPath(userID), &record)
	if err != nil {
		return wager.Account{}, wager.PersistenceError(errorSubjectAccount, errorCodeGet, err)
	}
	if !found {
		return wager.Account{}, wager.WrapError(errorOperationStore, errorSubjectAccount, errorCodeGet, fmt.Errorf("%w: %s", wager.ErrAccountNotFound, userID))
	}
	account, err := record.toAccount()
	if err != nil {
		return wager.Account{}, wager.PersistenceError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

func (store *Store) InsertAccount(_ context.Context, account wager.Account) error {
	path := store.accountPath(account.UserID)
	payload, err := json.MarshalIndent(newAccountRecord(account), "", "  ")
	if err != nil {
		return wager.PersistenceError(errorSubjectAccount, errorCodeEncode, err)
	}
	if store.journal != nil {
		_, found, err := store.read(path)
		if err != nil {
			return wager.PersistenceError(errorSubjectAccount, errorCodeInsert, err)
		}
		if found {
			return wager.WrapError(errorOperationStore, errorSubjectAccount, errorCodeInsert, wager.ErrAccountExists)
		}
		store.journal.stage(path, payload)
		return nil
	}
	err = createFileExclusive(path, payload)
	if errors.Is(err, os.ErrExist) {
		return wager.WrapError(errorOperationStore, errorSubjectAccount, errorCodeInsert, wager.ErrAccountExists)
	}
	if err != nil {
		return wager.PersistenceError(errorSubjectAccount, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) PutAccount(_ context.Context, account wager.Account) error {
	if err := store.writeRecord(store.accountPath(account.UserID), newAccountRecord(account)); err != nil {
		return wager.PersistenceError(errorSubjectAccount, errorCodePut, err)
	}
	return nil
}

func (store *Store) GetPolicy(context.Context) (wager.Policy, error) {
	var record policyRecord
	found, err := store.readRecord(filepath.Join(store.root, policyFileName), &record)
	if err != nil {
		return wager.Policy{}, wager.PersistenceError(errorSubjectPolicy, errorCodeGet, err)
	}
	if !found {
		return wager.Policy{}, wager.WrapError(errorOperationStore, errorSubjectPolicy, errorCodeGet, wager.ErrPolicyNotFound)
	}
	return record.toPolicy(), nil
}

func (store *Store) PutPolicy(_ context.Context, policy wager.Policy) error {
	if err := store.writeRecord(filepath.Join(store.root, policyFileName), newPolicyRecord(policy)); err != nil {
		return wager.PersistenceError(errorSubjectPolicy, errorCodePut, err)
	}
	return nil
}

func (store *Store) GetAggregates(context.Context) (wager.Aggregates, error) {
	var record aggregatesRecord
	if _, err := store.readRecord(filepath.Join(store.root, aggregatesFileName), &record); err != nil {
		return wager.Aggregates{}, wager.PersistenceError(errorSubjectAggregates, errorCodeGet, err)
	}
	return record.toAggregates(), nil
}

func (store *Store) PutAggregates(_ context.Context, aggregates wager.Aggregates) error {
	if err := store.writeRecord(filepath.Join(store.root, aggregatesFileName), newAggregatesRecord(aggregates)); err != nil {
		return wager.PersistenceError(errorSubjectAggregates, errorCodePut, err)
	}
	return nil
}

func (store *Store) accountPath(userID wager.UserID) string {
	return filepath.Join(store.root, accountsDirName, url.PathEscape(userID.String())+recordExtension)
}

func (store *Store) readRecord(path string, target any) (bool, error) {
	payload, found, err := store.read(path)
	if err != nil || !found {
		return found, err
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return true, fmt.Errorf("%s %s: %w", errorCodeDecode, filepath.Base(path), err)
	}
	return true, nil
}

func (store *Store) writeRecord(path string, record any) error {
	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	if store.journal != nil {
		store.journal.stage(path, payload)
		return nil
	}
	return store.writeFileAtomic(path, payload)
}

func (store *Store) read(path string) ([]byte, bool, error) {
	if store.journal != nil {
		if payload, ok := store.journal.lookup(path); ok {
			return payload, true, nil
		}
	}
	payload, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (store *Store) commit(journal *journal) error {
	priors := make([]priorRecord, 0, len(journal.writes))
	for _, write := range journal.writes {
		payload, found, err := store.read(write.path)
		if err != nil {
			return wager.PersistenceError(errorSubjectTransaction, errorCodeCommit, err)
		}
		priors = append(priors, priorRecord{path: write.path, payload: payload, existed: found})
	}
	for index, write := range journal.writes {
		if err := store.writeFileAtomic(write.path, write.payload); err != nil {
			rollbackErr := store.restore(priors[:index])
			return wager.PersistenceError(errorSubjectTransaction, errorCodeCommit, errors.Join(err, rollbackErr))
		}
	}
	return nil
}

func (store *Store) restore(priors []priorRecord) error {
	var restoreErrors []error
	for index := len(priors) - 1; index >= 0; index-- {
		prior := priors[index]
		if !prior.existed {
			if err := os.Remove(prior.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				restoreErrors = append(restoreErrors, fmt.Errorf("restore %s: %w", filepath.Base(prior.path), err))
			}
			continue
		}
		if err := store.writeFileAtomic(prior.path, prior.payload); err != nil {
			restoreErrors = append(restoreErrors, fmt.Errorf("restore %s: %w", filepath.Base(prior.path), err))
		}
	}
	return errors.Join(restoreErrors...)
}

func (store *Store) writeFileAtomic(path string, payload []byte) error {
	stagingPath, err := writeStagingFile(filepath.Dir(path), payload)
	if err != nil {
		return err
	}
	if err := store.renameFn(stagingPath, path); err != nil {
		_ = os.Remove(stagingPath)
		return err
	}
	syncDir(filepath.Dir(path))
	return nil
}

func createFileExclusive(path string, payload []byte) error {
	stagingPath, err := writeStagingFile(filepath.Dir(path), payload)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(stagingPath) }()
	if err := os.Link(stagingPath, path); err != nil {
		return err
	}
	syncDir(filepath.Dir(path))
	return nil
}

func writeStagingFile(dir string, payload []byte) (string, error) {
	staging, err := os.CreateTemp(dir, stagingPattern)
	if err != nil {
		return "", err
	}
	stagingPath := staging.Name()
	if _, err := staging.Write(payload); err != nil {
		_ = staging.Close()
		_ = os.Remove(stagingPath)
		return "", err
	}
	if err := staging.Sync(); err != nil {
		_ = staging.Close()
		_ = os.Remove(stagingPath)
		return "", err
	}
	if err := staging.Close(); err != nil {
		_ = os.Remove(stagingPath)
		return "", err
	}
	if err := os.Chmod(stagingPath, fileMode); err != nil {
		_ = os.Remove(stagingPath)
		return "", err
	}
	return stagingPath, nil
}

// syncDir flushes the directory entry after a rename; failures only weaken durability.
func syncDir(dir string) {
	handle, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = handle.Sync()
	_ = handle.Close()
}
