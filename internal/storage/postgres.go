package storage

import (
	"context"
	"errors"
	"strings"

	"lifeline/internal/infra"
	"lifeline/internal/sqlinline"
)

const defaultNamespace = "default"

// PGStore keeps client state in a postgres table so several workstations of
// one operator can share a login.
type PGStore struct {
	sql       infra.SQLExecutor
	namespace string
}

// NewPGStore returns a store scoped to namespace.
func NewPGStore(sql infra.SQLExecutor, namespace string) *PGStore {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &PGStore{sql: sql, namespace: namespace}
}

// Migrate creates the backing table when missing.
func (s *PGStore) Migrate(ctx context.Context) error {
	_, err := s.sql.Exec(ctx, sqlinline.QCreateClientState)
	return err
}

func (s *PGStore) Get(ctx context.Context, key string) ([]byte, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("storage: key is required")
	}
	row := s.sql.QueryRow(ctx, sqlinline.QSelectClientState, s.namespace, key)
	var value []byte
	if err := row.Scan(&value); err != nil {
		if infra.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

func (s *PGStore) Set(ctx context.Context, key string, value []byte) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("storage: key is required")
	}
	_, err := s.sql.Exec(ctx, sqlinline.QUpsertClientState, s.namespace, key, value)
	return err
}

func (s *PGStore) Delete(ctx context.Context, key string) error {
	_, err := s.sql.Exec(ctx, sqlinline.QDeleteClientState, s.namespace, key)
	return err
}
