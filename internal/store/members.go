package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/coopledger/patronage/internal/domain"
)

// ErrNotFound is returned by lookups for missing rows.
var ErrNotFound = errors.New("not found")

// InsertMember creates a member and its capital accounts (one per
// basis) in a single database transaction.
func (s *Store) InsertMember(ctx context.Context, m domain.Member) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO members (id, name, role, status, dro, qio, joined_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, m.ID, m.Name, string(m.Role), string(m.Status), boolInt(m.DRO), boolInt(m.QIO), formatTime(m.JoinedAt))
		if err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
		for _, basis := range domain.Bases {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO accounts (id, kind, member_id, basis)
				VALUES (?, ?, ?, ?)
			`, domain.MemberAccountID(m.ID, basis), string(domain.AccountMember), m.ID, string(basis))
			if err != nil {
				return fmt.Errorf("insert account: %w", err)
			}
		}
		return nil
	})
}

// GetMember retrieves a member by ID. Returns ErrNotFound if absent.
func (s *Store) GetMember(ctx context.Context, id string) (domain.Member, error) {
	var m domain.Member
	var role, status, joined string
	var dro, qio int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, role, status, dro, qio, joined_at
		FROM members WHERE id = ?
	`, id).Scan(&m.ID, &m.Name, &role, &status, &dro, &qio, &joined)
	if err == sql.ErrNoRows {
		return domain.Member{}, fmt.Errorf("member %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Member{}, fmt.Errorf("get member: %w", err)
	}
	m.Role = domain.Role(role)
	m.Status = domain.MemberStatus(status)
	m.DRO = dro == 1
	m.QIO = qio == 1
	if m.JoinedAt, err = parseTime(joined); err != nil {
		return domain.Member{}, err
	}
	return m, nil
}

// ListMembers returns all members ordered by ID.
func (s *Store) ListMembers(ctx context.Context) ([]domain.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, role, status, dro, qio, joined_at
		FROM members ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := []domain.Member{}
	for rows.Next() {
		var m domain.Member
		var role, status, joined string
		var dro, qio int
		if err := rows.Scan(&m.ID, &m.Name, &role, &status, &dro, &qio, &joined); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.Role = domain.Role(role)
		m.Status = domain.MemberStatus(status)
		m.DRO = dro == 1
		m.QIO = qio == 1
		if m.JoinedAt, err = parseTime(joined); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// SetMemberStatus updates the only mutable member field.
func (s *Store) SetMemberStatus(ctx context.Context, id string, status domain.MemberStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE members SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("set member status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("member %s: %w", id, ErrNotFound)
	}
	return nil
}

// EnsureSystemAccount creates a member-less account per basis for a
// named system account (e.g. retained surplus). Idempotent.
func (s *Store) EnsureSystemAccount(ctx context.Context, name string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, basis := range domain.Bases {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO accounts (id, kind, member_id, basis)
				VALUES (?, ?, NULL, ?)
				ON CONFLICT(id) DO NOTHING
			`, domain.SystemAccountID(name, basis), string(domain.AccountSystem), string(basis))
			if err != nil {
				return fmt.Errorf("ensure system account: %w", err)
			}
		}
		return nil
	})
}

// GetAccount retrieves an account by ID. Returns ErrNotFound if absent.
func (s *Store) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	var a domain.Account
	var kind, basis string
	var memberID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, member_id, basis FROM accounts WHERE id = ?
	`, id).Scan(&a.ID, &kind, &memberID, &basis)
	if err == sql.ErrNoRows {
		return domain.Account{}, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("get account: %w", err)
	}
	a.Kind = domain.AccountKind(kind)
	a.Basis = domain.Basis(basis)
	if memberID.Valid {
		a.MemberID = memberID.String
	}
	return a, nil
}

// ListAccounts returns all accounts ordered by ID.
func (s *Store) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, member_id, basis FROM accounts ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []domain.Account{}
	for rows.Next() {
		var a domain.Account
		var kind, basis string
		var memberID sql.NullString
		if err := rows.Scan(&a.ID, &kind, &memberID, &basis); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.Kind = domain.AccountKind(kind)
		a.Basis = domain.Basis(basis)
		if memberID.Valid {
			a.MemberID = memberID.String
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
