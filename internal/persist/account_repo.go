package persist

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/mudd/mudcore/internal/perm"
)

// AccountRow is a login account: the collaborator-boundary identity behind
// one or more universe player objects (its id is the actorID the Game API
// and permission checks key on). spec.md marks full credential management
// out of scope; this repo satisfies the /auth/* wire contract
// (register/login/validate) without building a production auth system.
type AccountRow struct {
	ID           string
	Username     string
	PasswordHash string
	Token        *string
	AccessLevel  perm.AccessLevel
	Banned       bool
	CreatedAt    time.Time
}

type AccountRepo struct {
	db *DB
}

func NewAccountRepo(db *DB) *AccountRepo {
	return &AccountRepo{db: db}
}

func scanAccount(row pgx.Row) (*AccountRow, error) {
	a := &AccountRow{}
	var accessLevel string
	err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.Token, &accessLevel, &a.Banned, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	level, ok := perm.ParseAccessLevel(accessLevel)
	if !ok {
		level = perm.Player
	}
	a.AccessLevel = level
	return a, nil
}

// Load looks up an account by username, the identifier /auth/login and
// /auth/register take from the caller.
func (r *AccountRepo) Load(ctx context.Context, username string) (*AccountRow, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT id, username, password_hash, token, access_level, banned, created_at
		 FROM accounts WHERE username = $1`, username,
	)
	return scanAccount(row)
}

// LoadByID looks up an account by its id, the form every other table's
// foreign key and the Game API's actorID use.
func (r *AccountRepo) LoadByID(ctx context.Context, id string) (*AccountRow, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT id, username, password_hash, token, access_level, banned, created_at
		 FROM accounts WHERE id = $1`, id,
	)
	return scanAccount(row)
}

func (r *AccountRepo) Create(ctx context.Context, username, rawPassword string) (*AccountRow, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(rawPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	row := &AccountRow{
		ID: uuid.NewString(), Username: username, PasswordHash: string(hash),
		AccessLevel: perm.Player, CreatedAt: time.Now(),
	}
	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO accounts (id, username, password_hash, access_level, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		row.ID, row.Username, row.PasswordHash, row.AccessLevel.String(), row.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *AccountRepo) ValidatePassword(hash string, rawPassword string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(rawPassword)) == nil
}

// SetToken stores the bearer token /auth/login issues so /auth/validate
// can look an account up by it directly.
func (r *AccountRepo) SetToken(ctx context.Context, id, token string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE accounts SET token = $2 WHERE id = $1`, id, token)
	return err
}

func (r *AccountRepo) LoadByToken(ctx context.Context, token string) (*AccountRow, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT id, username, password_hash, token, access_level, banned, created_at
		 FROM accounts WHERE token = $1`, token,
	)
	return scanAccount(row)
}
