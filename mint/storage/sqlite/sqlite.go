// Package sqlite is the SQLite-backed storage.MintDB implementation.
package sqlite

import (
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/coinshelf/mint/cashu"
	"github.com/coinshelf/mint/mint/storage"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations
var migrations embed.FS

type SQLiteDB struct {
	db *sql.DB
}

// migrationsDir copies the embedded migration files to a temporary
// directory on disk, since golang-migrate's file source needs a real
// filesystem path and the migrations are go:embed'd into the binary.
func migrationsDir() (string, error) {
	tempDir, err := os.MkdirTemp("", "mint-migrations")
	if err != nil {
		return "", err
	}

	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return "", err
	}

	for _, entry := range entries {
		src, err := migrations.Open(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return "", err
		}

		dst, err := os.Create(filepath.Join(tempDir, entry.Name()))
		if err != nil {
			src.Close()
			return "", err
		}

		_, err = io.Copy(dst, src)
		src.Close()
		dst.Close()
		if err != nil {
			return "", err
		}
	}

	return tempDir, nil
}

func InitSQLite(path string) (*SQLiteDB, error) {
	dbpath := filepath.Join(path, "mint.sqlite.db")
	db, err := sql.Open("sqlite3", dbpath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	tempMigrationsDir, err := migrationsDir()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tempMigrationsDir)

	m, err := migrate.New(fmt.Sprintf("file://%s", tempMigrationsDir), fmt.Sprintf("sqlite3://%s", dbpath))
	if err != nil {
		return nil, err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &SQLiteDB{db: db}, nil
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func (s *SQLiteDB) Begin() (*storage.Tx, error) {
	sqlTx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	return storage.NewTx(sqlTx), nil
}

func (s *SQLiteDB) SaveSeed(seed []byte) error {
	_, err := s.db.Exec("INSERT INTO seed (id, seed) VALUES (?, ?)", "id", hex.EncodeToString(seed))
	return err
}

func (s *SQLiteDB) GetSeed() ([]byte, error) {
	var hexSeed string
	row := s.db.QueryRow("SELECT seed FROM seed WHERE id = ?", "id")
	if err := row.Scan(&hexSeed); err != nil {
		return nil, err
	}
	return hex.DecodeString(hexSeed)
}

func (s *SQLiteDB) SaveKeyset(ks storage.DBKeyset) error {
	_, err := s.db.Exec(
		"INSERT INTO keysets (id, unit, active, derivation_path, bill_id) VALUES (?, ?, ?, ?, ?)",
		ks.Id, ks.Unit, ks.Active, ks.DerivationPath, ks.BillId,
	)
	return err
}

func (s *SQLiteDB) GetKeysets() ([]storage.DBKeyset, error) {
	rows, err := s.db.Query("SELECT id, unit, active, derivation_path, bill_id FROM keysets")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keysets := []storage.DBKeyset{}
	for rows.Next() {
		var ks storage.DBKeyset
		if err := rows.Scan(&ks.Id, &ks.Unit, &ks.Active, &ks.DerivationPath, &ks.BillId); err != nil {
			return nil, err
		}
		keysets = append(keysets, ks)
	}
	return keysets, rows.Err()
}

func (s *SQLiteDB) UpdateKeysetActive(id string, active bool) error {
	result, err := s.db.Exec("UPDATE keysets SET active = ? WHERE id = ?", active, id)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return errors.New("sqlite: keyset was not updated")
	}
	return nil
}

// CheckAndInsertSpent relies on spent_secrets.secret being a PRIMARY
// KEY: the first insert that violates it identifies the conflicting
// secret and the loop stops without touching the remaining rows,
// leaving the caller free to roll tx back.
func (s *SQLiteDB) CheckAndInsertSpent(tx *storage.Tx, spent []storage.SpentSecret) (string, error) {
	stmt, err := tx.Raw().Prepare("INSERT INTO spent_secrets (secret, amount, keyset_id) VALUES (?, ?, ?)")
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	for _, secret := range spent {
		if _, err := stmt.Exec(secret.Secret, secret.Amount, secret.KeysetId); err != nil {
			if isUniqueConstraintErr(err) {
				return secret.Secret, nil
			}
			return "", err
		}
	}
	return "", nil
}

func (s *SQLiteDB) CheckAndInsertIssued(tx *storage.Tx, issued []storage.IssuedOutput) (string, error) {
	stmt, err := tx.Raw().Prepare("INSERT INTO issued_outputs (b_, amount, keyset_id, c_) VALUES (?, ?, ?, ?)")
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	for _, out := range issued {
		if _, err := stmt.Exec(out.B_, out.Amount, out.KeysetId, out.C_); err != nil {
			if isUniqueConstraintErr(err) {
				return out.B_, nil
			}
			return "", err
		}
	}
	return "", nil
}

func isUniqueConstraintErr(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLiteDB) GetIssuedSignatures(bValues []string) (cashu.BlindedSignatures, error) {
	if len(bValues) == 0 {
		return cashu.BlindedSignatures{}, nil
	}

	query := "SELECT b_, amount, keyset_id, c_ FROM issued_outputs WHERE b_ IN (?" + strings.Repeat(",?", len(bValues)-1) + ")"
	args := make([]any, len(bValues))
	for i, b := range bValues {
		args[i] = b
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sigs := cashu.BlindedSignatures{}
	for rows.Next() {
		var b_, keysetId, c_ string
		var amount uint64
		if err := rows.Scan(&b_, &amount, &keysetId, &c_); err != nil {
			return nil, err
		}
		sigs = append(sigs, cashu.BlindedSignature{Amount: amount, C_: c_, KeysetId: keysetId})
	}
	return sigs, rows.Err()
}

func (s *SQLiteDB) SaveQuote(tx *storage.Tx, q storage.Quote) error {
	execer := s.execer(tx)

	if _, err := execer.Exec("INSERT INTO quote_kinds (id, kind) VALUES (?, ?)", q.Id, int(q.Kind)); err != nil {
		return err
	}

	switch p := q.Payload.(type) {
	case *storage.Bolt11MintPayload:
		_, err := execer.Exec(
			`INSERT INTO mint_bolt11_quotes (id, unit, amount, created_at, expiry, paid, issued, payment_request, payment_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			q.Id, q.Unit, q.Amount, q.CreatedAt, q.Expiry, q.Paid, q.Issued, p.PaymentRequest, p.PaymentHash,
		)
		return err
	case *storage.Bolt11MeltPayload:
		_, err := execer.Exec(
			`INSERT INTO melt_bolt11_quotes (id, unit, amount, created_at, expiry, paid, payment_request, payment_hash, fee_reserve, preimage)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			q.Id, q.Unit, q.Amount, q.CreatedAt, q.Expiry, q.Paid, p.PaymentRequest, p.PaymentHash, p.FeeReserve, p.Preimage,
		)
		return err
	case *storage.OnchainMintPayload:
		_, err := execer.Exec(
			`INSERT INTO mint_onchain_quotes (id, unit, amount, created_at, expiry, paid, issued, address)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			q.Id, q.Unit, q.Amount, q.CreatedAt, q.Expiry, q.Paid, q.Issued, p.Address,
		)
		return err
	case *storage.OnchainMeltPayload:
		_, err := execer.Exec(
			`INSERT INTO melt_onchain_quotes (id, unit, amount, created_at, expiry, paid, address, fee_reserve, tx_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			q.Id, q.Unit, q.Amount, q.CreatedAt, q.Expiry, q.Paid, p.Address, p.FeeReserve, p.TxId,
		)
		return err
	case *storage.BitcreditMintPayload:
		_, err := execer.Exec(
			`INSERT INTO mint_bitcredit_quotes (id, unit, amount, created_at, expiry, paid, issued, bill_id, node_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			q.Id, q.Unit, q.Amount, q.CreatedAt, q.Expiry, q.Paid, q.Issued, p.BillId, p.NodeId,
		)
		return err
	default:
		return fmt.Errorf("sqlite: unknown quote payload type %T", q.Payload)
	}
}

func (s *SQLiteDB) GetQuote(id string) (storage.Quote, error) {
	var kind int
	row := s.db.QueryRow("SELECT kind FROM quote_kinds WHERE id = ?", id)
	if err := row.Scan(&kind); err != nil {
		return storage.Quote{}, err
	}
	return s.getQuoteByKind(id, storage.QuoteKind(kind))
}

func (s *SQLiteDB) getQuoteByKind(id string, kind storage.QuoteKind) (storage.Quote, error) {
	switch kind {
	case storage.MintBolt11Quote:
		var q storage.Quote
		var p storage.Bolt11MintPayload
		row := s.db.QueryRow(
			"SELECT id, unit, amount, created_at, expiry, paid, issued, payment_request, payment_hash FROM mint_bolt11_quotes WHERE id = ?", id)
		if err := row.Scan(&q.Id, &q.Unit, &q.Amount, &q.CreatedAt, &q.Expiry, &q.Paid, &q.Issued, &p.PaymentRequest, &p.PaymentHash); err != nil {
			return storage.Quote{}, err
		}
		q.Kind = storage.MintBolt11Quote
		q.Payload = &p
		return q, nil
	case storage.MeltBolt11Quote:
		var q storage.Quote
		var p storage.Bolt11MeltPayload
		row := s.db.QueryRow(
			"SELECT id, unit, amount, created_at, expiry, paid, payment_request, payment_hash, fee_reserve, preimage FROM melt_bolt11_quotes WHERE id = ?", id)
		if err := row.Scan(&q.Id, &q.Unit, &q.Amount, &q.CreatedAt, &q.Expiry, &q.Paid, &p.PaymentRequest, &p.PaymentHash, &p.FeeReserve, &p.Preimage); err != nil {
			return storage.Quote{}, err
		}
		q.Kind = storage.MeltBolt11Quote
		q.Payload = &p
		return q, nil
	case storage.MintOnchainQuote:
		var q storage.Quote
		var p storage.OnchainMintPayload
		row := s.db.QueryRow(
			"SELECT id, unit, amount, created_at, expiry, paid, issued, address FROM mint_onchain_quotes WHERE id = ?", id)
		if err := row.Scan(&q.Id, &q.Unit, &q.Amount, &q.CreatedAt, &q.Expiry, &q.Paid, &q.Issued, &p.Address); err != nil {
			return storage.Quote{}, err
		}
		q.Kind = storage.MintOnchainQuote
		q.Payload = &p
		return q, nil
	case storage.MeltOnchainQuote:
		var q storage.Quote
		var p storage.OnchainMeltPayload
		row := s.db.QueryRow(
			"SELECT id, unit, amount, created_at, expiry, paid, address, fee_reserve, tx_id FROM melt_onchain_quotes WHERE id = ?", id)
		if err := row.Scan(&q.Id, &q.Unit, &q.Amount, &q.CreatedAt, &q.Expiry, &q.Paid, &p.Address, &p.FeeReserve, &p.TxId); err != nil {
			return storage.Quote{}, err
		}
		q.Kind = storage.MeltOnchainQuote
		q.Payload = &p
		return q, nil
	case storage.MintBitcreditQuote:
		var q storage.Quote
		var p storage.BitcreditMintPayload
		row := s.db.QueryRow(
			"SELECT id, unit, amount, created_at, expiry, paid, issued, bill_id, node_id FROM mint_bitcredit_quotes WHERE id = ?", id)
		if err := row.Scan(&q.Id, &q.Unit, &q.Amount, &q.CreatedAt, &q.Expiry, &q.Paid, &q.Issued, &p.BillId, &p.NodeId); err != nil {
			return storage.Quote{}, err
		}
		q.Kind = storage.MintBitcreditQuote
		q.Payload = &p
		return q, nil
	default:
		return storage.Quote{}, fmt.Errorf("sqlite: unknown quote kind %d", kind)
	}
}

func (s *SQLiteDB) GetBitcreditQuoteByBill(billId, nodeId string) (storage.Quote, error) {
	var q storage.Quote
	var p storage.BitcreditMintPayload
	row := s.db.QueryRow(
		"SELECT id, unit, amount, created_at, expiry, paid, issued, bill_id, node_id FROM mint_bitcredit_quotes WHERE bill_id = ? AND node_id = ?",
		billId, nodeId,
	)
	if err := row.Scan(&q.Id, &q.Unit, &q.Amount, &q.CreatedAt, &q.Expiry, &q.Paid, &q.Issued, &p.BillId, &p.NodeId); err != nil {
		return storage.Quote{}, err
	}
	q.Kind = storage.MintBitcreditQuote
	q.Payload = &p
	return q, nil
}

func (s *SQLiteDB) GetMintQuoteByPaymentHash(paymentHash string) (storage.Quote, error) {
	var q storage.Quote
	var p storage.Bolt11MintPayload
	row := s.db.QueryRow(
		"SELECT id, unit, amount, created_at, expiry, paid, issued, payment_request, payment_hash FROM mint_bolt11_quotes WHERE payment_hash = ?",
		paymentHash,
	)
	if err := row.Scan(&q.Id, &q.Unit, &q.Amount, &q.CreatedAt, &q.Expiry, &q.Paid, &q.Issued, &p.PaymentRequest, &p.PaymentHash); err != nil {
		return storage.Quote{}, err
	}
	q.Kind = storage.MintBolt11Quote
	q.Payload = &p
	return q, nil
}

func (s *SQLiteDB) UpdateQuoteStatus(tx *storage.Tx, id string, paid bool, issued bool) error {
	var kind int
	row := tx.Raw().QueryRow("SELECT kind FROM quote_kinds WHERE id = ?", id)
	if err := row.Scan(&kind); err != nil {
		return err
	}

	var table string
	hasIssued := true
	switch storage.QuoteKind(kind) {
	case storage.MintBolt11Quote:
		table = "mint_bolt11_quotes"
	case storage.MeltBolt11Quote:
		table, hasIssued = "melt_bolt11_quotes", false
	case storage.MintOnchainQuote:
		table = "mint_onchain_quotes"
	case storage.MeltOnchainQuote:
		table, hasIssued = "melt_onchain_quotes", false
	case storage.MintBitcreditQuote:
		table = "mint_bitcredit_quotes"
	default:
		return fmt.Errorf("sqlite: unknown quote kind %d", kind)
	}

	query := fmt.Sprintf("UPDATE %s SET paid = ?", table)
	args := []any{paid}
	if hasIssued {
		query += ", issued = ?"
		args = append(args, issued)
	}
	query += " WHERE id = ?"
	args = append(args, id)

	_, err := tx.Raw().Exec(query, args...)
	return err
}

func (s *SQLiteDB) SetMeltPreimage(tx *storage.Tx, id string, preimage string) error {
	result, err := tx.Raw().Exec("UPDATE melt_bolt11_quotes SET preimage = ? WHERE id = ?", preimage, id)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return errors.New("sqlite: melt quote preimage was not updated")
	}
	return nil
}

// execer abstracts over *sql.DB and a *storage.Tx's underlying *sql.Tx
// so SaveQuote can run either inside the caller's transaction or, if
// tx is nil, directly against the pool.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *SQLiteDB) execer(tx *storage.Tx) execer {
	if tx != nil {
		return tx.Raw()
	}
	return s.db
}
