package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"normative/api/internal/budget"
	"normative/api/internal/norm"
	"normative/api/internal/persist"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, fmt.Errorf("begin create user: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, is_staff, is_superuser)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, user.Username, user.PasswordHash, user.IsStaff, user.IsSuperuser).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrUserExists
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	for _, codename := range user.Permissions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_permissions (user_id, codename)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, user.ID, codename); err != nil {
			return User{}, fmt.Errorf("grant permission %s: %w", codename, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return User{}, fmt.Errorf("commit create user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, is_staff, is_superuser, created_at
		FROM users
		WHERE username=$1
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.IsStaff, &user.IsSuperuser, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return s.withPermissions(ctx, user)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, is_staff, is_superuser, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.IsStaff, &user.IsSuperuser, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return s.withPermissions(ctx, user)
}

func (s *PostgresStore) withPermissions(ctx context.Context, user User) (User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT codename FROM user_permissions WHERE user_id=$1 ORDER BY codename`, user.ID)
	if err != nil {
		return User{}, fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()

	user.Permissions = make([]string, 0)
	for rows.Next() {
		var codename string
		if err := rows.Scan(&codename); err != nil {
			return User{}, fmt.Errorf("scan permission: %w", err)
		}
		user.Permissions = append(user.Permissions, codename)
	}
	if err := rows.Err(); err != nil {
		return User{}, fmt.Errorf("iterate permissions: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// LookupRefreshSession returns the id of the user owning a live refresh
// token.
func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id
		FROM refresh_sessions
		WHERE token_hash = $1
			AND revoked_at IS NULL
			AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

const documentColumns = `
	d.id, d.user_id, u.username, d.title, d.text, d.npa, d.status, d.law_type, d.dominant_justification,
	d.auth_points, d.care_points, d.loyal_points, d.fair_points, d.pur_points, d.non_points, d.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var item Document
	var status, lawType, dominant string
	var auth, care, loyal, fair, pur, non int
	if err := row.Scan(
		&item.ID, &item.UserID, &item.Username, &item.Title, &item.Text, &item.NPA,
		&status, &lawType, &dominant,
		&auth, &care, &loyal, &fair, &pur, &non,
		&item.CreatedAt,
	); err != nil {
		return Document{}, err
	}
	item.Status = norm.Status(status)
	item.LawType = norm.LawType(lawType)
	item.DominantJustification = norm.Justification(dominant)
	item.Points = budget.Points{
		norm.JustificationAuth:  auth,
		norm.JustificationCare:  care,
		norm.JustificationLoyal: loyal,
		norm.JustificationFair:  fair,
		norm.JustificationPur:   pur,
		norm.JustificationNon:   non,
	}
	return item, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	return s.queryDocuments(ctx, `SELECT `+documentColumns+`
		FROM documents d
		JOIN users u ON u.id = d.user_id
		ORDER BY d.created_at DESC, d.id DESC`)
}

func (s *PostgresStore) queryDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID int64) (Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, `SELECT `+documentColumns+`
		FROM documents d
		JOIN users u ON u.id = d.user_id
		WHERE d.id=$1`, documentID))
}

// InsertDocument stores a new document with normalised text and an empty
// classification unless the caller supplied one.
func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) (Document, error) {
	item.Text = NormalizeText(item.Text)
	if item.NPA == "" {
		item.NPA = DefaultNPA
	}
	if item.Status == "" {
		item.Status = norm.StatusUnmarked
	}
	if item.LawType == "" {
		item.LawType = norm.LawTypeUnchecked
	}
	item.Points = item.Points.Clone()
	if item.Points.Total() > budget.Max {
		return Document{}, ErrBudgetExceeded
	}
	item.DominantJustification = item.Points.Dominant()

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (
			user_id, title, text, npa, status, law_type, dominant_justification,
			auth_points, care_points, loyal_points, fair_points, pur_points, non_points
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at
	`,
		item.UserID, item.Title, item.Text, item.NPA, string(item.Status), string(item.LawType), string(item.DominantJustification),
		item.Points[norm.JustificationAuth], item.Points[norm.JustificationCare], item.Points[norm.JustificationLoyal],
		item.Points[norm.JustificationFair], item.Points[norm.JustificationPur], item.Points[norm.JustificationNon],
	).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return item, nil
}

// CreateDocument satisfies persist.DocumentStore for in-process callers.
func (s *PostgresStore) CreateDocument(ctx context.Context, doc persist.NewDocument) (persist.CreatedDocument, error) {
	created, err := s.InsertDocument(ctx, Document{
		UserID: doc.UserID,
		Title:  doc.Title,
		Text:   doc.Text,
		NPA:    doc.NPA,
	})
	if err != nil {
		return persist.CreatedDocument{}, err
	}
	return persist.CreatedDocument{ID: created.ID, Text: created.Text}, nil
}

// UpdateDocument rewrites title, text and NPA. A changed text invalidates
// every offset, so the document's annotations are removed in the same
// transaction.
func (s *PostgresStore) UpdateDocument(ctx context.Context, documentID int64, title, text, npa string) (Document, error) {
	text = NormalizeText(text)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin update document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var previous string
	if err := tx.QueryRowContext(ctx, `SELECT text FROM documents WHERE id=$1 FOR UPDATE`, documentID).Scan(&previous); err != nil {
		return Document{}, err
	}
	if previous != text {
		if _, err := tx.ExecContext(ctx, `DELETE FROM annotations WHERE document_id=$1`, documentID); err != nil {
			return Document{}, fmt.Errorf("delete stale annotations: %w", err)
		}
	}
	if npa == "" {
		npa = DefaultNPA
	}
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET title=$2, text=$3, npa=$4 WHERE id=$1`, documentID, title, text, npa); err != nil {
		return Document{}, fmt.Errorf("update document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit update document: %w", err)
	}
	return s.GetDocument(ctx, documentID)
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return expectRow(result)
}

func (s *PostgresStore) GetClassifier(ctx context.Context, documentID int64) (Classifier, error) {
	doc, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return Classifier{}, err
	}
	return classifierOf(doc), nil
}

func classifierOf(doc Document) Classifier {
	return Classifier{
		DocumentID:            doc.ID,
		Points:                doc.Points.Clone(),
		DominantJustification: doc.DominantJustification,
		LawType:               doc.LawType,
		NPA:                   doc.NPA,
	}
}

// UpdateClassifier applies patch under a row lock so the budget check and the
// write see the same profile.
func (s *PostgresStore) UpdateClassifier(ctx context.Context, documentID int64, patch ClassifierPatch) (Classifier, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Classifier{}, fmt.Errorf("begin update classifier: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanDocument(tx.QueryRowContext(ctx, `SELECT `+documentColumns+`
		FROM documents d
		JOIN users u ON u.id = d.user_id
		WHERE d.id=$1
		FOR UPDATE OF d`, documentID))
	if err != nil {
		return Classifier{}, err
	}

	next, err := patch.Apply(classifierOf(current))
	if err != nil {
		return Classifier{}, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE documents SET
			auth_points=$2, care_points=$3, loyal_points=$4, fair_points=$5, pur_points=$6, non_points=$7,
			dominant_justification=$8, law_type=$9, npa=$10
		WHERE id=$1
	`, documentID,
		next.Points[norm.JustificationAuth], next.Points[norm.JustificationCare], next.Points[norm.JustificationLoyal],
		next.Points[norm.JustificationFair], next.Points[norm.JustificationPur], next.Points[norm.JustificationNon],
		string(next.DominantJustification), string(next.LawType), next.NPA)
	if err != nil {
		return Classifier{}, fmt.Errorf("update classifier: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Classifier{}, fmt.Errorf("commit update classifier: %w", err)
	}
	return next, nil
}

// PatchClassifier writes a single field; it satisfies persist.ClassifierStore.
func (s *PostgresStore) PatchClassifier(ctx context.Context, documentID int64, field string, value any) error {
	patch, err := ParseClassifierField(field, value)
	if err != nil {
		return err
	}
	_, err = s.UpdateClassifier(ctx, documentID, patch)
	return err
}

func (s *PostgresStore) PatchStatus(ctx context.Context, documentID int64, status norm.Status) error {
	result, err := s.db.ExecContext(ctx, `UPDATE documents SET status=$2 WHERE id=$1`, documentID, string(status))
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return expectRow(result)
}

const annotationColumns = `id::text, document_id, start_offset, end_offset, orig_text, comment, law_type, law_justification, json_data`

func scanAnnotation(row rowScanner) (persist.AnnotationRecord, error) {
	var record persist.AnnotationRecord
	var comment sql.NullString
	var lawType, lawJustification string
	var raw []byte
	if err := row.Scan(&record.ID, &record.DocumentID, &record.Start, &record.End, &record.OrigText, &comment, &lawType, &lawJustification, &raw); err != nil {
		return persist.AnnotationRecord{}, err
	}
	if comment.Valid {
		value := comment.String
		record.Comment = &value
	}
	record.LawType = norm.LawType(lawType)
	record.LawJustification = norm.Justification(lawJustification)
	record.Raw = json.RawMessage(raw)
	return record, nil
}

func (s *PostgresStore) ListAnnotations(ctx context.Context, documentID int64) ([]persist.AnnotationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+annotationColumns+`
		FROM annotations
		WHERE document_id=$1
		ORDER BY created_at ASC, id ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	items := make([]persist.AnnotationRecord, 0)
	for rows.Next() {
		record, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}
	return items, nil
}

// annotationKey parses a toolkit id into the primary key form.
func annotationKey(id string) (string, error) {
	key, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%q: %w", id, persist.ErrInvalidID)
	}
	return key.String(), nil
}

func (s *PostgresStore) GetAnnotation(ctx context.Context, id string) (persist.AnnotationRecord, error) {
	key, err := annotationKey(id)
	if err != nil {
		return persist.AnnotationRecord{}, err
	}
	return scanAnnotation(s.db.QueryRowContext(ctx, `SELECT `+annotationColumns+` FROM annotations WHERE id=$1::uuid`, key))
}

func (s *PostgresStore) CreateAnnotation(ctx context.Context, record persist.AnnotationRecord) error {
	key, err := annotationKey(record.ID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO annotations (id, document_id, start_offset, end_offset, orig_text, comment, law_type, law_justification, json_data)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9)
	`, key, record.DocumentID, record.Start, record.End, record.OrigText, nullString(record.Comment),
		string(record.LawType), string(record.LawJustification), []byte(record.Raw))
	if err != nil {
		return fmt.Errorf("insert annotation: %w", err)
	}
	return nil
}

// UpdateAnnotation replaces the span, classification and toolkit object of an
// annotation owned by record.DocumentID.
func (s *PostgresStore) UpdateAnnotation(ctx context.Context, record persist.AnnotationRecord) error {
	key, err := annotationKey(record.ID)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE annotations SET
			start_offset=$3, end_offset=$4, orig_text=$5, comment=$6,
			law_type=$7, law_justification=$8, json_data=$9
		WHERE id=$1::uuid AND document_id=$2
	`, key, record.DocumentID, record.Start, record.End, record.OrigText, nullString(record.Comment),
		string(record.LawType), string(record.LawJustification), []byte(record.Raw))
	if err != nil {
		return fmt.Errorf("update annotation: %w", err)
	}
	return ownedRow(result)
}

func (s *PostgresStore) DeleteAnnotation(ctx context.Context, documentID int64, id string) error {
	key, err := annotationKey(id)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM annotations WHERE id=$1::uuid AND document_id=$2`, key, documentID)
	if err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}
	return ownedRow(result)
}

func ownedRow(result sql.Result) error {
	if err := expectRow(result); errors.Is(err, sql.ErrNoRows) {
		return persist.ErrNotFound
	} else if err != nil {
		return err
	}
	return nil
}

// ExportDocuments returns every non-generated document with its annotations.
func (s *PostgresStore) ExportDocuments(ctx context.Context) ([]ExportedDocument, error) {
	documents, err := s.queryDocuments(ctx, `SELECT `+documentColumns+`
		FROM documents d
		JOIN users u ON u.id = d.user_id
		WHERE d.status <> $1
		ORDER BY d.id ASC`, string(norm.StatusGenerated))
	if err != nil {
		return nil, err
	}

	items := make([]ExportedDocument, 0, len(documents))
	for _, doc := range documents {
		annotations, err := s.ListAnnotations(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, ExportedDocument{Document: doc, Annotations: annotations})
	}
	return items, nil
}

func nullString(value *string) any {
	if value == nil {
		return nil
	}
	return strings.Clone(*value)
}

func expectRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
