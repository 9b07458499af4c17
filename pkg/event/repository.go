package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klokku/taskmanager/internal/database"
	log "github.com/sirupsen/logrus"
)

var ErrEventNotFound = errors.New("event not found")

type Repository interface {
	WithTransaction(ctx context.Context, fn func(repo Repository) error) error
	Insert(ctx context.Context, event Event) (int64, error)
	Update(ctx context.Context, event Event) error
	Remove(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (Event, error)
	// GetAll returns every stored event in insertion order.
	GetAll(ctx context.Context) ([]Event, error)
	// RemoveSeriesInstances deletes the events of accountId that belong to a recurring series.
	RemoveSeriesInstances(ctx context.Context, accountId int64) (int64, error)
}

type RepositoryImpl struct {
	db *database.DB
	tx *sql.Tx
}

func NewRepository(db *database.DB) *RepositoryImpl {
	return &RepositoryImpl{db: db, tx: nil}
}

// getQueryer returns the appropriate database interface for queries (either tx or db)
func (r *RepositoryImpl) getQueryer() database.Queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

func (r *RepositoryImpl) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	if r.tx != nil {
		return fn(r)
	}
	return r.db.InTransaction(ctx, func(tx *sql.Tx) error {
		return fn(&RepositoryImpl{db: r.db, tx: tx})
	})
}

const selectEvent = `SELECT id, external_uid, etag, series_id, name, description, start_ms, end_ms, ongoing,
       account_id, raw, store_occurrences, occurrences
FROM events`

func (r *RepositoryImpl) Insert(ctx context.Context, event Event) (int64, error) {
	occurrences, err := marshalOccurrences(event.Occurrences)
	if err != nil {
		return 0, err
	}
	query := r.db.Rebind(`INSERT INTO events (
                    external_uid,
                    etag,
                    series_id,
                    name,
                    description,
                    start_ms,
                    end_ms,
                    ongoing,
                    account_id,
                    raw,
                    store_occurrences,
                    occurrences
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)

	var id int64
	err = r.WithTransaction(ctx, func(repo Repository) error {
		txRepo := repo.(*RepositoryImpl)
		return txRepo.tx.QueryRowContext(ctx, query,
			event.ExternalUID,
			event.ETag,
			event.SeriesID,
			event.Name,
			event.Description,
			event.Start.UnixMilli(),
			event.End.UnixMilli(),
			event.Ongoing,
			accountIdArg(event.AccountId),
			string(event.Raw),
			event.StoreOccurrences,
			occurrences,
		).Scan(&id)
	})
	if err != nil {
		err := fmt.Errorf("could not insert event %q: %w", event.Name, err)
		log.Error(err)
		return 0, err
	}
	return id, nil
}

func (r *RepositoryImpl) Update(ctx context.Context, event Event) error {
	occurrences, err := marshalOccurrences(event.Occurrences)
	if err != nil {
		return err
	}
	query := r.db.Rebind(`UPDATE events SET
                  external_uid = ?,
                  etag = ?,
                  series_id = ?,
                  name = ?,
                  description = ?,
                  start_ms = ?,
                  end_ms = ?,
                  ongoing = ?,
                  account_id = ?,
                  raw = ?,
                  store_occurrences = ?,
                  occurrences = ?
              WHERE id = ?`)
	result, err := r.getQueryer().ExecContext(ctx, query,
		event.ExternalUID,
		event.ETag,
		event.SeriesID,
		event.Name,
		event.Description,
		event.Start.UnixMilli(),
		event.End.UnixMilli(),
		event.Ongoing,
		accountIdArg(event.AccountId),
		string(event.Raw),
		event.StoreOccurrences,
		occurrences,
		event.Id,
	)
	if err != nil {
		err := fmt.Errorf("could not update event %d: %w", event.Id, err)
		log.Error(err)
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (r *RepositoryImpl) Remove(ctx context.Context, id int64) error {
	result, err := r.getQueryer().ExecContext(ctx, r.db.Rebind(`DELETE FROM events WHERE id = ?`), id)
	if err != nil {
		err := fmt.Errorf("could not delete event %d: %w", id, err)
		log.Error(err)
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (r *RepositoryImpl) Get(ctx context.Context, id int64) (Event, error) {
	row := r.getQueryer().QueryRowContext(ctx, r.db.Rebind(selectEvent+` WHERE id = ?`), id)
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, ErrEventNotFound
	}
	if err != nil {
		err := fmt.Errorf("could not query event %d: %w", id, err)
		log.Error(err)
		return Event{}, err
	}
	return event, nil
}

func (r *RepositoryImpl) GetAll(ctx context.Context) ([]Event, error) {
	rows, err := r.getQueryer().QueryContext(ctx, selectEvent+` ORDER BY id`)
	if err != nil {
		err := fmt.Errorf("could not query events: %w", err)
		log.Error(err)
		return nil, err
	}
	defer rows.Close()

	events := make([]Event, 0, 16)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			err := fmt.Errorf("could not scan row: %w", err)
			log.Error(err)
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows: %w", err)
	}
	return events, nil
}

func (r *RepositoryImpl) RemoveSeriesInstances(ctx context.Context, accountId int64) (int64, error) {
	query := r.db.Rebind(`DELETE FROM events WHERE account_id = ? AND series_id <> ''`)
	result, err := r.getQueryer().ExecContext(ctx, query, accountId)
	if err != nil {
		err := fmt.Errorf("could not delete recurring instances of account %d: %w", accountId, err)
		log.Error(err)
		return 0, err
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("could not read affected rows: %w", err)
	}
	return removed, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (Event, error) {
	var event Event
	var startMs, endMs int64
	var accountId sql.NullInt64
	var raw, occurrences string
	err := row.Scan(
		&event.Id,
		&event.ExternalUID,
		&event.ETag,
		&event.SeriesID,
		&event.Name,
		&event.Description,
		&startMs,
		&endMs,
		&event.Ongoing,
		&accountId,
		&raw,
		&event.StoreOccurrences,
		&occurrences,
	)
	if err != nil {
		return Event{}, err
	}
	event.Start = time.UnixMilli(startMs)
	event.End = time.UnixMilli(endMs)
	if accountId.Valid {
		event.AccountId = AccountRef(accountId.Int64)
	}
	if raw != "" {
		event.Raw = json.RawMessage(raw)
	}
	if occurrences != "" && occurrences != "[]" {
		if err := json.Unmarshal([]byte(occurrences), &event.Occurrences); err != nil {
			return Event{}, fmt.Errorf("could not decode occurrences of event %d: %w", event.Id, err)
		}
	}
	return event, nil
}

func marshalOccurrences(occurrences []Occurrence) (string, error) {
	if len(occurrences) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(occurrences)
	if err != nil {
		return "", fmt.Errorf("could not encode occurrences: %w", err)
	}
	return string(data), nil
}

func accountIdArg(accountId *int64) sql.NullInt64 {
	if accountId == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *accountId, Valid: true}
}
