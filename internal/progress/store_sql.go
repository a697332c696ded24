package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-progress/internal/grading"
)

// SQLStore persists learner state through database/sql. Merges are single
// upsert statements, so concurrent writers are resolved by the database.
type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
	now    func() time.Time
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver, now: time.Now}
}

// greatest is the two-argument max function of the driver's dialect.
func (s *SQLStore) greatest() string {
	if s.driver == "postgres" {
		return "GREATEST"
	}
	return "MAX"
}

const componentCols = `learner_id,component_id,status,progress,score,score_seq,attempts,time_spent,started_at,completed_at,updated_at`

func (s *SQLStore) Component(ctx context.Context, learner, component string) (ComponentProgress, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+componentCols+` FROM component_progress WHERE learner_id=$1 AND component_id=$2`, learner, component)
	cp, err := scanComponent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return newComponentProgress(learner, component), nil
	}
	return cp, err
}

func (s *SQLStore) Components(ctx context.Context, learner string, ids []string) (map[string]ComponentProgress, error) {
	out := make(map[string]ComponentProgress, len(ids))
	for _, id := range ids {
		out[id] = newComponentProgress(learner, id)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+componentCols+` FROM component_progress WHERE learner_id=$1`, learner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		cp, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}
		if _, want := out[cp.ComponentID]; want {
			out[cp.ComponentID] = cp
		}
	}
	return out, rows.Err()
}

func (s *SQLStore) MergeComponent(ctx context.Context, learner, component string, p ComponentPatch) (ComponentProgress, error) {
	now := s.now()
	status := p.Status
	if status == "" || status == StatusLocked {
		status = StatusNotStarted
	}
	progress := clampPercent(p.ProgressPercentage)
	var completedAt sql.NullInt64
	if status == StatusCompleted {
		progress = 100
		completedAt = sql.NullInt64{Int64: now.Unix(), Valid: true}
	}
	var score sql.NullInt64
	seq := 0
	if p.Score != nil && p.ScoreSequence > 0 {
		score = sql.NullInt64{Int64: int64(*p.Score), Valid: true}
		seq = p.ScoreSequence
	}

	reopen := `WHEN EXCLUDED.status = 'IN_PROGRESS' AND component_progress.status = 'FAILED' THEN component_progress.status`
	if p.Reopen {
		reopen = ""
	}
	q := fmt.Sprintf(`INSERT INTO component_progress (learner_id,component_id,status,progress,score,score_seq,attempts,time_spent,started_at,completed_at,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,0,0,$7,$8,$9)
		ON CONFLICT (learner_id, component_id) DO UPDATE SET
			status = CASE
				WHEN component_progress.status = 'COMPLETED' THEN component_progress.status
				WHEN EXCLUDED.status = 'NOT_STARTED' THEN component_progress.status
				%[2]s
				ELSE EXCLUDED.status END,
			progress = %[1]s(component_progress.progress, EXCLUDED.progress),
			score = CASE WHEN EXCLUDED.score_seq > component_progress.score_seq THEN EXCLUDED.score ELSE component_progress.score END,
			score_seq = %[1]s(component_progress.score_seq, EXCLUDED.score_seq),
			started_at = COALESCE(component_progress.started_at, EXCLUDED.started_at),
			completed_at = COALESCE(component_progress.completed_at, EXCLUDED.completed_at),
			updated_at = EXCLUDED.updated_at`, s.greatest(), reopen)

	_, err := s.db.ExecContext(ctx, q,
		learner, component, string(status), progress, score, seq,
		nullUnix(p.StartedAt), completedAt, now.Unix())
	if err != nil {
		return ComponentProgress{}, fmt.Errorf("merge component progress: %w", err)
	}
	return s.Component(ctx, learner, component)
}

func (s *SQLStore) IncrementAttempts(ctx context.Context, learner, component string, max int) (int, error) {
	now := s.now().Unix()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO component_progress (learner_id,component_id,updated_at)
		VALUES ($1,$2,$3) ON CONFLICT (learner_id, component_id) DO NOTHING`, learner, component, now); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, `UPDATE component_progress SET attempts = attempts + 1, updated_at = $1
		WHERE learner_id=$2 AND component_id=$3 AND attempts < $4
		RETURNING attempts`, now, learner, component, max).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return max, ErrAttemptsExhausted
	}
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	return n, nil
}

func (s *SQLStore) AddTimeSpent(ctx context.Context, learner, component string, seconds int64) (ComponentProgress, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO component_progress (learner_id,component_id,time_spent,updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (learner_id, component_id) DO UPDATE SET
			time_spent = component_progress.time_spent + EXCLUDED.time_spent,
			updated_at = EXCLUDED.updated_at`,
		learner, component, seconds, s.now().Unix())
	if err != nil {
		return ComponentProgress{}, err
	}
	return s.Component(ctx, learner, component)
}

func (s *SQLStore) MergeMaterial(ctx context.Context, learner, component, material string, p MaterialPatch) (MaterialProgress, error) {
	q := fmt.Sprintf(`INSERT INTO material_progress (learner_id,component_id,material_id,view_progress,completed,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (learner_id, component_id, material_id) DO UPDATE SET
			view_progress = %[1]s(material_progress.view_progress, EXCLUDED.view_progress),
			completed = %[1]s(material_progress.completed, EXCLUDED.completed),
			updated_at = EXCLUDED.updated_at`, s.greatest())
	_, err := s.db.ExecContext(ctx, q,
		learner, component, material, clampPercent(p.ViewProgress), boolInt(p.Completed), s.now().Unix())
	if err != nil {
		return MaterialProgress{}, fmt.Errorf("merge material progress: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT learner_id,component_id,material_id,view_progress,completed,updated_at
		FROM material_progress WHERE learner_id=$1 AND component_id=$2 AND material_id=$3`, learner, component, material)
	return scanMaterial(row)
}

func (s *SQLStore) Materials(ctx context.Context, learner, component string) ([]MaterialProgress, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT learner_id,component_id,material_id,view_progress,completed,updated_at
		FROM material_progress WHERE learner_id=$1 AND component_id=$2 ORDER BY material_id`, learner, component)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MaterialProgress
	for rows.Next() {
		mp, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mp)
	}
	return out, rows.Err()
}

func (s *SQLStore) AppendAttempt(ctx context.Context, learner string, a grading.Attempt) error {
	buf, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO assessment_attempts (id,learner_id,component_id,seq,submitted_at,score_percent,passed,expired,attempt_json)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, learner, a.ComponentID, a.Sequence, a.SubmittedAt.Unix(), a.ScorePercent,
		boolInt(a.Passed), boolInt(a.Expired), string(buf))
	if err != nil {
		return fmt.Errorf("append attempt: %w", err)
	}
	return nil
}

func (s *SQLStore) ListAttempts(ctx context.Context, learner, component string) ([]grading.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT attempt_json FROM assessment_attempts
		WHERE learner_id=$1 AND component_id=$2 ORDER BY seq`, learner, component)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []grading.Attempt
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var a grading.Attempt
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("decode attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const sessionCols = `id,learner_id,module_id,component_id,status,answers_json,started_at,deadline,closed_at`

func (s *SQLStore) PutSession(ctx context.Context, sess AttemptSession) error {
	buf, err := json.Marshal(cloneAnswers(sess.Answers))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO attempt_sessions (`+sessionCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, answers_json=EXCLUDED.answers_json,
			deadline=EXCLUDED.deadline, closed_at=EXCLUDED.closed_at`,
		sess.ID, sess.LearnerID, sess.ModuleID, sess.ComponentID, string(sess.Status), string(buf),
		sess.StartedAt.Unix(), nullUnix(sess.Deadline), nullUnix(sess.ClosedAt))
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

func (s *SQLStore) Session(ctx context.Context, id string) (AttemptSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM attempt_sessions WHERE id=$1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AttemptSession{}, ErrNotFound
	}
	return sess, err
}

func (s *SQLStore) OpenSession(ctx context.Context, learner, component string) (AttemptSession, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM attempt_sessions
		WHERE learner_id=$1 AND component_id=$2 AND status='open'
		ORDER BY started_at DESC LIMIT 1`, learner, component)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AttemptSession{}, false, nil
	}
	if err != nil {
		return AttemptSession{}, false, err
	}
	return sess, true, nil
}

func (s *SQLStore) CloseSession(ctx context.Context, id string, status SessionStatus, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE attempt_sessions SET status=$1, closed_at=$2 WHERE id=$3 AND status='open'`,
		string(status), at.Unix(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.Session(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLStore) ReopenSession(ctx context.Context, id string, from SessionStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE attempt_sessions SET status='open', closed_at=NULL WHERE id=$1 AND status=$2`,
		id, string(from))
	return err
}

func (s *SQLStore) ExpiredSessions(ctx context.Context, now time.Time) ([]AttemptSession, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionCols+` FROM attempt_sessions
		WHERE status='open' AND deadline IS NOT NULL AND deadline < $1 ORDER BY deadline`, now.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AttemptSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// --- scanning ---

type scanner interface {
	Scan(dest ...any) error
}

func scanComponent(row scanner) (ComponentProgress, error) {
	var (
		cp                 ComponentProgress
		status             string
		score              sql.NullInt64
		started, completed sql.NullInt64
		updated            int64
	)
	if err := row.Scan(&cp.LearnerID, &cp.ComponentID, &status, &cp.ProgressPercentage, &score, &cp.ScoreSequence,
		&cp.Attempts, &cp.TimeSpentSeconds, &started, &completed, &updated); err != nil {
		return ComponentProgress{}, err
	}
	cp.Status = Status(strings.ToUpper(status))
	if score.Valid {
		v := int(score.Int64)
		cp.Score = &v
	}
	cp.StartedAt = fromNullUnix(started)
	cp.CompletedAt = fromNullUnix(completed)
	cp.UpdatedAt = time.Unix(updated, 0).UTC()
	return cp, nil
}

func scanMaterial(row scanner) (MaterialProgress, error) {
	var (
		mp        MaterialProgress
		completed int
		updated   int64
	)
	if err := row.Scan(&mp.LearnerID, &mp.ComponentID, &mp.MaterialID, &mp.ViewProgress, &completed, &updated); err != nil {
		return MaterialProgress{}, err
	}
	mp.Completed = completed != 0
	mp.UpdatedAt = time.Unix(updated, 0).UTC()
	return mp, nil
}

func scanSession(row scanner) (AttemptSession, error) {
	var (
		sess             AttemptSession
		status, answers  string
		started          int64
		deadline, closed sql.NullInt64
	)
	if err := row.Scan(&sess.ID, &sess.LearnerID, &sess.ModuleID, &sess.ComponentID, &status, &answers,
		&started, &deadline, &closed); err != nil {
		return AttemptSession{}, err
	}
	sess.Status = SessionStatus(status)
	if err := json.Unmarshal([]byte(answers), &sess.Answers); err != nil || sess.Answers == nil {
		sess.Answers = map[string]interface{}{}
	}
	sess.StartedAt = time.Unix(started, 0).UTC()
	sess.Deadline = fromNullUnix(deadline)
	sess.ClosedAt = fromNullUnix(closed)
	return sess, nil
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
