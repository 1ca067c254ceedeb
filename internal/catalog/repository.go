package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dancesync/dancesync-agent/internal/compare"
)

type Repository interface {
	CreateVideo(ctx context.Context, video *Video) error
	GetVideo(ctx context.Context, id string) (*Video, error)
	ListVideos(ctx context.Context) ([]*Video, error)
	DeleteVideo(ctx context.Context, id string) error
	UpdateVideoStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateVideoProbe(ctx context.Context, video *Video) error
	SaveVideoAnalysis(ctx context.Context, video *Video) error
	CountVideos(ctx context.Context) (int, error)

	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	ListPendingJobs(ctx context.Context) ([]*Job, error)
	UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateJobProgress(ctx context.Context, id string, progress int) error

	CreateComparison(ctx context.Context, c *Comparison) error
	GetComparison(ctx context.Context, id string) (*Comparison, error)
	ListComparisons(ctx context.Context, limit int) ([]*Comparison, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const videoColumns = `id, filename, path, size, status, fps, duration, width, height,
	tempo, beat_count, pose_frames, pose_artifact, beats_artifact, error, created_at, updated_at`

func (r *SQLiteRepository) CreateVideo(ctx context.Context, v *Video) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO videos (`+videoColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.Filename, v.Path, v.Size, v.Status, v.FPS, v.Duration, v.Width, v.Height,
		v.Tempo, v.BeatCount, v.PoseFrames, nullString(v.PoseArtifact), nullString(v.BeatsArtifact),
		nullString(v.Error), formatTime(v.CreatedAt), formatTime(v.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetVideo(ctx context.Context, id string) (*Video, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id)
	v, err := scanVideo(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

func (r *SQLiteRepository) ListVideos(ctx context.Context) ([]*Video, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+videoColumns+` FROM videos ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []*Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVideo(row scanner) (*Video, error) {
	var v Video
	var poseArtifact, beatsArtifact, errMsg sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&v.ID, &v.Filename, &v.Path, &v.Size, &v.Status, &v.FPS, &v.Duration, &v.Width, &v.Height,
		&v.Tempo, &v.BeatCount, &v.PoseFrames, &poseArtifact, &beatsArtifact, &errMsg, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	v.PoseArtifact = poseArtifact.String
	v.BeatsArtifact = beatsArtifact.String
	v.Error = errMsg.String
	v.CreatedAt = parseTime(createdAt)
	v.UpdatedAt = parseTime(updatedAt)
	return &v, nil
}

func (r *SQLiteRepository) DeleteVideo(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM videos WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) UpdateVideoStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE videos SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(errorMsg), formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) UpdateVideoProbe(ctx context.Context, v *Video) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE videos SET fps = ?, duration = ?, width = ?, height = ?, updated_at = ? WHERE id = ?
	`, v.FPS, v.Duration, v.Width, v.Height, formatTime(time.Now()), v.ID)
	return err
}

// SaveVideoAnalysis stores analysis results and marks the video ready.
func (r *SQLiteRepository) SaveVideoAnalysis(ctx context.Context, v *Video) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE videos SET
			status = ?, fps = ?, tempo = ?, beat_count = ?, pose_frames = ?,
			pose_artifact = ?, beats_artifact = ?, error = NULL, updated_at = ?
		WHERE id = ?
	`, VideoStatusReady, v.FPS, v.Tempo, v.BeatCount, v.PoseFrames,
		nullString(v.PoseArtifact), nullString(v.BeatsArtifact), formatTime(time.Now()), v.ID)
	return err
}

func (r *SQLiteRepository) CountVideos(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM videos").Scan(&count)
	return count, err
}

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, video_id, progress, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Type, j.Status, nullString(j.VideoID),
		j.Progress, nullString(j.Error),
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, type, status, video_id, progress, error, created_at, updated_at
		FROM jobs WHERE id = ?
	`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func scanJob(row scanner) (*Job, error) {
	var j Job
	var videoID, errMsg sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(&j.ID, &j.Type, &j.Status, &videoID, &j.Progress, &errMsg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	j.VideoID = videoID.String
	j.Error = errMsg.String
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return &j, nil
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, status, video_id, progress, error, created_at, updated_at
		FROM jobs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (r *SQLiteRepository) ListPendingJobs(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, status, video_id, progress, error, created_at, updated_at
		FROM jobs WHERE status = 'pending' ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(errorMsg), formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ?
	`, progress, formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) CreateComparison(ctx context.Context, c *Comparison) error {
	results := c.Results
	if results == nil {
		results = []compare.BeatScore{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode comparison results: %w", err)
	}

	var offset sql.NullFloat64
	if c.TimeOffsetSeconds != nil {
		offset = sql.NullFloat64{Float64: *c.TimeOffsetSeconds, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO comparisons (id, reference_video_id, user_video_id, fps, average_similarity,
			num_beats, time_offset_seconds, results, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, nullString(c.ReferenceVideoID), nullString(c.UserVideoID), c.FPS, c.AverageSimilarity,
		c.NumBeatsAnalyzed, offset, string(data), formatTime(c.CreatedAt))
	return err
}

const comparisonColumns = `id, reference_video_id, user_video_id, fps, average_similarity,
	num_beats, time_offset_seconds, results, created_at`

func (r *SQLiteRepository) GetComparison(ctx context.Context, id string) (*Comparison, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+comparisonColumns+` FROM comparisons WHERE id = ?`, id)
	c, err := scanComparison(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *SQLiteRepository) ListComparisons(ctx context.Context, limit int) ([]*Comparison, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+comparisonColumns+` FROM comparisons ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Comparison
	for rows.Next() {
		c, err := scanComparison(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanComparison(row scanner) (*Comparison, error) {
	var c Comparison
	var refID, userID sql.NullString
	var offset sql.NullFloat64
	var results, createdAt string

	if err := row.Scan(&c.ID, &refID, &userID, &c.FPS, &c.AverageSimilarity,
		&c.NumBeatsAnalyzed, &offset, &results, &createdAt); err != nil {
		return nil, err
	}

	c.ReferenceVideoID = refID.String
	c.UserVideoID = userID.String
	if offset.Valid {
		v := offset.Float64
		c.TimeOffsetSeconds = &v
	}
	if err := json.Unmarshal([]byte(results), &c.Results); err != nil {
		return nil, fmt.Errorf("decode comparison results: %w", err)
	}
	if c.Results == nil {
		c.Results = []compare.BeatScore{}
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// timeLayout is fixed-width so that text ordering of created_at matches
// chronological order, including rows written within the same second.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
