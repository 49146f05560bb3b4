package pipeline

import (
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clipforge/clipforge/errors"
)

// Project statuses (UI-facing lifecycle, distinct from pipeline_stage).
const (
	ProjectStatusQueued     = "queued"
	ProjectStatusProcessing = "processing"
	ProjectStatusReady      = "ready"
	ProjectStatusFailed     = "failed"
)

// Clip statuses.
const (
	ClipStatusProposed  = "proposed"
	ClipStatusRendering = "rendering"
	ClipStatusReady     = "ready"
	ClipStatusFailed    = "failed"
	ClipStatusPublished = "published"
)

// Variant post statuses.
const (
	VariantPostPending = "pending"
	VariantPostPosted  = "posted"
	VariantPostFailed  = "failed"
)

// Project is a user-visible unit of media work.
type Project struct {
	ID            string
	WorkspaceID   string
	Status        string
	PipelineStage Stage
	SourcePath    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Clip is a derived segment of a project.
type Clip struct {
	ID          string
	ProjectID   string
	WorkspaceID string
	StartS      float64
	EndS        float64
	Confidence  float64
	Title       string
	Status      string
	StoragePath string
	ThumbPath   string
	ExternalID  string
	PublishedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 { return c.EndS - c.StartS }

// VariantPost records one clip published to one account on one platform.
type VariantPost struct {
	ID                 string
	ClipID             string
	ConnectedAccountID string
	Platform           string
	VariantID          string
	Status             string
	PlatformPostID     string
	PostedAt           *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ConnectedAccount is an externally linked identity with token references.
type ConnectedAccount struct {
	ID              string
	WorkspaceID     string
	Platform        string
	ExternalID      string
	AccessTokenRef  string
	RefreshTokenRef string
	ExpiresAt       *time.Time
	Scopes          string
	Status          string
}

// Store provides transactional access to the pipeline's domain tables.
type Store struct {
	db *sql.DB
}

// NewStore creates a domain store over an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ---- projects ----

const projectColumns = `id, workspace_id, status, pipeline_stage, source_path, created_at, updated_at`

// CreateProject inserts a new project row.
func (s *Store) CreateProject(p *Project) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	if p.Status == "" {
		p.Status = ProjectStatusQueued
	}
	if p.PipelineStage == "" {
		p.PipelineStage = StageUploaded
	}
	_, err := s.db.Exec(`
		INSERT INTO projects (id, workspace_id, status, pipeline_stage, source_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.WorkspaceID, p.Status, p.PipelineStage, nullStr(p.SourcePath), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create project")
	}
	return nil
}

// GetProject fetches a project by id.
func (s *Store) GetProject(id string) (*Project, error) {
	row := s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	var (
		p          Project
		sourcePath sql.NullString
	)
	err := row.Scan(&p.ID, &p.WorkspaceID, &p.Status, &p.PipelineStage, &sourcePath, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFoundErr("project %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get project")
	}
	p.SourcePath = sourcePath.String
	return &p, nil
}

// UpdateProjectStatus sets the UI-facing status.
func (s *Store) UpdateProjectStatus(id, status string, now time.Time) error {
	_, err := s.db.Exec(`UPDATE projects SET status = ?, updated_at = ? WHERE id = ?`, status, now, id)
	if err != nil {
		return errors.Wrap(err, "failed to update project status")
	}
	return nil
}

// SetProjectSourcePath records where the ingested source lives.
func (s *Store) SetProjectSourcePath(id, sourcePath string, now time.Time) error {
	_, err := s.db.Exec(`UPDATE projects SET source_path = ?, updated_at = ? WHERE id = ?`, sourcePath, now, id)
	if err != nil {
		return errors.Wrap(err, "failed to set project source path")
	}
	return nil
}

// ConditionalAdvanceStage moves pipeline_stage forward to target, but only
// when the current stage is strictly below it. Returns true when this call
// performed the advance. Concurrent handlers racing on the same project
// converge monotonically through this guard.
func (s *Store) ConditionalAdvanceStage(projectID string, target Stage, now time.Time) (bool, error) {
	below := stagesBelow(target)
	if len(below) == 0 {
		return false, errors.Newf("stage %q has no predecessors to advance from", target)
	}
	placeholders := strings.Repeat("?,", len(below))
	query := fmt.Sprintf(`
		UPDATE projects SET pipeline_stage = ?, updated_at = ?
		WHERE id = ? AND pipeline_stage IN (%s)`, placeholders[:len(placeholders)-1])

	args := []interface{}{target, now, projectID}
	for _, st := range below {
		args = append(args, st)
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return false, errors.Wrap(err, "failed to advance pipeline stage")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return n > 0, nil
}

// ---- clips ----

const clipColumns = `id, project_id, workspace_id, start_s, end_s, confidence, title,
	status, storage_path, thumb_path, external_id, published_at, created_at, updated_at`

func scanClip(row interface{ Scan(...interface{}) error }) (*Clip, error) {
	var (
		c           Clip
		storagePath sql.NullString
		thumbPath   sql.NullString
		externalID  sql.NullString
		publishedAt sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.ProjectID, &c.WorkspaceID, &c.StartS, &c.EndS, &c.Confidence, &c.Title,
		&c.Status, &storagePath, &thumbPath, &externalID, &publishedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.StoragePath = storagePath.String
	c.ThumbPath = thumbPath.String
	c.ExternalID = externalID.String
	if publishedAt.Valid {
		t := publishedAt.Time
		c.PublishedAt = &t
	}
	return &c, nil
}

// GetClip fetches a clip by id.
func (s *Store) GetClip(id string) (*Clip, error) {
	clip, err := scanClip(s.db.QueryRow(`SELECT `+clipColumns+` FROM clips WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFoundErr("clip %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get clip")
	}
	return clip, nil
}

// ListClipsByProject returns all clips of a project ordered by start time.
func (s *Store) ListClipsByProject(projectID string) ([]*Clip, error) {
	rows, err := s.db.Query(`SELECT `+clipColumns+` FROM clips WHERE project_id = ? ORDER BY start_s ASC`, projectID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list clips")
	}
	defer rows.Close()

	var clips []*Clip
	for rows.Next() {
		clip, err := scanClip(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan clip")
		}
		clips = append(clips, clip)
	}
	return clips, rows.Err()
}

// dedupKey rounds an interval to 3-decimal precision; two clips with the
// same key are considered the same segment.
func dedupKey(startS, endS float64) string {
	return fmt.Sprintf("%.3f:%.3f", round3(startS), round3(endS))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// InsertClips inserts the accepted candidates atomically, skipping any whose
// (start_s, end_s) already exists at 3-decimal precision. Returns the clips
// actually inserted.
func (s *Store) InsertClips(projectID, workspaceID string, candidates []Candidate, now time.Time) ([]*Clip, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin clip insert")
	}
	defer tx.Rollback()

	existing := make(map[string]bool)
	rows, err := tx.Query(`SELECT start_s, end_s FROM clips WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load existing clips")
	}
	for rows.Next() {
		var startS, endS float64
		if err := rows.Scan(&startS, &endS); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan existing clip")
		}
		existing[dedupKey(startS, endS)] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "error iterating existing clips")
	}
	rows.Close()

	var inserted []*Clip
	for _, cand := range candidates {
		key := dedupKey(cand.StartS, cand.EndS)
		if existing[key] {
			continue
		}
		existing[key] = true

		clip := &Clip{
			ID:          uuid.NewString(),
			ProjectID:   projectID,
			WorkspaceID: workspaceID,
			StartS:      cand.StartS,
			EndS:        cand.EndS,
			Confidence:  cand.AvgConfidence,
			Title:       cand.Title,
			Status:      ClipStatusProposed,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		_, err := tx.Exec(`
			INSERT INTO clips (id, project_id, workspace_id, start_s, end_s, confidence, title, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			clip.ID, clip.ProjectID, clip.WorkspaceID, clip.StartS, clip.EndS,
			clip.Confidence, clip.Title, clip.Status, clip.CreatedAt, clip.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to insert clip")
		}
		inserted = append(inserted, clip)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit clip insert")
	}
	return inserted, nil
}

// SetClipStatus updates a clip's status.
func (s *Store) SetClipStatus(id, status string, now time.Time) error {
	_, err := s.db.Exec(`UPDATE clips SET status = ?, updated_at = ? WHERE id = ?`, status, now, id)
	if err != nil {
		return errors.Wrapf(err, "failed to set clip %s status", id)
	}
	return nil
}

// MarkClipReady records the rendered artifact paths and flips status to ready.
func (s *Store) MarkClipReady(id, storagePath, thumbPath string, now time.Time) error {
	_, err := s.db.Exec(`
		UPDATE clips SET status = ?, storage_path = ?, thumb_path = ?, updated_at = ?
		WHERE id = ?`,
		ClipStatusReady, storagePath, thumbPath, now, id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to mark clip ready")
	}
	return nil
}

// SetClipThumbPath records a thumbnail path without touching status.
func (s *Store) SetClipThumbPath(id, thumbPath string, now time.Time) error {
	_, err := s.db.Exec(`UPDATE clips SET thumb_path = ?, updated_at = ? WHERE id = ?`, thumbPath, now, id)
	if err != nil {
		return errors.Wrap(err, "failed to set clip thumb path")
	}
	return nil
}

// MarkClipPublished flips status to published. external_id and published_at
// are written once and never overwritten by later publishes to other
// platforms.
func (s *Store) MarkClipPublished(id, externalID string, postedAt, now time.Time) error {
	_, err := s.db.Exec(`
		UPDATE clips
		SET status = ?,
		    external_id = CASE WHEN external_id IS NULL OR external_id = '' THEN ? ELSE external_id END,
		    published_at = COALESCE(published_at, ?),
		    updated_at = ?
		WHERE id = ?`,
		ClipStatusPublished, externalID, postedAt, now, id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to mark clip published")
	}
	return nil
}

// AllClipsTerminal reports whether the project has at least one clip and all
// of them reached ready, failed, or published.
func (s *Store) AllClipsTerminal(projectID string) (bool, error) {
	var total, terminal int
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status IN (?, ?, ?) THEN 1 ELSE 0 END), 0)
		FROM clips WHERE project_id = ?`,
		ClipStatusReady, ClipStatusFailed, ClipStatusPublished, projectID,
	).Scan(&total, &terminal)
	if err != nil {
		return false, errors.Wrap(err, "failed to count clip statuses")
	}
	return total > 0 && total == terminal, nil
}

// ListFailedClipsBefore returns failed clips last touched before cutoff, for
// the retention sweep. Results are capped at limit.
func (s *Store) ListFailedClipsBefore(cutoff time.Time, limit int) ([]*Clip, error) {
	rows, err := s.db.Query(`
		SELECT `+clipColumns+` FROM clips
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC LIMIT ?`,
		ClipStatusFailed, cutoff, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list failed clips")
	}
	defer rows.Close()

	var clips []*Clip
	for rows.Next() {
		clip, err := scanClip(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan clip")
		}
		clips = append(clips, clip)
	}
	return clips, rows.Err()
}

// ClearClipArtifacts blanks storage_path and thumb_path after the retention
// sweep deleted the underlying objects, so later sweeps skip these clips.
func (s *Store) ClearClipArtifacts(ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	query := fmt.Sprintf(`
		UPDATE clips SET storage_path = NULL, thumb_path = NULL, updated_at = ?
		WHERE id IN (%s)`, placeholders[:len(placeholders)-1])
	args := []interface{}{now}
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return errors.Wrap(err, "failed to clear clip artifacts")
	}
	return nil
}

// ExistingClipIDs reports which of the given ids still exist; used by the
// orphan sweep to find render keys whose clip is gone.
func (s *Store) ExistingClipIDs(ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	query := fmt.Sprintf(`SELECT id FROM clips WHERE id IN (%s)`, placeholders[:len(placeholders)-1])
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check clip ids")
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan clip id")
		}
		out[id] = true
	}
	return out, rows.Err()
}

// ---- variant posts ----

const variantPostColumns = `id, clip_id, connected_account_id, platform, variant_id,
	status, platform_post_id, posted_at, created_at, updated_at`

func scanVariantPost(row interface{ Scan(...interface{}) error }) (*VariantPost, error) {
	var (
		v              VariantPost
		variantID      sql.NullString
		platformPostID sql.NullString
		postedAt       sql.NullTime
	)
	err := row.Scan(
		&v.ID, &v.ClipID, &v.ConnectedAccountID, &v.Platform, &variantID,
		&v.Status, &platformPostID, &postedAt, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.VariantID = variantID.String
	v.PlatformPostID = platformPostID.String
	if postedAt.Valid {
		t := postedAt.Time
		v.PostedAt = &t
	}
	return &v, nil
}

// GetVariantPost returns the variant post for (clip, account, platform), or
// nil when none exists.
func (s *Store) GetVariantPost(clipID, accountID, platform string) (*VariantPost, error) {
	row := s.db.QueryRow(`
		SELECT `+variantPostColumns+` FROM variant_posts
		WHERE clip_id = ? AND connected_account_id = ? AND platform = ?`,
		clipID, accountID, platform,
	)
	post, err := scanVariantPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get variant post")
	}
	return post, nil
}

// MarkVariantPosted upserts the (clip, account, platform) row to posted.
// The unique constraint guarantees at most one posted row per triple.
func (s *Store) MarkVariantPosted(clipID, accountID, platform, variantID, platformPostID string, postedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO variant_posts (id, clip_id, connected_account_id, platform, variant_id, status, platform_post_id, posted_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (clip_id, connected_account_id, platform) DO UPDATE SET
			status = excluded.status,
			variant_id = COALESCE(excluded.variant_id, variant_posts.variant_id),
			platform_post_id = excluded.platform_post_id,
			posted_at = excluded.posted_at,
			updated_at = excluded.updated_at`,
		uuid.NewString(), clipID, accountID, platform, nullStr(variantID),
		VariantPostPosted, platformPostID, postedAt, postedAt, postedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert variant post")
	}
	return nil
}

// PostedHistory returns posted timestamps for an account/platform since the
// cutoff, newest first. The posting guard derives cooldown and window counts
// from this history.
func (s *Store) PostedHistory(accountID, platform string, since time.Time) ([]time.Time, error) {
	rows, err := s.db.Query(`
		SELECT posted_at FROM variant_posts
		WHERE connected_account_id = ? AND platform = ? AND status = ? AND posted_at >= ?
		ORDER BY posted_at DESC`,
		accountID, platform, VariantPostPosted, since,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load posting history")
	}
	defer rows.Close()

	var history []time.Time
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, errors.Wrap(err, "failed to scan posted_at")
		}
		history = append(history, at)
	}
	return history, rows.Err()
}

// ---- connected accounts ----

// GetConnectedAccount fetches an account by id.
func (s *Store) GetConnectedAccount(id string) (*ConnectedAccount, error) {
	row := s.db.QueryRow(`
		SELECT id, workspace_id, platform, external_id, access_token_ref, refresh_token_ref, expires_at, scopes, status
		FROM connected_accounts WHERE id = ?`, id)
	var (
		a          ConnectedAccount
		refreshRef sql.NullString
		expiresAt  sql.NullTime
		scopes     sql.NullString
		status     sql.NullString
	)
	err := row.Scan(&a.ID, &a.WorkspaceID, &a.Platform, &a.ExternalID,
		&a.AccessTokenRef, &refreshRef, &expiresAt, &scopes, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFoundErr("connected account %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get connected account")
	}
	a.RefreshTokenRef = refreshRef.String
	a.Scopes = scopes.String
	a.Status = status.String
	if expiresAt.Valid {
		t := expiresAt.Time
		a.ExpiresAt = &t
	}
	return &a, nil
}

// CreateConnectedAccount inserts an account row.
func (s *Store) CreateConnectedAccount(a *ConnectedAccount) error {
	now := time.Now()
	_, err := s.db.Exec(`
		INSERT INTO connected_accounts (id, workspace_id, platform, external_id, access_token_ref, refresh_token_ref, expires_at, scopes, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.WorkspaceID, a.Platform, a.ExternalID, a.AccessTokenRef,
		nullStr(a.RefreshTokenRef), nullTimePtr(a.ExpiresAt), nullStr(a.Scopes), nullStr(a.Status), now, now,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create connected account")
	}
	return nil
}

// UpdateAccountTokens persists refreshed token references.
func (s *Store) UpdateAccountTokens(id, accessRef, refreshRef string, expiresAt time.Time, now time.Time) error {
	_, err := s.db.Exec(`
		UPDATE connected_accounts
		SET access_token_ref = ?, refresh_token_ref = ?, expires_at = ?, updated_at = ?
		WHERE id = ?`,
		accessRef, refreshRef, expiresAt, now, id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update account tokens")
	}
	return nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
