package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertClipsDedupesAtThreeDecimals(t *testing.T) {
	env := newTestEnv(t)
	env.createProject(t, StageTranscribed, "")
	now := time.Now()

	first, err := env.store.InsertClips(testProjectID, testWorkspace, []Candidate{
		{StartS: 10.0001, EndS: 20.0004, Title: "a"},
	}, now)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Same interval at 3-decimal precision: skipped. A genuinely different
	// one is inserted.
	second, err := env.store.InsertClips(testProjectID, testWorkspace, []Candidate{
		{StartS: 10.0003, EndS: 20.0001, Title: "dup"},
		{StartS: 30, EndS: 40, Title: "new"},
	}, now)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "new", second[0].Title)

	clips, err := env.store.ListClipsByProject(testProjectID)
	require.NoError(t, err)
	assert.Len(t, clips, 2)
}

func TestAllClipsTerminal(t *testing.T) {
	env := newTestEnv(t)
	env.createProject(t, StageClipsGenerated, "")
	now := time.Now()

	// No clips at all is not terminal.
	terminal, err := env.store.AllClipsTerminal(testProjectID)
	require.NoError(t, err)
	assert.False(t, terminal)

	clips, err := env.store.InsertClips(testProjectID, testWorkspace, []Candidate{
		{StartS: 0, EndS: 10},
		{StartS: 20, EndS: 30},
	}, now)
	require.NoError(t, err)
	require.Len(t, clips, 2)

	require.NoError(t, env.store.MarkClipReady(clips[0].ID, "r/a.mp4", "t/a.jpg", now))
	terminal, err = env.store.AllClipsTerminal(testProjectID)
	require.NoError(t, err)
	assert.False(t, terminal, "one clip still proposed")

	require.NoError(t, env.store.SetClipStatus(clips[1].ID, ClipStatusFailed, now))
	terminal, err = env.store.AllClipsTerminal(testProjectID)
	require.NoError(t, err)
	assert.True(t, terminal, "ready + failed is a terminal mix")
}

func TestMarkClipPublishedWritesExternalIDOnce(t *testing.T) {
	env := newTestEnv(t)
	env.createProject(t, StageRendered, "")
	now := time.Now()

	clips, err := env.store.InsertClips(testProjectID, testWorkspace, []Candidate{{StartS: 0, EndS: 10}}, now)
	require.NoError(t, err)
	clipID := clips[0].ID

	require.NoError(t, env.store.MarkClipPublished(clipID, "post-1", now, now))
	require.NoError(t, env.store.MarkClipPublished(clipID, "post-2", now.Add(time.Hour), now.Add(time.Hour)))

	clip, err := env.store.GetClip(clipID)
	require.NoError(t, err)
	assert.Equal(t, ClipStatusPublished, clip.Status)
	assert.Equal(t, "post-1", clip.ExternalID, "external_id is write-once")
	require.NotNil(t, clip.PublishedAt)
	assert.WithinDuration(t, now, *clip.PublishedAt, time.Second)
}

func TestMarkVariantPostedIsUpsert(t *testing.T) {
	env := newTestEnv(t)
	env.createProject(t, StageRendered, "")
	env.createAccount(t, PlatformTikTok)
	now := time.Now()

	clips, err := env.store.InsertClips(testProjectID, testWorkspace, []Candidate{{StartS: 0, EndS: 10}}, now)
	require.NoError(t, err)
	clipID := clips[0].ID

	require.NoError(t, env.store.MarkVariantPosted(clipID, testAccountID, PlatformTikTok, "var-1", "post-1", now))
	require.NoError(t, env.store.MarkVariantPosted(clipID, testAccountID, PlatformTikTok, "", "post-2", now.Add(time.Minute)))

	post, err := env.store.GetVariantPost(clipID, testAccountID, PlatformTikTok)
	require.NoError(t, err)
	require.NotNil(t, post)
	assert.Equal(t, VariantPostPosted, post.Status)
	assert.Equal(t, "post-2", post.PlatformPostID)
	assert.Equal(t, "var-1", post.VariantID, "variant id survives the upsert")

	history, err := env.store.PostedHistory(testAccountID, PlatformTikTok, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, history, 1, "upsert must not create a second row")
}

func TestGetVariantPostMissingIsNil(t *testing.T) {
	env := newTestEnv(t)
	post, err := env.store.GetVariantPost("nope", "nope", PlatformTikTok)
	require.NoError(t, err)
	assert.Nil(t, post)
}

func TestClearClipArtifacts(t *testing.T) {
	env := newTestEnv(t)
	env.createProject(t, StageRendered, "")
	now := time.Now()

	clips, err := env.store.InsertClips(testProjectID, testWorkspace, []Candidate{{StartS: 0, EndS: 10}}, now)
	require.NoError(t, err)
	clipID := clips[0].ID
	require.NoError(t, env.store.MarkClipReady(clipID, "r/a.mp4", "t/a.jpg", now))

	require.NoError(t, env.store.ClearClipArtifacts([]string{clipID}, now))

	clip, err := env.store.GetClip(clipID)
	require.NoError(t, err)
	assert.Empty(t, clip.StoragePath)
	assert.Empty(t, clip.ThumbPath)
}

func TestExistingClipIDs(t *testing.T) {
	env := newTestEnv(t)
	env.createProject(t, StageRendered, "")
	clips, err := env.store.InsertClips(testProjectID, testWorkspace, []Candidate{{StartS: 0, EndS: 10}}, time.Now())
	require.NoError(t, err)

	got, err := env.store.ExistingClipIDs([]string{clips[0].ID, "ghost"})
	require.NoError(t, err)
	assert.True(t, got[clips[0].ID])
	assert.False(t, got["ghost"])
}
