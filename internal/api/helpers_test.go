package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dancesync/dancesync-agent/internal/audio"
	"github.com/dancesync/dancesync-agent/internal/beats"
	"github.com/dancesync/dancesync-agent/internal/catalog"
	"github.com/dancesync/dancesync-agent/internal/db"
	"github.com/dancesync/dancesync-agent/internal/pipelines"
	"github.com/dancesync/dancesync-agent/internal/playback"
	"github.com/dancesync/dancesync-agent/internal/pose"
)

const testToken = "test-token-0123456789"

type testEnv struct {
	cfg     ServerConfig
	repo    catalog.Repository
	decoder *fakeDecoder
	router  http.Handler
	dir     string
}

func newTestEnv(t *testing.T, mutate func(*ServerConfig)) *testEnv {
	t.Helper()
	dir := t.TempDir()

	database, err := db.New(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := catalog.NewRepository(database.Conn())
	if err := repo.SetConfig(context.Background(), AuthTokenKey, testToken); err != nil {
		t.Fatalf("set token: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dec := &fakeDecoder{signals: map[string]audio.Signal{}}
	svc := catalog.NewService(repo, catalog.ServiceConfig{
		UploadsDir:   filepath.Join(dir, "uploads"),
		ArtifactsDir: filepath.Join(dir, "artifacts"),
		DefaultFPS:   30,
		Decoder:      dec,
	}, logger)

	cfg := ServerConfig{
		ExportsDir:     filepath.Join(dir, "exports"),
		CatalogService: svc,
		PlaybackServer: playback.NewServer(logger),
		Repository:     repo,
		Logger:         logger,
		StartTime:      time.Now(),
		DeviceID:       "test-device",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &testEnv{cfg: cfg, repo: repo, decoder: dec, router: NewRouter(cfg), dir: dir}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rr.Body.String())
	}
	return body
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status = %d, want %d (%s)", rr.Code, status, rr.Body.String())
	}
	if got := decodeJSONBody(t, rr)["code"]; got != code {
		t.Errorf("code = %v, want %s", got, code)
	}
}

func testPerson(x, y float64) pose.PersonPose {
	p := make(pose.PersonPose, pose.KeypointCount)
	for i := range p {
		p[i] = pose.Keypoint{X: x + float64(i), Y: y, Confidence: 0.9}
	}
	return p
}

func writeFile(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// readyVideo stores an analysed video with artifacts and a playable file.
func (e *testEnv) readyVideo(t *testing.T, frames map[int]pose.PersonPose, track beats.Track) *catalog.Video {
	t.Helper()
	ctx := context.Background()
	id := catalog.NewID()
	base := filepath.Join(e.dir, "artifacts", id)

	payload := pipelines.PoseOutputPayload{
		PipelineOutput: pipelines.PipelineOutput{SchemaVersion: "1", PipelineVersion: "0.1.0", ModelVersion: "test"},
		FPS:            30,
	}
	for f, p := range frames {
		payload.Frames = append(payload.Frames, pipelines.PoseFrame{Frame: f, Persons: []pose.PersonPose{p}})
	}
	writeFile(t, filepath.Join(base, "pose.json"), payload)
	writeFile(t, filepath.Join(base, "beats.json"), track)

	videoPath := filepath.Join(e.dir, "uploads", id[:8]+"_clip.mp4")
	if err := os.MkdirAll(filepath.Dir(videoPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(videoPath, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	v := &catalog.Video{ID: id, Filename: "clip.mp4", Path: videoPath, Size: 10, Status: catalog.VideoStatusPending, CreatedAt: now, UpdatedAt: now}
	if err := e.repo.CreateVideo(ctx, v); err != nil {
		t.Fatalf("create video: %v", err)
	}
	v.FPS = 30
	v.Tempo = track.Tempo
	v.BeatCount = len(track.BeatTimes)
	v.PoseFrames = len(frames)
	v.PoseArtifact = filepath.Join(base, "pose.json")
	v.BeatsArtifact = filepath.Join(base, "beats.json")
	if err := e.repo.SaveVideoAnalysis(ctx, v); err != nil {
		t.Fatalf("save analysis: %v", err)
	}
	return v
}

type fakeDecoder struct {
	signals map[string]audio.Signal
}

func (f *fakeDecoder) Decode(ctx context.Context, videoPath string) (audio.Signal, error) {
	sig, ok := f.signals[videoPath]
	if !ok {
		return audio.Signal{}, audio.ErrAudioDecode
	}
	return sig, nil
}

type fakeDoctorPipelineRunner struct {
	caps *pipelines.Capabilities
}

func (f *fakeDoctorPipelineRunner) RunDoctor(ctx context.Context) (*pipelines.Capabilities, error) {
	if f.caps == nil {
		return &pipelines.Capabilities{}, nil
	}
	return f.caps, nil
}

func (f *fakeDoctorPipelineRunner) RunPose(ctx context.Context, videoPath, outPath string) (pipelines.RunResult, error) {
	return pipelines.RunResult{}, nil
}

func (f *fakeDoctorPipelineRunner) RunBeats(ctx context.Context, samplesPath string, sampleRate int, outPath string) (pipelines.RunResult, error) {
	return pipelines.RunResult{}, nil
}

func (f *fakeDoctorPipelineRunner) ValidateOutput(path string) (*pipelines.PipelineOutput, error) {
	return &pipelines.PipelineOutput{SchemaVersion: "1.0", PipelineVersion: "0.1.0", ModelVersion: "test"}, nil
}

func (f *fakeDoctorPipelineRunner) ArtifactsDir() string {
	return "/tmp/test-artifacts"
}
