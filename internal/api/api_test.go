package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwatch/vms/internal/auth"
	"github.com/gridwatch/vms/internal/data"
	"github.com/gridwatch/vms/internal/events"
	"github.com/gridwatch/vms/internal/middleware"
	"github.com/gridwatch/vms/internal/platform/paths"
	"github.com/gridwatch/vms/internal/ratelimit"
	"github.com/gridwatch/vms/internal/supervisor"
	"github.com/gridwatch/vms/internal/tokens"
	"github.com/gridwatch/vms/internal/users"
)

type fakeCameraService struct {
	mu      sync.Mutex
	cams    map[uuid.UUID]*data.Camera
	started []uuid.UUID
	stopped []uuid.UUID
	err     error
}

func newFakeCameraService() *fakeCameraService {
	return &fakeCameraService{cams: map[uuid.UUID]*data.Camera{}}
}

func (f *fakeCameraService) Create(_ context.Context, c *data.Camera, _ string) error {
	if f.err != nil {
		return f.err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Status = data.StatusOffline
	f.cams[c.ID] = c
	return nil
}

func (f *fakeCameraService) Get(_ context.Context, id uuid.UUID) (*data.Camera, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cams[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	return c, nil
}

func (f *fakeCameraService) List(_ context.Context) ([]*data.Camera, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*data.Camera, 0, len(f.cams))
	for _, c := range f.cams {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeCameraService) Update(_ context.Context, id uuid.UUID, next *data.Camera, _ *string) (*data.Camera, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cams[id]; !ok {
		return nil, data.ErrRecordNotFound
	}
	next.ID = id
	f.cams[id] = next
	return next, nil
}

func (f *fakeCameraService) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cams[id]; !ok {
		return data.ErrRecordNotFound
	}
	delete(f.cams, id)
	return nil
}

func (f *fakeCameraService) Start(_ context.Context, id uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cams[id]; !ok {
		return data.ErrRecordNotFound
	}
	f.started = append(f.started, id)
	return nil
}

func (f *fakeCameraService) Stop(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cams[id]; !ok {
		return data.ErrRecordNotFound
	}
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeCameraService) Snapshot(_ context.Context, id uuid.UUID) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "/data/snapshots/" + id.String() + "/snap.jpg", nil
}

func (f *fakeCameraService) StartRecording(_ context.Context, id uuid.UUID) (*data.Recording, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &data.Recording{ID: uuid.New(), CameraID: id, StartTime: time.Now()}, nil
}

func (f *fakeCameraService) StopRecording(_ context.Context, id uuid.UUID) (*data.Recording, error) {
	if f.err != nil {
		return nil, f.err
	}
	end := time.Now()
	return &data.Recording{ID: uuid.New(), CameraID: id, EndTime: &end}, nil
}

func (f *fakeCameraService) ScanPlate(_ context.Context, id uuid.UUID) (*data.ANPREvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &data.ANPREvent{ID: uuid.New(), CameraID: id, Plate: "AB12CDE"}, nil
}

type memUserStore struct {
	mu    sync.Mutex
	users map[string]*data.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: map[string]*data.User{}}
}

func (s *memUserStore) Create(_ context.Context, u *data.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Email]; ok {
		return data.ErrDuplicate
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = time.Now()
	s.users[u.Email] = u
	return nil
}

func (s *memUserStore) GetByEmail(_ context.Context, email string) (*data.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	return u, nil
}

type memRecordingStore struct {
	mu   sync.Mutex
	recs map[uuid.UUID]*data.Recording
}

func (s *memRecordingStore) GetByID(_ context.Context, id uuid.UUID) (*data.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	return r, nil
}

func (s *memRecordingStore) List(_ context.Context, f data.RecordingFilter) ([]*data.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*data.Recording
	for _, r := range s.recs {
		if f.CameraID != nil && r.CameraID != *f.CameraID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *memRecordingStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[id]; !ok {
		return data.ErrRecordNotFound
	}
	delete(s.recs, id)
	return nil
}

type memANPRStore struct {
	events []*data.ANPREvent
}

func (s *memANPRStore) GetByID(_ context.Context, id uuid.UUID) (*data.ANPREvent, error) {
	for _, e := range s.events {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, data.ErrRecordNotFound
}

func (s *memANPRStore) List(_ context.Context, f data.ANPRFilter) ([]*data.ANPREvent, error) {
	var out []*data.ANPREvent
	for _, e := range s.events {
		if f.Plate != "" && !strings.Contains(e.Plate, strings.ToUpper(f.Plate)) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type staticStats struct{}

func (staticStats) Snapshot(context.Context, time.Time) (*data.SystemStats, error) {
	return &data.SystemStats{TotalCameras: 3, OnlineCameras: 2}, nil
}

type testEnv struct {
	srv     *httptest.Server
	svc     *fakeCameraService
	recs    *memRecordingStore
	anpr    *memANPRStore
	bus     *events.Bus
	hub     *WSHub
	access  string
	mediaFS paths.Layout
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	tm := tokens.NewManager("test-signing-key")
	store := newMemUserStore()
	userSvc := users.NewService(store, tm)

	_, err := userSvc.Register(context.Background(), "op@example.com", "password123")
	require.NoError(t, err)
	_, pair, err := userSvc.Login(context.Background(), "op@example.com", "password123")
	require.NoError(t, err)

	svc := newFakeCameraService()
	recs := &memRecordingStore{recs: map[uuid.UUID]*data.Recording{}}
	anprStore := &memANPRStore{}
	layout := paths.NewLayout(t.TempDir())

	bus := events.NewBus()
	t.Cleanup(bus.Close)
	hub := NewWSHub(bus)
	hub.Start()
	t.Cleanup(hub.Stop)

	limiter := ratelimit.NewLimiter(rdb, "test-salt")

	router := NewRouter(RouterDeps{
		Auth:       NewAuthHandler(userSvc, auth.NopBlacklist{}),
		Cameras:    NewCameraHandler(svc),
		Recordings: NewRecordingHandler(recs),
		ANPR:       NewANPRHandler(anprStore),
		System:     NewSystemHandler(staticStats{}),
		Media:      NewMediaHandler(layout),
		Hub:        hub,
		JWT:        middleware.NewJWTAuth(tm, nil),
		LoginRate:  middleware.NewRateLimit(limiter, ratelimit.LimitConfig{Rate: 100, Window: time.Minute}),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{
		srv:     srv,
		svc:     svc,
		recs:    recs,
		anpr:    anprStore,
		bus:     bus,
		hub:     hub,
		access:  pair.AccessToken,
		mediaFS: layout,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+e.access)
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func validCameraBody() map[string]any {
	return map[string]any{
		"name":     "gate-1",
		"rtsp_url": "rtsp://10.0.0.5:554/stream",
		"username": "operator",
		"password": "hunter22",
	}
}

func TestRouter_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/api/v1/cameras")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouter_HealthzIsPublic(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCameraCRUD(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/cameras", validCameraBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[data.Camera](t, resp)
	require.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, "op******", created.Username)

	resp = env.do(t, http.MethodGet, "/api/v1/cameras/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[data.Camera](t, resp)
	assert.Equal(t, "gate-1", got.Name)

	resp = env.do(t, http.MethodGet, "/api/v1/cameras", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[[]data.Camera](t, resp)
	assert.Len(t, list, 1)

	resp = env.do(t, http.MethodDelete, "/api/v1/cameras/"+created.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/v1/cameras/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestCameraCreate_InvalidBody(t *testing.T) {
	env := newTestEnv(t)

	body := validCameraBody()
	body["rtsp_url"] = "http://not-rtsp"
	resp := env.do(t, http.MethodPost, "/api/v1/cameras", body)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCameraLifecycleRoutes(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/cameras", validCameraBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	cam := decodeBody[data.Camera](t, resp)

	resp = env.do(t, http.MethodPost, "/api/v1/cameras/"+cam.ID.String()+"/start", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/api/v1/cameras/"+cam.ID.String()+"/stop", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	assert.Equal(t, []uuid.UUID{cam.ID}, env.svc.started)
	assert.Equal(t, []uuid.UUID{cam.ID}, env.svc.stopped)
}

func TestCameraErrors_MapToStatus(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/cameras", validCameraBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	cam := decodeBody[data.Camera](t, resp)

	env.svc.err = supervisor.ErrUnavailable
	resp = env.do(t, http.MethodPost, "/api/v1/cameras/"+cam.ID.String()+"/snapshot", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()

	env.svc.err = supervisor.ErrAlreadyRecording
	resp = env.do(t, http.MethodPost, "/api/v1/cameras/"+cam.ID.String()+"/start-record", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestRecordingRoutes_StartStop(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/cameras", validCameraBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	cam := decodeBody[data.Camera](t, resp)

	resp = env.do(t, http.MethodPost, "/api/v1/cameras/"+cam.ID.String()+"/start-record", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	started := decodeBody[data.Recording](t, resp)
	assert.Equal(t, cam.ID, started.CameraID)
	assert.Nil(t, started.EndTime)

	resp = env.do(t, http.MethodPost, "/api/v1/cameras/"+cam.ID.String()+"/stop-record", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stopped := decodeBody[data.Recording](t, resp)
	assert.NotNil(t, stopped.EndTime)
}

func TestRecordings_ListAndDelete(t *testing.T) {
	env := newTestEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "recording.mp4")
	require.NoError(t, os.WriteFile(path, []byte("mp4"), 0o644))

	end := time.Now()
	rec := &data.Recording{
		ID:        uuid.New(),
		CameraID:  uuid.New(),
		StartTime: end.Add(-time.Minute),
		EndTime:   &end,
		Path:      path,
	}
	env.recs.recs[rec.ID] = rec

	resp := env.do(t, http.MethodGet, "/api/v1/recordings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[[]data.Recording](t, resp)
	require.Len(t, list, 1)

	resp = env.do(t, http.MethodGet, "/api/v1/recordings?camera_id="+uuid.NewString(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list = decodeBody[[]data.Recording](t, resp)
	assert.Empty(t, list)

	resp = env.do(t, http.MethodDelete, "/api/v1/recordings/"+rec.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRecordings_DeleteInProgressConflicts(t *testing.T) {
	env := newTestEnv(t)

	rec := &data.Recording{ID: uuid.New(), CameraID: uuid.New(), StartTime: time.Now()}
	env.recs.recs[rec.ID] = rec

	resp := env.do(t, http.MethodDelete, "/api/v1/recordings/"+rec.ID.String(), nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRecordings_Download(t *testing.T) {
	env := newTestEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "recording.mp4")
	require.NoError(t, os.WriteFile(path, []byte("video-bytes"), 0o644))

	end := time.Now()
	rec := &data.Recording{ID: uuid.New(), StartTime: end.Add(-time.Minute), EndTime: &end, Path: path}
	env.recs.recs[rec.ID] = rec

	resp := env.do(t, http.MethodGet, "/api/v1/recordings/"+rec.ID.String()+"/download", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), rec.ID.String())
}

func TestANPR_ListByPlate(t *testing.T) {
	env := newTestEnv(t)

	env.anpr.events = []*data.ANPREvent{
		{ID: uuid.New(), Plate: "AB12CDE"},
		{ID: uuid.New(), Plate: "XY99ZZZ"},
	}

	resp := env.do(t, http.MethodGet, "/api/v1/anpr/events?plate=ab12", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[[]data.ANPREvent](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "AB12CDE", list[0].Plate)
}

func TestSystemStats(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/v1/system/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeBody[data.SystemStats](t, resp)
	assert.Equal(t, 3, stats.TotalCameras)
	assert.Equal(t, 2, stats.OnlineCameras)
}

func TestAuthFlow_RegisterLoginRefresh(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.srv.URL+"/api/v1/auth/register", "application/json",
		strings.NewReader(`{"email":"new@example.com","password":"password123"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Post(env.srv.URL+"/api/v1/auth/login", "application/json",
		strings.NewReader(`{"email":"new@example.com","password":"password123"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	login := decodeBody[struct {
		Tokens users.TokenPair `json:"tokens"`
	}](t, resp)
	require.NotEmpty(t, login.Tokens.RefreshToken)

	body, err := json.Marshal(map[string]string{"refresh_token": login.Tokens.RefreshToken})
	require.NoError(t, err)
	resp, err = http.Post(env.srv.URL+"/api/v1/auth/refresh", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pair := decodeBody[users.TokenPair](t, resp)
	assert.NotEmpty(t, pair.AccessToken)
}

func TestAuthFlow_BadLogin(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.srv.URL+"/api/v1/auth/login", "application/json",
		strings.NewReader(`{"email":"op@example.com","password":"wrong-password"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestANPR_Process(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/cameras", validCameraBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	cam := decodeBody[data.Camera](t, resp)

	resp = env.do(t, http.MethodPost, "/api/v1/anpr/process", map[string]string{"camera_id": cam.ID.String()})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	event := decodeBody[data.ANPREvent](t, resp)
	assert.Equal(t, cam.ID, event.CameraID)
	assert.Equal(t, "AB12CDE", event.Plate)

	resp = env.do(t, http.MethodPost, "/api/v1/anpr/process", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestMedia_ServesPlaylistAndSegments(t *testing.T) {
	env := newTestEnv(t)

	camID := uuid.New()
	liveDir := env.mediaFS.LiveDir(camID.String())
	require.NoError(t, os.MkdirAll(liveDir, 0o750))
	require.NoError(t, os.WriteFile(env.mediaFS.PlaylistPath(camID.String()), []byte("#EXTM3U\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(liveDir, "segment_000.ts"), []byte("ts-bytes"), 0o644))

	resp := env.do(t, http.MethodGet, "/api/v1/cameras/"+camID.String()+"/hls-playlist.m3u8", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/vnd.apple.mpegurl", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Cache-Control"), "no-cache")
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/v1/cameras/"+camID.String()+"/hls/segment_000.ts", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp2t", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Cache-Control"), "max-age")
}

func TestMedia_RejectsTraversal(t *testing.T) {
	env := newTestEnv(t)

	camID := uuid.New()
	resp := env.do(t, http.MethodGet, "/api/v1/cameras/"+camID.String()+"/hls/..%2f..%2fsecret.ts", nil)
	defer resp.Body.Close()
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
}

func TestWS_ReceivesBusEvents(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws?token=" + env.access
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the hub time to register the client before publishing.
	time.Sleep(50 * time.Millisecond)

	env.bus.Publish(events.TopicCameraStatus, map[string]string{"status": "online"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, string(events.TopicCameraStatus), frame.Event)
	assert.Contains(t, string(frame.Data), "online")
}

func TestWS_RejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
