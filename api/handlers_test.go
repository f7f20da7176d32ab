package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"flowboard/domain"
	"flowboard/realtime"
)

type fakeStorage struct {
	taskFn         func(ctx context.Context, id string) (*domain.Task, error)
	columnLengthFn func(ctx context.Context, boardID string, status domain.Status) (int, error)
	createTaskFn   func(ctx context.Context, t *domain.Task) error
	deleteTaskFn   func(ctx context.Context, id string) (*domain.Task, error)
	pingErr        error
}

func (f *fakeStorage) CreateBoard(context.Context, domain.Board) error {
	return errors.New("unexpected CreateBoard call")
}
func (f *fakeStorage) Board(context.Context, string) (*domain.Board, error) {
	return nil, errors.New("unexpected Board call")
}
func (f *fakeStorage) AddParticipant(context.Context, domain.Participant) error {
	return errors.New("unexpected AddParticipant call")
}
func (f *fakeStorage) ArchiveBoard(context.Context, string) error {
	return errors.New("unexpected ArchiveBoard call")
}
func (f *fakeStorage) CreateTask(ctx context.Context, t *domain.Task) error {
	if f.createTaskFn == nil {
		return errors.New("unexpected CreateTask call")
	}
	return f.createTaskFn(ctx, t)
}
func (f *fakeStorage) Task(ctx context.Context, id string) (*domain.Task, error) {
	if f.taskFn == nil {
		return nil, errors.New("unexpected Task call")
	}
	return f.taskFn(ctx, id)
}
func (f *fakeStorage) UpdateTaskContent(context.Context, string, *string, *string) (*domain.Task, error) {
	return nil, errors.New("unexpected UpdateTaskContent call")
}
func (f *fakeStorage) DeleteTask(ctx context.Context, id string) (*domain.Task, error) {
	if f.deleteTaskFn == nil {
		return nil, errors.New("unexpected DeleteTask call")
	}
	return f.deleteTaskFn(ctx, id)
}
func (f *fakeStorage) ColumnLength(ctx context.Context, boardID string, status domain.Status) (int, error) {
	if f.columnLengthFn == nil {
		return 0, errors.New("unexpected ColumnLength call")
	}
	return f.columnLengthFn(ctx, boardID, status)
}
func (f *fakeStorage) ListAudit(context.Context, string, int) ([]domain.AuditEntry, error) {
	return nil, errors.New("unexpected ListAudit call")
}
func (f *fakeStorage) Ping(context.Context) error { return f.pingErr }

type fakeAuth struct {
	userID string
	err    error
}

func (f *fakeAuth) UserIDFromAuthHeader(string) (string, error) { return f.userID, f.err }
func (f *fakeAuth) UserIDFromToken(string) (string, error)      { return f.userID, f.err }

type fakeGate struct{ err error }

func (f *fakeGate) Authorize(context.Context, string, string, domain.Action) error { return f.err }

type fakeMover struct {
	intents []domain.MoveIntent
	results []error
	task    domain.Task
}

func (f *fakeMover) Move(_ context.Context, intent domain.MoveIntent) (domain.Task, []string, error) {
	f.intents = append(f.intents, intent)
	if len(f.results) > 0 {
		err := f.results[0]
		f.results = f.results[1:]
		if err != nil {
			return domain.Task{}, nil, err
		}
	}
	t := f.task
	t.Status = intent.TargetStatus
	t.Position = intent.TargetPosition
	return t, []string{t.BoardID}, nil
}

type recordedAudit struct {
	boardID string
	action  domain.AuditAction
	details any
}

type fakeRecorder struct{ records []recordedAudit }

func (f *fakeRecorder) Record(_ context.Context, boardID, _ string, action domain.AuditAction, details any) {
	f.records = append(f.records, recordedAudit{boardID: boardID, action: action, details: details})
}

type publishedEvent struct {
	room string
	typ  domain.EventType
}

type fakeBroadcaster struct{ events []publishedEvent }

func (f *fakeBroadcaster) Publish(_ context.Context, room string, typ domain.EventType, _ any) {
	f.events = append(f.events, publishedEvent{room: room, typ: typ})
}

type fakeSnapshots struct{}

func (fakeSnapshots) Snapshot(context.Context, string) (domain.BoardSnapshot, error) {
	return domain.BoardSnapshot{}, errors.New("unexpected Snapshot call")
}

type handlerFixture struct {
	e        *echo.Echo
	store    *fakeStorage
	gate     *fakeGate
	mover    *fakeMover
	recorder *fakeRecorder
	events   *fakeBroadcaster
	hub      *realtime.Hub
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	f := &handlerFixture{
		e:        echo.New(),
		store:    &fakeStorage{},
		gate:     &fakeGate{},
		mover:    &fakeMover{},
		recorder: &fakeRecorder{},
		events:   &fakeBroadcaster{},
		hub:      realtime.NewHub(),
	}
	Register(f.e, Deps{
		Store:       f.store,
		Snapshots:   fakeSnapshots{},
		Auth:        &fakeAuth{userID: "user-1"},
		Gate:        f.gate,
		Engine:      f.mover,
		Recorder:    f.recorder,
		Events:      f.events,
		Hub:         f.hub,
		RelaySecret: "s3cret",
		Logger:      logger,
	})
	return f
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer token")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func todoTask() *domain.Task {
	return &domain.Task{ID: "t1", BoardID: "b1", Status: domain.StatusTodo, Position: 0, Title: "t1"}
}

func TestMoveTaskSuccess(t *testing.T) {
	f := newHandlerFixture(t)
	f.store.taskFn = func(_ context.Context, id string) (*domain.Task, error) { return todoTask(), nil }
	f.store.columnLengthFn = func(_ context.Context, _ string, _ domain.Status) (int, error) { return 2, nil }
	f.mover.task = *todoTask()

	rec := doJSON(f.e, http.MethodPost, "/api/tasks/t1/move", `{"status":"review","position":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if len(f.mover.intents) != 1 {
		t.Fatalf("expected 1 move, got %d", len(f.mover.intents))
	}
	intent := f.mover.intents[0]
	if intent.TargetStatus != domain.StatusReview || intent.TargetPosition != 1 || intent.SourcePosition != 0 {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if len(f.recorder.records) != 1 || f.recorder.records[0].action != domain.AuditTaskMoved {
		t.Fatalf("expected task.moved audit, got %+v", f.recorder.records)
	}
	if len(f.events.events) != 1 || f.events.events[0].typ != domain.EventTaskMoved {
		t.Fatalf("expected task-moved event, got %+v", f.events.events)
	}
	if f.events.events[0].room != domain.BoardRoom("b1") {
		t.Fatalf("unexpected room: %s", f.events.events[0].room)
	}
}

func TestMoveTaskClampsTargetPosition(t *testing.T) {
	f := newHandlerFixture(t)
	f.store.taskFn = func(context.Context, string) (*domain.Task, error) { return todoTask(), nil }
	f.store.columnLengthFn = func(_ context.Context, _ string, _ domain.Status) (int, error) { return 3, nil }
	f.mover.task = *todoTask()

	// Same column: clamp to length-1.
	rec := doJSON(f.e, http.MethodPost, "/api/tasks/t1/move", `{"status":"todo","position":99}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := f.mover.intents[0].TargetPosition; got != 2 {
		t.Fatalf("expected clamp to 2, got %d", got)
	}

	// Other column: appending at length is legal.
	rec = doJSON(f.e, http.MethodPost, "/api/tasks/t1/move", `{"status":"done","position":99}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := f.mover.intents[1].TargetPosition; got != 3 {
		t.Fatalf("expected clamp to 3, got %d", got)
	}

	// Negative positions clamp to zero.
	rec = doJSON(f.e, http.MethodPost, "/api/tasks/t1/move", `{"status":"done","position":-4}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := f.mover.intents[2].TargetPosition; got != 0 {
		t.Fatalf("expected clamp to 0, got %d", got)
	}
}

func TestMoveTaskRetriesOnceOnConflict(t *testing.T) {
	f := newHandlerFixture(t)
	f.store.taskFn = func(context.Context, string) (*domain.Task, error) { return todoTask(), nil }
	f.store.columnLengthFn = func(context.Context, string, domain.Status) (int, error) { return 2, nil }
	f.mover.task = *todoTask()
	f.mover.results = []error{domain.ErrConcurrentModification, nil}

	rec := doJSON(f.e, http.MethodPost, "/api/tasks/t1/move", `{"status":"review","position":0}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after retry, got %d: %s", rec.Code, rec.Body)
	}
	if len(f.mover.intents) != 2 {
		t.Fatalf("expected 2 move attempts, got %d", len(f.mover.intents))
	}
}

func TestMoveTaskRetryAuditsFreshSource(t *testing.T) {
	f := newHandlerFixture(t)
	fetches := 0
	f.store.taskFn = func(context.Context, string) (*domain.Task, error) {
		fetches++
		if fetches == 1 {
			return todoTask(), nil
		}
		// Another client moved the task between the first fetch and the engine's check.
		return &domain.Task{ID: "t1", BoardID: "b1", Status: domain.StatusInProgress, Position: 2, Title: "t1"}, nil
	}
	f.store.columnLengthFn = func(context.Context, string, domain.Status) (int, error) { return 3, nil }
	f.mover.task = *todoTask()
	f.mover.results = []error{domain.ErrConcurrentModification, nil}

	rec := doJSON(f.e, http.MethodPost, "/api/tasks/t1/move", `{"status":"review","position":0}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after retry, got %d: %s", rec.Code, rec.Body)
	}
	if len(f.recorder.records) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(f.recorder.records))
	}
	details, ok := f.recorder.records[0].details.(map[string]any)
	if !ok {
		t.Fatalf("unexpected audit details: %+v", f.recorder.records[0].details)
	}
	from, ok := details["from"].(map[string]any)
	if !ok {
		t.Fatalf("missing from detail: %+v", details)
	}
	// The committed attempt moved from the fresh state, not the stale first fetch.
	if from["status"] != domain.StatusInProgress || from["position"] != 2 {
		t.Fatalf("audit recorded stale source: %+v", from)
	}
}

func TestMoveTaskSecondConflictIsConflictResponse(t *testing.T) {
	f := newHandlerFixture(t)
	f.store.taskFn = func(context.Context, string) (*domain.Task, error) { return todoTask(), nil }
	f.store.columnLengthFn = func(context.Context, string, domain.Status) (int, error) { return 2, nil }
	f.mover.results = []error{domain.ErrConcurrentModification, domain.ErrConcurrentModification}

	rec := doJSON(f.e, http.MethodPost, "/api/tasks/t1/move", `{"status":"review","position":0}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if len(f.recorder.records) != 0 || len(f.events.events) != 0 {
		t.Fatal("failed move must not audit or broadcast")
	}
}

func TestMoveTaskMissing(t *testing.T) {
	f := newHandlerFixture(t)
	f.store.taskFn = func(context.Context, string) (*domain.Task, error) { return nil, nil }

	rec := doJSON(f.e, http.MethodPost, "/api/tasks/ghost/move", `{"status":"review","position":0}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDeniedMutationHasNoSideEffects(t *testing.T) {
	f := newHandlerFixture(t)
	f.store.taskFn = func(context.Context, string) (*domain.Task, error) { return todoTask(), nil }
	f.gate.err = &domain.AccessDeniedError{
		UserID: "user-1", BoardID: "b1", Action: domain.ActionDeleteTask, Reason: domain.DenyInsufficientRole,
	}

	rec := doJSON(f.e, http.MethodDelete, "/api/tasks/t1", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), string(domain.DenyInsufficientRole)) {
		t.Fatalf("expected reason in body, got %s", rec.Body)
	}
	if len(f.recorder.records) != 0 {
		t.Fatalf("denied mutation recorded audit: %+v", f.recorder.records)
	}
	if len(f.events.events) != 0 {
		t.Fatalf("denied mutation broadcast events: %+v", f.events.events)
	}
}

func TestCreateTaskDefaultsAndPublishes(t *testing.T) {
	f := newHandlerFixture(t)
	f.store.createTaskFn = func(_ context.Context, task *domain.Task) error {
		task.Position = 4
		return nil
	}

	rec := doJSON(f.e, http.MethodPost, "/api/tasks", `{"boardId":"b1","title":"Ship it"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"status":"todo"`) {
		t.Fatalf("expected todo default, got %s", rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"position":4`) {
		t.Fatalf("expected stored position in response, got %s", rec.Body)
	}
	if len(f.events.events) != 1 || f.events.events[0].typ != domain.EventTaskCreated {
		t.Fatalf("expected task-created event, got %+v", f.events.events)
	}
}

func TestRelayEndpoint(t *testing.T) {
	f := newHandlerFixture(t)
	ch := f.hub.Register("c1")
	f.hub.Join("c1", "board:b1")

	post := func(secret, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/internal/events", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		if secret != "" {
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+secret)
		}
		rec := httptest.NewRecorder()
		f.e.ServeHTTP(rec, req)
		return rec
	}
	valid := `{"room":"board:b1","type":"task-moved","data":{"taskId":"t1"},"time":7}`

	if rec := post("", valid); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing secret: expected 401, got %d", rec.Code)
	}
	if rec := post("wrong", valid); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad secret: expected 401, got %d", rec.Code)
	}
	if rec := post("s3cret", `{"room":"board:b1","type":"task-exploded"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown type: expected 400, got %d", rec.Code)
	}
	if rec := post("s3cret", valid); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	select {
	case ev := <-ch:
		if ev.Type != domain.EventTaskMoved || ev.Time != 7 {
			t.Fatalf("unexpected relayed event: %+v", ev)
		}
	default:
		t.Fatal("relayed event not delivered to hub")
	}
}

func TestRelayEndpointWithoutHub(t *testing.T) {
	logger, _ := test.NewNullLogger()
	e := echo.New()
	Register(e, Deps{
		Store:       &fakeStorage{},
		Snapshots:   fakeSnapshots{},
		Auth:        &fakeAuth{userID: "user-1"},
		Gate:        &fakeGate{},
		Engine:      &fakeMover{},
		Recorder:    &fakeRecorder{},
		Events:      &fakeBroadcaster{},
		Hub:         nil,
		RelaySecret: "s3cret",
		Logger:      logger,
	})

	req := httptest.NewRequest(http.MethodPost, "/internal/events", strings.NewReader(`{"room":"r","type":"task-moved"}`))
	req.Header.Set(echo.HeaderAuthorization, "Bearer s3cret")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	f := newHandlerFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	f.store.pingErr = errors.New("db gone")
	rec = httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestUnauthenticatedRequest(t *testing.T) {
	logger, _ := test.NewNullLogger()
	e := echo.New()
	Register(e, Deps{
		Store:       &fakeStorage{},
		Snapshots:   fakeSnapshots{},
		Auth:        &fakeAuth{err: errors.New("token expired")},
		Gate:        &fakeGate{},
		Engine:      &fakeMover{},
		Recorder:    &fakeRecorder{},
		Events:      &fakeBroadcaster{},
		RelaySecret: "s3cret",
		Logger:      logger,
	})

	rec := doJSON(e, http.MethodPost, "/api/tasks", `{"boardId":"b1","title":"x"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
