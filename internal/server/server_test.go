package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/ticket-tracker/constants"
	"github.com/joseph-ayodele/ticket-tracker/internal/async"
	"github.com/joseph-ayodele/ticket-tracker/internal/entity"
	"github.com/joseph-ayodele/ticket-tracker/internal/events"
	"github.com/joseph-ayodele/ticket-tracker/internal/export"
	"github.com/joseph-ayodele/ticket-tracker/internal/extract"
	"github.com/joseph-ayodele/ticket-tracker/internal/ingest"
	"github.com/joseph-ayodele/ticket-tracker/internal/pipeline"
	"github.com/joseph-ayodele/ticket-tracker/internal/repository"
)

const orderText = "发车时间:2026.02.19星期四\n09:10 G7512 10:03\n嵊州新昌站，历时53分杭州东站，\n10车08B号 检票口1"

type stubOCR struct{ text string }

func (s stubOCR) Extract(_ context.Context, _ string, progress extract.ProgressFunc) (extract.TextExtractionResult, error) {
	if progress != nil {
		progress(60, "recognize")
	}
	return extract.TextExtractionResult{Text: s.text, Method: "image-ocr", SourceType: "IMAGE", Confidence: 0.95}, nil
}

func init() { gin.SetMode(gin.TestMode) }

func newTestService(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := repository.Open(ctx, repository.Config{DSN: "sqlite://:memory:"}, logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(st.Close)
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	files := repository.NewSourceFileRepository(st, logger)
	jobs := repository.NewExtractJobRepository(st, logger)
	tickets := repository.NewTicketRepository(st, logger)

	ocrStage := pipeline.NewOCRStage(files, jobs, stubOCR{text: orderText}, logger)
	parse := pipeline.NewParseStage(logger, pipeline.Config{}, jobs, tickets, extract.NewRulesExtractor(nil), nil, &events.Recorder{})
	proc := pipeline.NewProcessor(logger, ingest.NewFSIngestor(files, logger), jobs, tickets, ocrStage, parse)
	queue := async.NewProcessorQueue(proc, logger, async.WithWorkers(2))
	t.Cleanup(func() { queue.Shutdown(context.Background()) })

	return NewService(ServiceDeps{
		Processor: proc,
		Queue:     queue,
		Tracker:   queue.Tracker(),
		Jobs:      jobs,
		Tickets:   tickets,
		Export:    export.NewService(tickets, logger),
		UploadDir: t.TempDir(),
		Logger:    logger,
	})
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func uploadRequest(t *testing.T, filename string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(body)
	_ = mw.WriteField("policy", "conservative")
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHTTPParseText(t *testing.T) {
	r := NewRouter(RouterConfig{Service: newTestService(t)})

	w := do(t, r, httptest.NewRequest(http.MethodPost, "/api/v1/parse", strings.NewReader(`{"text":"`+strings.ReplaceAll(orderText, "\n", `\n`)+`"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var res ResultView
	decodeBody(t, w, &res)
	if res.Ticket == nil || res.Ticket.TrainNumber != "G7512" || res.Ticket.DepartureStation != "嵊州新昌" || res.Ticket.ArrivalStation != "杭州东" {
		t.Fatalf("unexpected ticket %+v", res.Ticket)
	}
	if res.NeedsReview || res.Status != "PARSED" {
		t.Fatalf("unexpected result %+v", res)
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("missing request id header")
	}

	plain := httptest.NewRequest(http.MethodPost, "/api/v1/parse?policy=loose", strings.NewReader("09:10 sso 10:03"))
	plain.Header.Set("Content-Type", "text/plain; charset=utf-8")
	w = do(t, r, plain)
	decodeBody(t, w, &res)
	if w.Code != http.StatusOK || res.Ticket.TrainNumber != "SSO" {
		t.Fatalf("plain parse: %d %s", w.Code, w.Body.String())
	}

	for _, body := range []string{`{"text":""}`, `{"text":"x","policy":"guess"}`, `not json`} {
		if w := do(t, r, httptest.NewRequest(http.MethodPost, "/api/v1/parse", strings.NewReader(body))); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", body, w.Code)
		}
	}
}

func waitParsed(t *testing.T, r http.Handler, jobID string) JobView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		w := do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID, nil))
		var v JobView
		decodeBody(t, w, &v)
		if v.Status == "PARSED" || v.Status == "FAILED" {
			return v
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s stuck in %s", jobID, v.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHTTPUploadCorrectExport(t *testing.T) {
	r := NewRouter(RouterConfig{Service: newTestService(t)})

	w := do(t, r, uploadRequest(t, "order.png", []byte("png-bytes")))
	if w.Code != http.StatusAccepted {
		t.Fatalf("upload status = %d body=%s", w.Code, w.Body.String())
	}
	var res ResultView
	decodeBody(t, w, &res)
	if res.Status != "QUEUED" {
		t.Fatalf("status = %s", res.Status)
	}

	job := waitParsed(t, r, res.JobID)
	if job.Status != "PARSED" || job.TicketID == "" || job.Progress != 1 || job.Source != "UPLOAD" {
		t.Fatalf("job = %+v", job)
	}

	// same bytes again resolve to the stored ticket
	w = do(t, r, uploadRequest(t, "again.png", []byte("png-bytes")))
	decodeBody(t, w, &res)
	if w.Code != http.StatusOK || !res.Deduplicated || res.Ticket == nil || res.Ticket.ID.String() != job.TicketID {
		t.Fatalf("dedup: %d %s", w.Code, w.Body.String())
	}

	patch := httptest.NewRequest(http.MethodPatch, "/api/v1/tickets/"+job.TicketID, strings.NewReader(`{"trainNumber":"g7513","ticketGate":"2a"}`))
	w = do(t, r, patch)
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d body=%s", w.Code, w.Body.String())
	}
	var tk entity.Ticket
	decodeBody(t, w, &tk)
	if tk.TrainNumber != "G7513" || tk.TicketGate != "2A" || !tk.Edited {
		t.Fatalf("patched ticket = %+v", tk)
	}

	bad := httptest.NewRequest(http.MethodPatch, "/api/v1/tickets/"+job.TicketID, strings.NewReader(`{"time":"25:99"}`))
	if w := do(t, r, bad); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid patch status = %d", w.Code)
	}

	w = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/tickets?edited=true", nil))
	var list struct {
		Tickets []entity.Ticket `json:"tickets"`
	}
	decodeBody(t, w, &list)
	if len(list.Tickets) != 1 || list.Tickets[0].ID.String() != job.TicketID {
		t.Fatalf("list = %s", w.Body.String())
	}

	w = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/export.xlsx?from=2026-01-01", nil))
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != xlsxContentType || w.Body.Len() == 0 {
		t.Fatalf("export: %d %q", w.Code, w.Header().Get("Content-Type"))
	}
}

func TestHTTPErrors(t *testing.T) {
	r := NewRouter(RouterConfig{Service: newTestService(t)})
	cases := []struct {
		name string
		req  *http.Request
		want int
	}{
		{"unsupported upload", uploadRequest(t, "order.pdf", []byte("%PDF")), http.StatusBadRequest},
		{"empty upload", uploadRequest(t, "order.png", nil), http.StatusBadRequest},
		{"bad job id", httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nope", nil), http.StatusBadRequest},
		{"unknown job", httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), nil), http.StatusNotFound},
		{"unknown ticket", httptest.NewRequest(http.MethodGet, "/api/v1/tickets/"+uuid.NewString(), nil), http.StatusNotFound},
		{"bad filter", httptest.NewRequest(http.MethodGet, "/api/v1/tickets?from=2026-13-01", nil), http.StatusBadRequest},
		{"reversed range", httptest.NewRequest(http.MethodGet, "/api/v1/tickets?from=2026-03-01&to=2026-02-01", nil), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := do(t, r, tc.req); w.Code != tc.want {
				t.Fatalf("status = %d, want %d body=%s", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestBearerAuth(t *testing.T) {
	verify := func(_ context.Context, tok string) (string, error) {
		if tok != "good" {
			return "", status.Error(codes.Unauthenticated, "bad")
		}
		return "user-1", nil
	}
	r := NewRouter(RouterConfig{Service: newTestService(t), Verify: verify})

	if w := do(t, r, httptest.NewRequest(http.MethodGet, "/ping", nil)); w.Code != http.StatusOK {
		t.Fatalf("ping status = %d", w.Code)
	}
	for _, header := range []string{"", "Basic abc", "Bearer ", "Bearer wrong"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tickets", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		if w := do(t, r, req); w.Code != http.StatusUnauthorized {
			t.Fatalf("%q: status = %d", header, w.Code)
		}
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tickets", nil)
	req.Header.Set("Authorization", "bearer good")
	if w := do(t, r, req); w.Code != http.StatusOK {
		t.Fatalf("authorized status = %d", w.Code)
	}
}

func TestFilterQuery(t *testing.T) {
	f, err := FilterQuery{From: "2026-2-1", To: "2026-02-19", TrainNumber: " g12 ", Edited: "false", Limit: "20"}.Filter()
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if f.FromDay != "2026-02-01" || f.ToDay != "2026-02-19" || f.TrainNumber != "G12" || f.Edited == nil || *f.Edited || f.Limit != 20 {
		t.Fatalf("filter = %+v", f)
	}
	for _, q := range []FilterQuery{{Limit: "x"}, {Limit: "100000"}, {Edited: "maybe"}, {To: "tomorrow"}} {
		if _, err := q.Filter(); err == nil {
			t.Fatalf("%+v: expected error", q)
		}
	}
}

func dialBufconn(t *testing.T, svc *Service) *TicketServiceClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryInterceptor(zap.NewNop())))
	RegisterTicketServiceServer(srv, NewGRPCHandler(svc))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewTicketServiceClient(conn)
}

func TestGRPCRoundTrip(t *testing.T) {
	client := dialBufconn(t, newTestService(t))
	ctx := context.Background()

	in, _ := structpb.NewStruct(map[string]any{"text": orderText})
	out, err := client.ParseText(ctx, in)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	tk := out.GetFields()["ticket"].GetStructValue()
	if tk.GetFields()["trainNumber"].GetStringValue() != "G7512" {
		t.Fatalf("ticket = %v", tk)
	}
	id := tk.GetFields()["id"].GetStringValue()

	got, err := client.GetTicket(ctx, id)
	if err != nil || got.GetFields()["seat"].GetStringValue() != "10车08排B号" {
		t.Fatalf("get ticket: %v %v", got, err)
	}

	upd, _ := structpb.NewStruct(map[string]any{"id": id, "patch": map[string]any{"seat": "11车01排F号"}})
	got, err = client.UpdateTicket(ctx, upd)
	if err != nil || !got.GetFields()["edited"].GetBoolValue() {
		t.Fatalf("update: %v %v", got, err)
	}

	list, err := client.ListTickets(ctx, &structpb.Struct{})
	if err != nil || len(list.GetFields()["tickets"].GetListValue().GetValues()) != 1 {
		t.Fatalf("list: %v %v", list, err)
	}

	xlsx, err := client.ExportTickets(ctx, &structpb.Struct{})
	if err != nil || len(xlsx.GetValue()) == 0 {
		t.Fatalf("export: %v", err)
	}
}

func TestGRPCStatusCodes(t *testing.T) {
	client := dialBufconn(t, newTestService(t))
	ctx := context.Background()

	if _, err := client.GetJob(ctx, "nope"); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("bad id code = %v", status.Code(err))
	}
	if _, err := client.GetTicket(ctx, uuid.NewString()); status.Code(err) != codes.NotFound {
		t.Fatalf("missing ticket code = %v", status.Code(err))
	}
	in, _ := structpb.NewStruct(map[string]any{"filename": "shot.gif", "data": "AAAA"})
	if _, err := client.SubmitImage(ctx, in); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("unsupported upload code = %v", status.Code(err))
	}
	upd, _ := structpb.NewStruct(map[string]any{"id": uuid.NewString(), "patch": map[string]any{"colour": "red"}})
	if _, err := client.UpdateTicket(ctx, upd); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("unknown patch field code = %v", status.Code(err))
	}
}

type closedQueue struct{}

func (closedQueue) Enqueue(context.Context, async.Job) error {
	return errors.New("queue is shutting down")
}

func (closedQueue) Shutdown(context.Context) {}

func TestEnqueueFailureClosesJob(t *testing.T) {
	svc := newTestService(t)
	svc.queue = closedQueue{}
	ctx := context.Background()

	if _, err := svc.SubmitImage(ctx, "shot.png", strings.NewReader("upload"), ""); err == nil {
		t.Fatalf("submit should fail on a closed queue")
	}
	left, err := os.ReadDir(svc.uploadDir)
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("upload kept on disk: %v", left)
	}

	shot := filepath.Join(t.TempDir(), "watched.png")
	if err := os.WriteFile(shot, []byte("watched"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := svc.SubmitWatched(ctx, shot)
	if err == nil {
		t.Fatalf("watched submit should fail on a closed queue")
	}
	job, err := svc.Job(ctx, res.JobID)
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if job.Status != "FAILED" {
		t.Fatalf("status = %s, want FAILED", job.Status)
	}
	if _, err := os.Stat(shot); err != nil {
		t.Fatalf("watched file removed: %v", err)
	}

	failed, err := svc.jobs.List(ctx, constants.JobStatusFailed, 10)
	if err != nil || len(failed) != 2 {
		t.Fatalf("failed jobs = %d, %v", len(failed), err)
	}
}

func TestGRPCSubmitImageQueues(t *testing.T) {
	svc := newTestService(t)
	client := dialBufconn(t, svc)
	ctx := context.Background()

	in, _ := structpb.NewStruct(map[string]any{"filename": "shot.jpg", "data": "aGVsbG8="})
	out, err := client.SubmitImage(ctx, in)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	jobID := out.GetFields()["jobId"].GetStringValue()
	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := client.GetJob(ctx, jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.GetFields()["status"].GetStringValue() == "PARSED" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job not parsed: %v", job)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGRPCIngestDirectory(t *testing.T) {
	client := dialBufconn(t, newTestService(t))
	ctx := context.Background()

	root := t.TempDir()
	for name, body := range map[string]string{"a.png": "one", "b.jpg": "two", "c.png": "one", "notes.pdf": "x", ".hidden.png": "h"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	in, _ := structpb.NewStruct(map[string]any{"root": root})
	out, err := client.IngestDirectory(ctx, in)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	f := out.GetFields()
	if f["matched"].GetNumberValue() != 3 || len(f["items"].GetListValue().GetValues()) != 3 {
		t.Fatalf("report = %v", out)
	}
	if f["failed"].GetNumberValue() != 0 {
		t.Fatalf("unexpected failures: %v", out)
	}

	missing, _ := structpb.NewStruct(map[string]any{"root": filepath.Join(root, "nope")})
	if _, err := client.IngestDirectory(ctx, missing); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("missing root code = %v", status.Code(err))
	}
}
