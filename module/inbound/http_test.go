package inbound

import (
	"WaRelay/middleware/security"
	"WaRelay/module/concat"
	"WaRelay/module/message"
	"WaRelay/tools/errs"
	jwtsec "WaRelay/tools/security"
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

var testSecret = []byte("test-admin-secret")

type httpHarness struct {
	r     *gin.Engine
	sink  *message.MemStore
	token string
}

func newHTTPHarness(t *testing.T) *httpHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	security.Configure(jwtsec.DefaultOptions(testSecret))

	sink := message.NewMemStore()
	eng, err := concat.NewEngine(concat.NewMemStore(time.Now), sink, concat.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	r := gin.New()
	RegisterRoutes(r, NewHTTPHandler(NewPipeline(eng, sink, nil), eng, nil))

	tok, _, _, err := jwtsec.Generate(jwtsec.DefaultOptions(testSecret), "ops", []string{"admin"})
	if err != nil {
		t.Fatal(err)
	}
	return &httpHarness{r: r, sink: sink, token: tok}
}

func (h *httpHarness) do(method, path string, body any, auth bool) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		_ = json.NewEncoder(&buf).Encode(v)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	w := httptest.NewRecorder()
	h.r.ServeHTTP(w, req)
	return w
}

func liveEvent(id string) *Event {
	ev := event(id, false)
	ev.Message.Timestamp = time.Now()
	return ev
}

func TestInboundEndpoint(t *testing.T) {
	h := newHTTPHarness(t)

	w := h.do(http.MethodPost, "/v1/inbound", liveEvent("m1"), false)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}

	w = h.do(http.MethodPost, "/v1/inbound", "{bad", false)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad json status = %d", w.Code)
	}

	ev := liveEvent("m2")
	ev.Message.Type = ""
	w = h.do(http.MethodPost, "/v1/inbound", ev, false)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid status = %d", w.Code)
	}
	var body errs.CodeError
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Code != errs.ArgsError {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestAdminEndpoints(t *testing.T) {
	h := newHTTPHarness(t)
	path := "/v1/blocks/sess-1/5511999990000"

	if w := h.do(http.MethodGet, path, nil, false); w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", w.Code)
	}
	if w := h.do(http.MethodGet, path, nil, true); w.Code != http.StatusNotFound {
		t.Fatalf("empty block status = %d", w.Code)
	}

	for _, id := range []string{"m1", "m2"} {
		if w := h.do(http.MethodPost, "/v1/inbound", liveEvent(id), false); w.Code != http.StatusAccepted {
			t.Fatalf("ingest status = %d", w.Code)
		}
	}
	w := h.do(http.MethodGet, path, nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var b concat.Block
	if err := json.Unmarshal(w.Body.Bytes(), &b); err != nil {
		t.Fatal(err)
	}
	if len(b.Messages) != 2 {
		t.Fatalf("block = %+v", b)
	}

	if w := h.do(http.MethodPost, path+"/flush", nil, true); w.Code != http.StatusOK {
		t.Fatalf("flush status = %d", w.Code)
	}
	if h.sink.Count() != 1 {
		t.Fatalf("rows = %d", h.sink.Count())
	}

	h.do(http.MethodPost, "/v1/inbound", liveEvent("m3"), false)
	w = h.do(http.MethodDelete, path, nil, true)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"cleared":true`)) {
		t.Fatalf("clear = %d %s", w.Code, w.Body.String())
	}
	if h.sink.Count() != 1 {
		t.Fatalf("clear persisted rows: %d", h.sink.Count())
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errs.ErrArgs.WrapMsg("x"), http.StatusBadRequest},
		{errs.ErrTokenInvalid.WrapMsg("x"), http.StatusUnauthorized},
		{errs.ErrRecordNotFound.WrapMsg("x"), http.StatusNotFound},
		{errs.ErrStoreUnavailable.WrapMsg("x"), http.StatusServiceUnavailable},
		{errs.ErrPersist.WrapMsg("x"), http.StatusServiceUnavailable},
		{errs.WrapMsg(errs.ErrBlockFull.WrapMsg("x"), "ingest contention"), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("%v: got %d want %d", tc.err, got, tc.want)
		}
	}
}
