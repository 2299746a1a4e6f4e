package handler

import (
    "errors"
    "fmt"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"

    "github.com/labstack/echo/v4"
    "github.com/rs/zerolog"

    "github.com/entreprinder/connection-service/internal/model"
    "github.com/entreprinder/connection-service/internal/service"
)

func TestWriteErrorMapsWorkflowErrors(t *testing.T) {
    cases := []struct {
        err    error
        status int
        code   string
    }{
        {service.ErrSelfRequest, http.StatusUnprocessableEntity, "self_request"},
        {fmt.Errorf("wrapped: %w", service.ErrNotAttendee), http.StatusForbidden, "not_attendee"},
        {service.ErrNotShared, http.StatusConflict, "not_shared"},
        {&service.TransitionError{ConnectionID: 1, Op: "record_consent", Current: model.StatusShared, Attempted: model.StatusPartialConsent}, http.StatusConflict, "invalid_transition"},
        {errors.New("boom"), http.StatusInternalServerError, "internal error"},
    }
    e := echo.New()
    for _, tc := range cases {
        rec := httptest.NewRecorder()
        c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
        if err := writeError(c, zerolog.Nop(), tc.err); err != nil {
            t.Fatalf("writeError: %v", err)
        }
        if rec.Code != tc.status || !strings.Contains(rec.Body.String(), tc.code) {
            t.Errorf("%v -> %d %s", tc.err, rec.Code, rec.Body.String())
        }
    }
}

func TestBindRejectsInvalidBody(t *testing.T) {
    e := echo.New()
    e.Validator = NewValidator()

    req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"fields":["email","fax"]}`))
    req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
    rec := httptest.NewRecorder()
    var body consentReq
    ok, err := bind(e.NewContext(req, rec), &body)
    if ok || err != nil || rec.Code != http.StatusBadRequest {
        t.Fatalf("ok=%v err=%v code=%d", ok, err, rec.Code)
    }

    req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"fields":["email","social"]}`))
    req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
    ok, err = bind(e.NewContext(req, httptest.NewRecorder()), &body)
    if !ok || err != nil || len(body.Fields) != 2 {
        t.Fatalf("ok=%v err=%v body=%+v", ok, err, body)
    }
}

func TestGetUserIDAndPathID(t *testing.T) {
    e := echo.New()
    c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
    if _, err := getUserID(c); err == nil {
        t.Fatal("missing user_id accepted")
    }
    c.Set("user_id", uint64(7))
    if id, err := getUserID(c); err != nil || id != 7 {
        t.Fatalf("uint64: %d %v", id, err)
    }
    c.Set("user_id", "8")
    if id, err := getUserID(c); err != nil || id != 8 {
        t.Fatalf("string: %d %v", id, err)
    }

    c.SetParamNames("id")
    c.SetParamValues("0")
    if _, ok := pathID(c, "id"); ok {
        t.Fatal("zero id accepted")
    }
    c.SetParamValues("15")
    if id, ok := pathID(c, "id"); !ok || id != 15 {
        t.Fatalf("pathID = %d %v", id, ok)
    }
}
