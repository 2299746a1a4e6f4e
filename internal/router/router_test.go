package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/entreprinder/connection-service/internal/config"
	"github.com/entreprinder/connection-service/internal/database"
	"github.com/entreprinder/connection-service/internal/handler"
	"github.com/entreprinder/connection-service/internal/model"
	"github.com/entreprinder/connection-service/internal/repository"
	"github.com/entreprinder/connection-service/internal/service"
	"github.com/entreprinder/connection-service/internal/utils"
)

const secret = "router-test-secret"

type api struct {
	t     *testing.T
	e     *echo.Echo
	users *repository.UserRepo
}

func newAPI(t *testing.T) *api {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenMemory(t.Name())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(ctx, db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Config{JWTSecret: secret, AccessTTLMin: 5, RefreshTTLDays: 1, BcryptCost: 4}
	log := zerolog.Nop()
	users := repository.NewUserRepo(db)
	wf := service.New(db, service.Options{Driver: "sqlite3", Logger: log})

	pass := func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	e := echo.New()
	e.Validator = handler.NewValidator()
	RegisterRoutes(e, db)
	RegisterAuth(e, handler.NewAuthHandler(cfg, users, repository.NewTokenRepo(db), log), secret, pass)
	RegisterMember(e, handler.NewMemberHandler(wf, log), secret, pass)
	RegisterCoach(e, handler.NewCoachHandler(wf, log), secret, pass)
	RegisterAdmin(e, handler.NewAdminHandler(wf, config.CacheConfig{}, nil, log), secret, pass, pass)
	return &api{t: t, e: e, users: users}
}

// do sends a JSON request and decodes the response into out when non-nil.
func (a *api) do(method, path, token string, body any, out any) int {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			a.t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

type session struct {
	User struct {
		ID   uint64 `json:"id"`
		Role string `json:"role"`
	} `json:"user"`
	Access struct {
		Token string `json:"token"`
	} `json:"access"`
	Refresh struct {
		Token string `json:"token"`
	} `json:"refresh"`
}

func (a *api) register(email, role string) session {
	a.t.Helper()
	var s session
	code := a.do(http.MethodPost, "/v1/auth/register", "", echo.Map{
		"email": email, "password": "password123", "display_name": email, "role": role,
	}, &s)
	if code != http.StatusCreated {
		a.t.Fatalf("register %s: %d", email, code)
	}
	return s
}

func (a *api) admin() string {
	a.t.Helper()
	id, err := a.users.Create(context.Background(), "admin@example.com", "password123", model.RoleAdmin, "Admin", 4)
	if err != nil {
		a.t.Fatalf("admin: %v", err)
	}
	tok, err := utils.NewAccessToken(secret, id, model.RoleAdmin, 5)
	if err != nil {
		a.t.Fatalf("token: %v", err)
	}
	return tok.Token
}

type connectionView struct {
	ID      uint64  `json:"id"`
	Status  string  `json:"status"`
	CoachID *uint64 `json:"coach_id"`
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	if code := a.do(http.MethodGet, "/healthz", "", nil, nil); code != http.StatusOK {
		t.Fatalf("healthz = %d", code)
	}
}

func TestAuthLifecycle(t *testing.T) {
	a := newAPI(t)
	s := a.register("ada@example.com", "")
	if s.User.Role != model.RoleMember || s.Access.Token == "" || s.Refresh.Token == "" {
		t.Fatalf("session = %+v", s)
	}

	if code := a.do(http.MethodPost, "/v1/auth/register", "", echo.Map{
		"email": "ada@example.com", "password": "password123", "display_name": "Again",
	}, nil); code != http.StatusConflict {
		t.Fatalf("duplicate email = %d", code)
	}
	if code := a.do(http.MethodPost, "/v1/auth/register", "", echo.Map{
		"email": "root@example.com", "password": "password123", "display_name": "Root", "role": "ADMIN",
	}, nil); code != http.StatusBadRequest {
		t.Fatalf("self-registered admin = %d", code)
	}
	if code := a.do(http.MethodPost, "/v1/auth/login", "", echo.Map{
		"email": "ada@example.com", "password": "wrong-password",
	}, nil); code != http.StatusUnauthorized {
		t.Fatalf("bad password = %d", code)
	}

	var login session
	if code := a.do(http.MethodPost, "/v1/auth/login", "", echo.Map{
		"email": "ADA@example.com", "password": "password123",
	}, &login); code != http.StatusOK {
		t.Fatalf("login = %d", code)
	}

	var rotated session
	if code := a.do(http.MethodPost, "/v1/auth/refresh", "", echo.Map{"refresh_token": login.Refresh.Token}, &rotated); code != http.StatusOK {
		t.Fatalf("refresh = %d", code)
	}
	if code := a.do(http.MethodPost, "/v1/auth/refresh", "", echo.Map{"refresh_token": login.Refresh.Token}, nil); code != http.StatusUnauthorized {
		t.Fatalf("reused refresh = %d", code)
	}

	var me model.User
	if code := a.do(http.MethodPatch, "/v1/me/contact", rotated.Access.Token, echo.Map{
		"display_name": "Ada", "phone": "+4915112345678", "social_handle": "@ada",
	}, &me); code != http.StatusOK {
		t.Fatalf("update contact = %d", code)
	}
	if me.Phone != "+4915112345678" || me.SocialHandle != "@ada" || me.DisplayName != "Ada" {
		t.Fatalf("me = %+v", me)
	}

	if code := a.do(http.MethodPost, "/v1/auth/logout", rotated.Access.Token, nil, nil); code != http.StatusNoContent {
		t.Fatalf("logout = %d", code)
	}
	if code := a.do(http.MethodPost, "/v1/auth/refresh", "", echo.Map{"refresh_token": rotated.Refresh.Token}, nil); code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout = %d", code)
	}
}

func TestConnectionFlowOverHTTP(t *testing.T) {
	a := newAPI(t)
	admin := a.admin()
	ann := a.register("ann@example.com", "MEMBER")
	bob := a.register("bob@example.com", "MEMBER")
	eve := a.register("eve@example.com", "MEMBER")
	coach := a.register("coach@example.com", "COACH")

	if code := a.do(http.MethodPatch, "/v1/me/contact", bob.Access.Token, echo.Map{
		"display_name": "Bob", "phone": "+15550100",
	}, nil); code != http.StatusOK {
		t.Fatalf("bob contact = %d", code)
	}
	for _, s := range []session{ann, bob} {
		if code := a.do(http.MethodPost, "/v1/admin/events/42/attendees", admin, echo.Map{"user_id": s.User.ID}, nil); code != http.StatusCreated {
			t.Fatalf("attendance = %d", code)
		}
	}
	var attendees struct {
		Items []model.Attendee `json:"items"`
	}
	if code := a.do(http.MethodGet, "/v1/admin/events/42/attendees", admin, nil, &attendees); code != http.StatusOK || len(attendees.Items) != 2 {
		t.Fatalf("attendees = %d %+v", code, attendees)
	}
	if code := a.do(http.MethodPost, "/v1/admin/coaches", admin, echo.Map{
		"user_id": coach.User.ID, "specialization": "networking", "capacity": 2,
	}, nil); code != http.StatusCreated {
		t.Fatalf("register coach = %d", code)
	}
	if code := a.do(http.MethodPost, "/v1/admin/coaches", ann.Access.Token, echo.Map{
		"user_id": ann.User.ID, "capacity": 2,
	}, nil); code != http.StatusForbidden {
		t.Fatalf("member on admin route = %d", code)
	}

	// eve did not attend
	if code := a.do(http.MethodPost, "/v1/events/42/requests", eve.Access.Token, echo.Map{"recipient_id": ann.User.ID}, nil); code != http.StatusForbidden {
		t.Fatalf("non-attendee request = %d", code)
	}
	if code := a.do(http.MethodPost, "/v1/events/42/requests", ann.Access.Token, echo.Map{"recipient_id": ann.User.ID}, nil); code != http.StatusUnprocessableEntity {
		t.Fatalf("self request = %d", code)
	}

	var first struct {
		Mutual bool `json:"mutual"`
	}
	if code := a.do(http.MethodPost, "/v1/events/42/requests", ann.Access.Token, echo.Map{
		"recipient_id": bob.User.ID, "note": "talked about climbing",
	}, &first); code != http.StatusCreated || first.Mutual {
		t.Fatalf("first request = %d mutual=%v", code, first.Mutual)
	}
	if code := a.do(http.MethodPost, "/v1/events/42/requests", ann.Access.Token, echo.Map{"recipient_id": bob.User.ID}, nil); code != http.StatusConflict {
		t.Fatalf("duplicate request = %d", code)
	}

	var second struct {
		Mutual     bool           `json:"mutual"`
		Connection connectionView `json:"connection"`
	}
	if code := a.do(http.MethodPost, "/v1/events/42/requests", bob.Access.Token, echo.Map{"recipient_id": ann.User.ID}, &second); code != http.StatusCreated {
		t.Fatalf("reciprocal request = %d", code)
	}
	conn := second.Connection
	if !second.Mutual || conn.Status != string(model.StatusCoachReviewing) || conn.CoachID == nil || *conn.CoachID != coach.User.ID {
		t.Fatalf("mutual connection = %+v", second)
	}
	base := fmt.Sprintf("/v1/connections/%d", conn.ID)

	if code := a.do(http.MethodGet, base, eve.Access.Token, nil, nil); code != http.StatusForbidden {
		t.Fatalf("outsider view = %d", code)
	}
	if code := a.do(http.MethodGet, base+"/contact", ann.Access.Token, nil, nil); code != http.StatusConflict {
		t.Fatalf("contact before share = %d", code)
	}
	if code := a.do(http.MethodPost, base+"/consent", ann.Access.Token, echo.Map{"fields": []string{"email"}}, nil); code != http.StatusConflict {
		t.Fatalf("consent before introduction = %d", code)
	}

	var queue struct {
		Items []connectionView `json:"items"`
	}
	if code := a.do(http.MethodGet, "/v1/coach/queue", coach.Access.Token, nil, &queue); code != http.StatusOK || len(queue.Items) != 1 {
		t.Fatalf("coach queue = %d %+v", code, queue)
	}
	var view connectionView
	if code := a.do(http.MethodPost, fmt.Sprintf("/v1/coach/connections/%d/introduce", conn.ID), coach.Access.Token, echo.Map{
		"text": "You both love climbing.",
	}, &view); code != http.StatusOK || view.Status != string(model.StatusAwaitingConsent) {
		t.Fatalf("introduce = %d %+v", code, view)
	}

	if code := a.do(http.MethodPost, base+"/consent", ann.Access.Token, echo.Map{"fields": []string{"fax"}}, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown field = %d", code)
	}
	if code := a.do(http.MethodPost, base+"/consent", ann.Access.Token, echo.Map{"fields": []string{"email"}}, &view); code != http.StatusOK || view.Status != string(model.StatusPartialConsent) {
		t.Fatalf("ann consent = %d %+v", code, view)
	}
	if code := a.do(http.MethodPost, base+"/consent", bob.Access.Token, echo.Map{"fields": []string{"phone"}}, &view); code != http.StatusOK || view.Status != string(model.StatusShared) {
		t.Fatalf("bob consent = %d %+v", code, view)
	}

	var contact model.ContactPayload
	if code := a.do(http.MethodGet, base+"/contact", ann.Access.Token, nil, &contact); code != http.StatusOK {
		t.Fatalf("ann contact = %d", code)
	}
	if contact.OwnerID != bob.User.ID || len(contact.Fields) != 1 || contact.Fields[model.FieldPhone] != "+15550100" {
		t.Fatalf("ann sees %+v", contact)
	}
	contact = model.ContactPayload{}
	if code := a.do(http.MethodGet, base+"/contact", bob.Access.Token, nil, &contact); code != http.StatusOK {
		t.Fatalf("bob contact = %d", code)
	}
	if len(contact.Fields) != 1 || contact.Fields[model.FieldEmail] != "ann@example.com" {
		t.Fatalf("bob sees %+v", contact)
	}

	if code := a.do(http.MethodPost, base+"/messages", ann.Access.Token, echo.Map{"body": "hi bob"}, nil); code != http.StatusCreated {
		t.Fatalf("post message = %d", code)
	}
	if code := a.do(http.MethodPost, base+"/messages", eve.Access.Token, echo.Map{"body": "hi"}, nil); code != http.StatusForbidden {
		t.Fatalf("outsider message = %d", code)
	}
	var msgs struct {
		Items []model.ConnectionMessage `json:"items"`
	}
	if code := a.do(http.MethodGet, base+"/messages", coach.Access.Token, nil, &msgs); code != http.StatusOK || len(msgs.Items) != 1 || msgs.Items[0].Body != "hi bob" {
		t.Fatalf("coach reads messages = %d %+v", code, msgs)
	}
	if code := a.do(http.MethodGet, base+"/messages?limit=0", ann.Access.Token, nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d", code)
	}

	var coaches struct {
		Items []model.Coach `json:"items"`
	}
	if code := a.do(http.MethodGet, "/v1/admin/coaches", admin, nil, &coaches); code != http.StatusOK || len(coaches.Items) != 1 || coaches.Items[0].ActiveLoad != 0 {
		t.Fatalf("coach directory after share = %d %+v", code, coaches)
	}
}

func TestAcceptParksWhenNoCoachAndAdminDrainsBacklog(t *testing.T) {
	a := newAPI(t)
	admin := a.admin()
	ann := a.register("ann@example.com", "MEMBER")
	bob := a.register("bob@example.com", "MEMBER")
	coach := a.register("coach@example.com", "COACH")
	for _, s := range []session{ann, bob} {
		a.do(http.MethodPost, "/v1/admin/events/7/attendees", admin, echo.Map{"user_id": s.User.ID}, nil)
	}

	var sub struct {
		Request model.ConnectionRequest `json:"request"`
	}
	if code := a.do(http.MethodPost, "/v1/events/7/requests", ann.Access.Token, echo.Map{"recipient_id": bob.User.ID}, &sub); code != http.StatusCreated {
		t.Fatalf("submit = %d", code)
	}

	var incoming struct {
		Items []model.ConnectionRequest `json:"items"`
	}
	if code := a.do(http.MethodGet, "/v1/requests?box=incoming", bob.Access.Token, nil, &incoming); code != http.StatusOK || len(incoming.Items) != 1 {
		t.Fatalf("incoming = %d %+v", code, incoming)
	}
	if code := a.do(http.MethodPost, fmt.Sprintf("/v1/requests/%d/accept", sub.Request.ID), ann.Access.Token, nil, nil); code != http.StatusForbidden {
		t.Fatalf("requester accepting own request = %d", code)
	}

	var conn connectionView
	if code := a.do(http.MethodPost, fmt.Sprintf("/v1/requests/%d/accept", sub.Request.ID), bob.Access.Token, nil, &conn); code != http.StatusCreated {
		t.Fatalf("accept = %d", code)
	}
	if conn.Status != string(model.StatusAwaitingCoach) || conn.CoachID != nil {
		t.Fatalf("parked connection = %+v", conn)
	}

	assign := fmt.Sprintf("/v1/admin/connections/%d/assign", conn.ID)
	if code := a.do(http.MethodPost, assign, admin, nil, nil); code != http.StatusAccepted {
		t.Fatalf("assign without coaches = %d", code)
	}
	a.do(http.MethodPost, "/v1/admin/coaches", admin, echo.Map{"user_id": coach.User.ID, "capacity": 1}, nil)

	var run struct {
		Assigned int `json:"assigned"`
	}
	if code := a.do(http.MethodPost, "/v1/admin/connections/assign-pending", admin, nil, &run); code != http.StatusOK || run.Assigned != 1 {
		t.Fatalf("drain = %d %+v", code, run)
	}
	if code := a.do(http.MethodPost, assign, admin, nil, nil); code != http.StatusConflict {
		t.Fatalf("reassign = %d", code)
	}
	if code := a.do(http.MethodPost, fmt.Sprintf("/v1/coach/connections/%d/decline", conn.ID), coach.Access.Token, echo.Map{"reason": "not a fit"}, &conn); code != http.StatusOK || conn.Status != string(model.StatusDeclined) {
		t.Fatalf("coach decline = %d %+v", code, conn)
	}
	if code := a.do(http.MethodPost, fmt.Sprintf("/v1/connections/%d/messages", conn.ID), ann.Access.Token, echo.Map{"body": "hello?"}, nil); code != http.StatusConflict {
		t.Fatalf("message after decline = %d", code)
	}
}

func TestDeclineAndWithdrawReturnNoContent(t *testing.T) {
	a := newAPI(t)
	admin := a.admin()
	ann := a.register("ann@example.com", "MEMBER")
	bob := a.register("bob@example.com", "MEMBER")
	for _, s := range []session{ann, bob} {
		a.do(http.MethodPost, "/v1/admin/events/3/attendees", admin, echo.Map{"user_id": s.User.ID}, nil)
		a.do(http.MethodPost, "/v1/admin/events/4/attendees", admin, echo.Map{"user_id": s.User.ID}, nil)
	}

	var sub struct {
		Request model.ConnectionRequest `json:"request"`
	}
	a.do(http.MethodPost, "/v1/events/3/requests", ann.Access.Token, echo.Map{"recipient_id": bob.User.ID}, &sub)
	if code := a.do(http.MethodPost, fmt.Sprintf("/v1/requests/%d/decline", sub.Request.ID), bob.Access.Token, nil, nil); code != http.StatusNoContent {
		t.Fatalf("decline = %d", code)
	}
	var apiErr struct {
		Error string `json:"error"`
	}
	if code := a.do(http.MethodPost, "/v1/events/3/requests", ann.Access.Token, echo.Map{"recipient_id": bob.User.ID}, &apiErr); code != http.StatusConflict || apiErr.Error != "duplicate_request" {
		t.Fatalf("resubmit after decline = %d %q", code, apiErr.Error)
	}
	apiErr.Error = ""
	if code := a.do(http.MethodPost, "/v1/events/3/requests", bob.Access.Token, echo.Map{"recipient_id": ann.User.ID}, &apiErr); code != http.StatusConflict || apiErr.Error != "already_resolved" {
		t.Fatalf("request after decline = %d %q", code, apiErr.Error)
	}

	a.do(http.MethodPost, "/v1/events/4/requests", ann.Access.Token, echo.Map{"recipient_id": bob.User.ID}, &sub)
	if code := a.do(http.MethodPost, fmt.Sprintf("/v1/requests/%d/withdraw", sub.Request.ID), bob.Access.Token, nil, nil); code != http.StatusForbidden {
		t.Fatalf("recipient withdrawing = %d", code)
	}
	if code := a.do(http.MethodPost, fmt.Sprintf("/v1/requests/%d/withdraw", sub.Request.ID), ann.Access.Token, nil, nil); code != http.StatusNoContent {
		t.Fatalf("withdraw = %d", code)
	}
	var outgoing struct {
		Items []model.ConnectionRequest `json:"items"`
	}
	if code := a.do(http.MethodGet, "/v1/requests?box=sideways", ann.Access.Token, nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bad box = %d", code)
	}
	a.do(http.MethodGet, "/v1/requests?box=outgoing", ann.Access.Token, nil, &outgoing)
	if len(outgoing.Items) != 2 {
		t.Fatalf("outgoing = %+v", outgoing.Items)
	}
}
