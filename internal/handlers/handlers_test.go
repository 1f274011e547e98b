package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/api"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/delivery"
	"github.com/parley-chat/parley/internal/relay"
	"github.com/parley-chat/parley/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(st.Close)

	cfg := &config.Config{
		Env:              "development",
		JWTSecret:        "test-secret",
		MaxMessageLength: 64,
	}

	logger := zerolog.Nop()
	rel := relay.New(logger)
	coord := delivery.NewCoordinator(st, rel, logger, cfg.MaxMessageLength)

	srv := httptest.NewServer(api.NewRouter(logger, st, nil, rel, coord, cfg))
	t.Cleanup(srv.Close)
	return srv
}

// call performs a JSON request and decodes the response into out (when
// out is non-nil).
func call(t *testing.T, srv *httptest.Server, method, path, token string, body, out interface{}) int {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, srv.URL+path, reqBody)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		data, _ := io.ReadAll(resp.Body)
		if len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				t.Fatalf("decode %s %s response %q: %v", method, path, data, err)
			}
		}
	}
	return resp.StatusCode
}

type authResp struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

func registerUser(t *testing.T, srv *httptest.Server, name string) authResp {
	t.Helper()
	var resp authResp
	status := call(t, srv, "POST", "/register", "", map[string]string{
		"name":     name,
		"email":    name + "@example.com",
		"password": "hunter2hunter2",
	}, &resp)
	if status != http.StatusCreated {
		t.Fatalf("register %s: status %d", name, status)
	}
	return resp
}

type convResp struct {
	ID      string `json:"id"`
	IsGroup bool   `json:"is_group"`
}

func createDirect(t *testing.T, srv *httptest.Server, token, otherID string) convResp {
	t.Helper()
	var conv convResp
	status := call(t, srv, "POST", "/conversations", token, map[string]interface{}{
		"is_group": false,
		"members":  []string{otherID},
	}, &conv)
	if status != http.StatusCreated {
		t.Fatalf("create conversation: status %d", status)
	}
	return conv
}

type msgResp struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type msgsResp struct {
	Messages []msgResp `json:"messages"`
}

func TestRegisterAndLogin(t *testing.T) {
	srv := newTestServer(t)

	alice := registerUser(t, srv, "alice")
	if alice.Token == "" {
		t.Fatal("register returned no token")
	}

	// Duplicate email is rejected.
	status := call(t, srv, "POST", "/register", "", map[string]string{
		"name":     "alice2",
		"email":    "alice@example.com",
		"password": "hunter2hunter2",
	}, nil)
	if status != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409", status)
	}

	var login authResp
	status = call(t, srv, "POST", "/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "hunter2hunter2",
	}, &login)
	if status != http.StatusOK || login.Token == "" {
		t.Errorf("login status = %d, token %q", status, login.Token)
	}

	status = call(t, srv, "POST", "/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong password",
	}, nil)
	if status != http.StatusUnauthorized {
		t.Errorf("bad password status = %d, want 401", status)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	if status := call(t, srv, "GET", "/conversations", "", nil, nil); status != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", status)
	}
	if status := call(t, srv, "GET", "/conversations", "not-a-token", nil, nil); status != http.StatusUnauthorized {
		t.Errorf("garbage token status = %d, want 401", status)
	}
}

func TestDirectConversationDedup(t *testing.T) {
	srv := newTestServer(t)
	alice := registerUser(t, srv, "alice")
	bob := registerUser(t, srv, "bob")

	first := createDirect(t, srv, alice.Token, bob.ID)

	// Creating again, even from the other side, returns the same conversation.
	var again convResp
	status := call(t, srv, "POST", "/conversations", bob.Token, map[string]interface{}{
		"is_group": false,
		"members":  []string{alice.ID},
	}, &again)
	if status != http.StatusOK {
		t.Errorf("duplicate create status = %d, want 200", status)
	}
	if again.ID != first.ID {
		t.Errorf("dedup returned %s, want %s", again.ID, first.ID)
	}
}

func TestSendAndPoll(t *testing.T) {
	srv := newTestServer(t)
	alice := registerUser(t, srv, "alice")
	bob := registerUser(t, srv, "bob")
	conv := createDirect(t, srv, alice.Token, bob.ID)

	var sent []string
	for i := 0; i < 3; i++ {
		var msg msgResp
		status := call(t, srv, "POST", fmt.Sprintf("/conversations/%s/messages", conv.ID), alice.Token,
			map[string]string{"content": fmt.Sprintf("hello %d", i)}, &msg)
		if status != http.StatusCreated {
			t.Fatalf("send %d: status %d", i, status)
		}
		sent = append(sent, msg.ID)
	}

	// Bob's first poll with no cursor sees the full history.
	var got msgsResp
	status := call(t, srv, "GET", fmt.Sprintf("/conversations/%s/messages/poll", conv.ID), bob.Token, nil, &got)
	if status != http.StatusOK {
		t.Fatalf("poll status = %d", status)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("poll returned %d messages, want 3", len(got.Messages))
	}

	// Polling from the second message yields exactly the third.
	got = msgsResp{}
	path := fmt.Sprintf("/conversations/%s/messages/poll?lastMessageId=%s", conv.ID, sent[1])
	if status := call(t, srv, "GET", path, bob.Token, nil, &got); status != http.StatusOK {
		t.Fatalf("cursor poll status = %d", status)
	}
	if len(got.Messages) != 1 || got.Messages[0].ID != sent[2] {
		t.Errorf("cursor poll = %+v, want only %s", got.Messages, sent[2])
	}
}

func TestMessageValidationAndAccess(t *testing.T) {
	srv := newTestServer(t)
	alice := registerUser(t, srv, "alice")
	bob := registerUser(t, srv, "bob")
	eve := registerUser(t, srv, "eve")
	conv := createDirect(t, srv, alice.Token, bob.ID)

	msgPath := fmt.Sprintf("/conversations/%s/messages", conv.ID)

	// Empty content.
	if status := call(t, srv, "POST", msgPath, alice.Token, map[string]string{"content": ""}, nil); status != http.StatusBadRequest {
		t.Errorf("empty content status = %d, want 400", status)
	}

	// Oversized content (limit is 64 bytes in the test config).
	big := make([]byte, 65)
	for i := range big {
		big[i] = 'x'
	}
	if status := call(t, srv, "POST", msgPath, alice.Token, map[string]string{"content": string(big)}, nil); status != http.StatusBadRequest {
		t.Errorf("oversized content status = %d, want 400", status)
	}

	// Outsiders see neither the conversation nor its messages.
	if status := call(t, srv, "POST", msgPath, eve.Token, map[string]string{"content": "hi"}, nil); status != http.StatusNotFound {
		t.Errorf("outsider send status = %d, want 404", status)
	}
	if status := call(t, srv, "GET", msgPath, eve.Token, nil, nil); status != http.StatusNotFound {
		t.Errorf("outsider read status = %d, want 404", status)
	}
}

func TestDeleteMessagePermissions(t *testing.T) {
	srv := newTestServer(t)
	alice := registerUser(t, srv, "alice")
	bob := registerUser(t, srv, "bob")
	conv := createDirect(t, srv, alice.Token, bob.ID)

	var msg msgResp
	msgPath := fmt.Sprintf("/conversations/%s/messages", conv.ID)
	if status := call(t, srv, "POST", msgPath, alice.Token, map[string]string{"content": "oops"}, &msg); status != http.StatusCreated {
		t.Fatalf("send status = %d", status)
	}

	delPath := fmt.Sprintf("%s/%s", msgPath, msg.ID)

	// Bob did not send it and this is not a group: forbidden.
	if status := call(t, srv, "DELETE", delPath, bob.Token, nil, nil); status != http.StatusForbidden {
		t.Errorf("non-sender delete status = %d, want 403", status)
	}

	// The sender may delete.
	if status := call(t, srv, "DELETE", delPath, alice.Token, nil, nil); status != http.StatusOK {
		t.Errorf("sender delete status = %d, want 200", status)
	}

	// Deleting again: gone.
	if status := call(t, srv, "DELETE", delPath, alice.Token, nil, nil); status != http.StatusNotFound {
		t.Errorf("double delete status = %d, want 404", status)
	}

	// Bob's poll no longer includes it.
	var got msgsResp
	if status := call(t, srv, "GET", msgPath+"/poll", bob.Token, nil, &got); status != http.StatusOK {
		t.Fatalf("poll status = %d", status)
	}
	if len(got.Messages) != 0 {
		t.Errorf("deleted message still visible: %+v", got.Messages)
	}
}

func TestGroupConversationAdminRules(t *testing.T) {
	srv := newTestServer(t)
	alice := registerUser(t, srv, "alice")
	bob := registerUser(t, srv, "bob")
	carol := registerUser(t, srv, "carol")

	var conv convResp
	status := call(t, srv, "POST", "/conversations", alice.Token, map[string]interface{}{
		"name":     "the group",
		"is_group": true,
		"members":  []string{bob.ID, carol.ID},
	}, &conv)
	if status != http.StatusCreated {
		t.Fatalf("create group status = %d", status)
	}

	// Bob posts; Alice, the group admin, can delete his message.
	var msg msgResp
	msgPath := fmt.Sprintf("/conversations/%s/messages", conv.ID)
	if status := call(t, srv, "POST", msgPath, bob.Token, map[string]string{"content": "spam"}, &msg); status != http.StatusCreated {
		t.Fatalf("send status = %d", status)
	}
	if status := call(t, srv, "DELETE", fmt.Sprintf("%s/%s", msgPath, msg.ID), alice.Token, nil, nil); status != http.StatusOK {
		t.Errorf("admin delete status = %d, want 200", status)
	}

	// Only the admin may delete the group itself.
	convPath := "/conversations/" + conv.ID
	if status := call(t, srv, "DELETE", convPath, bob.Token, nil, nil); status != http.StatusForbidden {
		t.Errorf("member group delete status = %d, want 403", status)
	}
	if status := call(t, srv, "DELETE", convPath, alice.Token, nil, nil); status != http.StatusOK {
		t.Errorf("admin group delete status = %d, want 200", status)
	}
	if status := call(t, srv, "GET", convPath, alice.Token, nil, nil); status != http.StatusNotFound {
		t.Errorf("deleted group still readable, status = %d", status)
	}
}

func TestBulkUserLookup(t *testing.T) {
	srv := newTestServer(t)
	alice := registerUser(t, srv, "alice")
	bob := registerUser(t, srv, "bob")

	var resp struct {
		Users []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"users"`
	}

	// Known IDs resolve; an unknown one is silently skipped.
	path := fmt.Sprintf("/users?ids=%s,%s,%s", alice.ID, bob.ID, uuid.NewString())
	status := call(t, srv, "GET", path, alice.Token, nil, &resp)
	if status != http.StatusOK {
		t.Fatalf("lookup status = %d", status)
	}
	if len(resp.Users) != 2 {
		t.Fatalf("lookup returned %d users, want 2", len(resp.Users))
	}
	names := map[string]bool{}
	for _, u := range resp.Users {
		names[u.Name] = true
	}
	if !names["alice"] || !names["bob"] {
		t.Errorf("lookup = %+v, want alice and bob", resp.Users)
	}

	// Malformed input is rejected.
	if status := call(t, srv, "GET", "/users?ids=not-a-uuid", alice.Token, nil, nil); status != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", status)
	}
	if status := call(t, srv, "GET", "/users", alice.Token, nil, nil); status != http.StatusBadRequest {
		t.Errorf("missing ids status = %d, want 400", status)
	}
}

func TestUserSearch(t *testing.T) {
	srv := newTestServer(t)
	alice := registerUser(t, srv, "alice")
	registerUser(t, srv, "alicia")
	registerUser(t, srv, "bob")

	var resp struct {
		Users []struct {
			Name string `json:"name"`
		} `json:"users"`
	}
	status := call(t, srv, "GET", "/users/search?q=ali", alice.Token, nil, &resp)
	if status != http.StatusOK {
		t.Fatalf("search status = %d", status)
	}
	if len(resp.Users) != 1 || resp.Users[0].Name != "alicia" {
		t.Errorf("search = %+v, want only alicia", resp.Users)
	}
}
