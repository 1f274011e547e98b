// Package parley provides a client for the parley chat API.
package parley

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is a parley API client. Token is set by Register or Login and
// sent as a bearer token on every authenticated call.
type Client struct {
	BaseURL    string
	Token      string
	UserID     string
	HTTPClient *http.Client
}

// NewClient creates a new parley client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// doRequest performs an HTTP request, attaching the bearer token when set.
func (c *Client) doRequest(method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("parley error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

// AuthResponse is the response from register and login.
type AuthResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Token string `json:"token"`
}

// Register creates a new account and stores the session token on the client.
func (c *Client) Register(name, email, password string) (*AuthResponse, error) {
	body, _ := json.Marshal(map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	})

	respBody, err := c.doRequest("POST", "/register", body)
	if err != nil {
		return nil, err
	}

	var resp AuthResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}

	c.Token = resp.Token
	c.UserID = resp.ID
	return &resp, nil
}

// Login authenticates and stores the session token on the client.
func (c *Client) Login(email, password string) (*AuthResponse, error) {
	body, _ := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})

	respBody, err := c.doRequest("POST", "/login", body)
	if err != nil {
		return nil, err
	}

	var resp AuthResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}

	c.Token = resp.Token
	c.UserID = resp.ID
	return &resp, nil
}

// User represents a user in search results.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SearchUsers finds users by name or email fragment.
func (c *Client) SearchUsers(query string) ([]User, error) {
	respBody, err := c.doRequest("GET", "/users/search?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Users []User `json:"users"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// Participant ties a user to a conversation.
type Participant struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name,omitempty"`
	IsAdmin bool   `json:"is_admin"`
}

// Conversation is a direct or group chat.
type Conversation struct {
	ID           string        `json:"id"`
	Name         string        `json:"name,omitempty"`
	IsGroup      bool          `json:"is_group"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Participants []Participant `json:"participants,omitempty"`
}

// CreateConversation creates a conversation. For direct conversations the
// server returns the existing one if the pair already has a conversation.
func (c *Client) CreateConversation(name string, isGroup bool, members []string) (*Conversation, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"name":     name,
		"is_group": isGroup,
		"members":  members,
	})

	respBody, err := c.doRequest("POST", "/conversations", body)
	if err != nil {
		return nil, err
	}

	var resp Conversation
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Conversations lists the caller's conversations, most recently updated first.
func (c *Client) Conversations() ([]Conversation, error) {
	respBody, err := c.doRequest("GET", "/conversations", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Conversations []Conversation `json:"conversations"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// DeleteConversation deletes a conversation and all its messages.
func (c *Client) DeleteConversation(conversationID string) error {
	_, err := c.doRequest("DELETE", "/conversations/"+conversationID, nil)
	return err
}

// Message represents a chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Messages retrieves the full message history of a conversation.
func (c *Client) Messages(conversationID string) ([]Message, error) {
	return c.MessagesAfter(conversationID, "")
}

// MessagesAfter retrieves messages with ID strictly after the cursor.
// An empty cursor returns the full history.
func (c *Client) MessagesAfter(conversationID, afterID string) ([]Message, error) {
	path := "/conversations/" + conversationID + "/messages/poll"
	if afterID != "" {
		path += "?lastMessageId=" + url.QueryEscape(afterID)
	}

	respBody, err := c.doRequest("GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SendMessage posts a message to a conversation.
func (c *Client) SendMessage(conversationID, content string) (*Message, error) {
	body, _ := json.Marshal(map[string]string{"content": content})

	respBody, err := c.doRequest("POST", "/conversations/"+conversationID+"/messages", body)
	if err != nil {
		return nil, err
	}

	var resp Message
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteMessage deletes a message from a conversation.
func (c *Client) DeleteMessage(conversationID, messageID string) error {
	_, err := c.doRequest("DELETE", "/conversations/"+conversationID+"/messages/"+messageID, nil)
	return err
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health() (*HealthResponse, error) {
	respBody, err := c.doRequest("GET", "/health", nil)
	if err != nil {
		return nil, err
	}

	var resp HealthResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
