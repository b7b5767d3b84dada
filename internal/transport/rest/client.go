// Package rest talks to the chat backend's HTTP API.
package rest

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"chatsync/internal/transport"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client implements transport.Backend and transport.Directory.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	timeout time.Duration
	now     func() time.Time
	log     zerolog.Logger

	// first-seen times for records the server returns without createdAt
	mu   sync.Mutex
	seen map[string]time.Time
}

func New(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &fasthttp.Client{
			Name:                "chatsync",
			MaxIdleConnDuration: 30 * time.Second,
		},
		timeout: timeout,
		now:     time.Now,
		log:     log,
		seen:    make(map[string]time.Time),
	}
}

// WithHTTPClient swaps the underlying fasthttp client.
func (c *Client) WithHTTPClient(hc *fasthttp.Client) *Client {
	c.http = hc
	return c
}

func (c *Client) SetClock(now func() time.Time) { c.now = now }

type wireMessage struct {
	ID        string     `json:"_id"`
	FromSelf  bool       `json:"fromSelf"`
	Sender    string     `json:"sender"`
	Message   string     `json:"message"`
	AudioURL  string     `json:"audioUrl"`
	CreatedAt *time.Time `json:"createdAt"`
}

type wireUser struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (c *Client) FetchTextMessages(ctx context.Context, selfID, peerID string) ([]transport.Record, error) {
	var out []wireMessage
	body := map[string]string{"from": selfID, "to": peerID}
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/messages/getmsg", body, &out); err != nil {
		return nil, fmt.Errorf("fetch text messages: %w", err)
	}
	return c.records("text", out, selfID, peerID, func(m wireMessage) string { return m.Message }), nil
}

func (c *Client) FetchVoiceMessages(ctx context.Context, selfID, peerID string) ([]transport.Record, error) {
	var out []wireMessage
	path := "/messages/" + url.PathEscape(selfID) + "/" + url.PathEscape(peerID)
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("fetch voice messages: %w", err)
	}
	return c.records("voice", out, selfID, peerID, func(m wireMessage) string { return m.AudioURL }), nil
}

func (c *Client) SendText(ctx context.Context, selfID, peerID, body string) error {
	req := map[string]string{"from": selfID, "to": peerID, "message": body}
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/messages/addmsg", req, nil); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

// UploadVoice posts the recording as a multipart form and returns the
// attachment URL the server assigned.
func (c *Client) UploadVoice(ctx context.Context, selfID, peerID, path string) (string, error) {
	form, contentType, err := voiceForm(selfID, peerID, path)
	if err != nil {
		return "", fmt.Errorf("upload voice: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + "/messages/addvoice")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType(contentType)
	req.SetBody(form)

	if err := c.do(ctx, req, resp); err != nil {
		return "", fmt.Errorf("upload voice: %w", err)
	}
	var out struct {
		AudioURL string `json:"audioUrl"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("upload voice: decode response: %w", err)
	}
	if out.AudioURL == "" {
		return "", errors.New("upload voice: response carried no audioUrl")
	}
	return out.AudioURL, nil
}

func (c *Client) FetchUsers(ctx context.Context, selfID string) ([]transport.User, error) {
	var out []wireUser
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/auths/getAllUsers/"+url.PathEscape(selfID), nil, &out); err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}
	users := make([]transport.User, 0, len(out))
	for _, u := range out {
		users = append(users, transport.User{ID: u.ID, Username: u.Username, Email: u.Email})
	}
	return users, nil
}

func voiceForm(selfID, peerID, path string) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="voice_note.mp3"`)
	h.Set("Content-Type", "audio/mp3")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := w.WriteField("from", selfID); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("to", peerID); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(b)
	}
	if err := c.do(ctx, req, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	start := time.Now()
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return err
	}
	code := resp.StatusCode()
	c.log.Debug().
		Str("method", string(req.Header.Method())).
		Str("path", string(req.URI().Path())).
		Int("status", code).
		Dur("took", time.Since(start)).
		Msg("backend request")
	if code < 200 || code > 299 {
		return &StatusError{
			Method: string(req.Header.Method()),
			Path:   string(req.URI().Path()),
			Code:   code,
			Body:   truncate(string(resp.Body()), 200),
		}
	}
	return nil
}

// records converts a server snapshot. Sender identity comes from the
// explicit sender field when present, else from fromSelf relative to the
// ids used in the request. Records without an id get one derived from
// content and position among identical records. Records without createdAt
// keep the time they were first seen, offset by their position in the
// response so repeated content never shares a timestamp and server order
// is kept.
func (c *Client) records(kind string, in []wireMessage, selfID, peerID string, payload func(wireMessage) string) []transport.Record {
	now := c.now()
	out := make([]transport.Record, 0, len(in))
	ordinal := make(map[string]int)

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, m := range in {
		sender := m.Sender
		if sender == "" {
			sender = peerID
			if m.FromSelf {
				sender = selfID
			}
		}
		body := payload(m)

		id := m.ID
		if id == "" {
			fp := kind + "\x00" + sender + "\x00" + body
			n := ordinal[fp]
			ordinal[fp] = n + 1
			id = derivedID(selfID, peerID, fp, n)
		}

		var at time.Time
		if m.CreatedAt != nil && !m.CreatedAt.IsZero() {
			at = *m.CreatedAt
		} else {
			seen, ok := c.seen[id]
			if !ok {
				seen = now.Add(time.Duration(i))
				c.seen[id] = seen
			}
			at = seen
		}
		out = append(out, transport.Record{ID: id, SenderID: sender, Payload: body, CreatedAt: at})
	}
	return out
}

func derivedID(selfID, peerID, fingerprint string, n int) string {
	a, b := selfID, peerID
	if b < a {
		a, b = b, a
	}
	h := sha1.New()
	h.Write([]byte(a + "\x00" + b + "\x00" + fingerprint + "\x00" + strconv.Itoa(n)))
	return "r-" + hex.EncodeToString(h.Sum(nil))[:16]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
