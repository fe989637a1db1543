package mutualser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"invoice-relay-go/internal/config"
	"invoice-relay-go/internal/model"
)

// Vendor endpoints, relative to the auth and API base URLs.
const (
	loginEndpoint        = "/login/users/login"
	configInfoEndpoint   = "/mutual-api-rfds/api/v1/rips-api/application"
	registerLoadEndpoint = "/mutual-api-rfds/api/v1/rips-api/upload"
	confirmUploadEndpoint = "/mutual-api-rfds/api/v1/rips-api/upload-files"
	signedURLEndpoint    = "/mutual-api-rfds/api/v1/rips-api/signedUrl/getUrlUploadFile"
	findLoadEndpoint     = "/mutual-api-rfds/api/v1/rips-api/findLoad"

	applicationCode = "REG-FACT"
	zipTipoCode     = "ZIP_REG-FACT"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"
)

// AuthError signals a vendor login failure. It is terminal for the current
// message only; the next message triggers a fresh login attempt.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return "vendor authentication failed: " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Client talks to the Mutual Ser API. The bearer token and the enriched
// session headers persist across messages within a run; transaction id and
// load code are per upload. The client is driven by a single worker, so no
// locking is needed.
type Client struct {
	cfg        *config.VendorConfig
	httpClient *http.Client

	token   string
	headers map[string]string

	transactionID string
	codigo        string
}

// NewClient creates a new vendor API client
func NewClient(cfg *config.VendorConfig) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Authenticated reports whether a session token is already held.
func (c *Client) Authenticated() bool {
	return c.token != ""
}

// EnsureAuthenticated logs in unless a session already exists.
func (c *Client) EnsureAuthenticated(ctx context.Context) error {
	if c.Authenticated() {
		return nil
	}
	return c.Login(ctx)
}

// Login authenticates with the configured credentials and installs the
// session headers for all subsequent calls.
func (c *Client) Login(ctx context.Context) error {
	var resp loginResponse
	err := c.doJSON(ctx, http.MethodPost, c.cfg.AuthBaseURL+loginEndpoint, c.baseHeaders(), loginRequest{
		Username: c.cfg.Username,
		Password: c.cfg.Password,
	}, &resp, false)
	if err != nil {
		return &AuthError{Err: err}
	}
	if resp.AccessToken == "" {
		return &AuthError{Err: fmt.Errorf("no access_token in login response")}
	}

	tokenType := resp.TokenType
	if tokenType == "" || strings.EqualFold(tokenType, "bearer") {
		tokenType = "Bearer"
	}

	c.token = resp.AccessToken
	c.headers = c.baseHeaders()
	c.headers["Authorization"] = tokenType + " " + resp.AccessToken
	logrus.Info("Vendor session established")
	return nil
}

// Upload runs the full vendor conversation for one compressed package:
// register the load, place the blob at the signed URL, confirm it, then poll
// until the vendor settles. Every failure, transport or vendor-side, is
// translated into the outcome; nothing escapes this boundary.
func (c *Client) Upload(ctx context.Context, zipName string, blob []byte) model.UploadOutcome {
	if err := c.EnsureAuthenticated(ctx); err != nil {
		return model.UploadOutcome{Succeeded: false, ErrorDetail: err.Error()}
	}

	c.transactionID = uuid.NewString()
	c.codigo = loadCode(time.Now())

	tipoID, err := c.configInfo(ctx)
	if err != nil {
		return model.UploadOutcome{Succeeded: false, ErrorDetail: err.Error()}
	}

	if err := c.registerLoad(ctx, tipoID, zipName); err != nil {
		return model.UploadOutcome{Succeeded: false, ErrorDetail: err.Error()}
	}

	signedURL, err := c.signedURL(ctx)
	if err != nil {
		return model.UploadOutcome{Succeeded: false, ErrorDetail: err.Error()}
	}

	if err := c.putBlob(ctx, signedURL, blob); err != nil {
		return model.UploadOutcome{Succeeded: false, ErrorDetail: err.Error()}
	}

	if err := c.confirmUpload(ctx, tipoID, zipName, len(blob)); err != nil {
		return model.UploadOutcome{Succeeded: false, ErrorDetail: err.Error()}
	}

	final, err := c.pollLoad(ctx)
	if err != nil {
		return model.UploadOutcome{Succeeded: false, LoadID: c.transactionID, ErrorDetail: err.Error()}
	}

	outcome := model.UploadOutcome{LoadID: final.ID}
	if file, ok := final.File(); ok && file.Clean() {
		outcome.Succeeded = true
	} else if ok {
		outcome.ErrorDetail = file.ErrorDetail()
	} else {
		outcome.ErrorDetail = fmt.Sprintf("load %s reported no files, estado %s", final.ID, final.State())
	}
	return outcome
}

// configInfo fetches the REG-FACT application config and returns the id of
// the ZIP file type. The contextual headers of this first call are kept on
// the session for the rest of the conversation.
func (c *Client) configInfo(ctx context.Context) (string, error) {
	extra := map[string]string{
		"email":            c.cfg.Username,
		"usuario":          c.cfg.Username,
		"organizacion":     c.cfg.NIT,
		"organizacionname": c.cfg.OrganizationName,
		"user-id":          c.cfg.UserID,
		"roles":            "15574sad",
		"transaction-id":   c.transactionID,
	}

	headers := merged(c.headers, extra)

	endpoint := c.cfg.APIBaseURL + configInfoEndpoint + "?codigo_aplicacion=" + url.QueryEscape(applicationCode)

	var resp configInfoResponse
	if err := c.doJSON(ctx, http.MethodGet, endpoint, headers, nil, &resp, true); err != nil {
		return "", fmt.Errorf("config info: %w", err)
	}

	for k, v := range extra {
		c.headers[k] = v
	}

	for _, t := range resp.Tipos {
		if t.Codigo == zipTipoCode {
			if t.ID == "" {
				return "", fmt.Errorf("config info: type %s has no id", zipTipoCode)
			}
			return t.ID, nil
		}
	}
	return "", fmt.Errorf("config info: no type with codigo %s", zipTipoCode)
}

// registerLoad announces the upcoming upload under the current transaction id.
func (c *Client) registerLoad(ctx context.Context, tipoID, zipName string) error {
	req := registerLoadRequest{
		IDCargue:     c.transactionID,
		IDTipo:       tipoID,
		Organizacion: c.cfg.NIT,
		Cantidad:     1,
		Nombres:      []string{zipName},
	}
	if err := c.doJSON(ctx, http.MethodPost, c.cfg.APIBaseURL+registerLoadEndpoint, c.headers, req, nil, true); err != nil {
		return fmt.Errorf("register load: %w", err)
	}
	return nil
}

// signedURL asks for the storage URL the blob must be PUT to.
func (c *Client) signedURL(ctx context.Context) (string, error) {
	endpoint := c.cfg.APIBaseURL + signedURLEndpoint + "?fileNames=" + url.QueryEscape(c.codigo+".zip")

	links := map[string]string{}
	if err := c.doJSON(ctx, http.MethodGet, endpoint, c.headers, nil, &links, true); err != nil {
		return "", fmt.Errorf("signed url: %w", err)
	}

	link, ok := links[c.codigo+".zip"]
	if !ok || link == "" {
		return "", fmt.Errorf("signed url: no link for %s.zip in response", c.codigo)
	}
	return link, nil
}

// putBlob places the compressed package at the signed URL.
func (c *Client) putBlob(ctx context.Context, signedURL string, blob []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, bytes.NewReader(blob))
	if err != nil {
		return fmt.Errorf("put blob: %w", err)
	}
	req.Header.Set("Content-Type", "application/zip")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("put blob: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("put blob: storage returned %s", resp.Status)
	}
	return nil
}

// confirmUpload reports the placed blob back to the API.
func (c *Client) confirmUpload(ctx context.Context, tipoID, zipName string, size int) error {
	req := []confirmUploadRequest{{
		Codigo:    c.codigo + ".zip",
		Mensajes:  []string{},
		IDArchivo: uuid.NewString(),
		IDCargue:  c.transactionID,
		Extension: "zip",
		Tamano:    math.Round(float64(size)/(1024*1024)*100) / 100,
		IDTipo:    tipoID,
		Nombre:    zipName,
	}}
	if err := c.doJSON(ctx, http.MethodPost, c.cfg.APIBaseURL+confirmUploadEndpoint, c.headers, req, nil, true); err != nil {
		return fmt.Errorf("confirm upload: %w", err)
	}
	return nil
}

// pollLoad polls findLoad until the vendor finishes processing or attempts
// run out.
func (c *Client) pollLoad(ctx context.Context) (FindLoadResponse, error) {
	today := time.Now().In(model.Bogota)
	req := findLoadRequest{
		ID:           c.transactionID,
		FechaInicial: today.Format("02/01/2006") + " 00:00:00",
		FechaFinal:   today.Format("02/01/2006") + " 23:59:59",
		Organizacion: c.cfg.NIT,
	}

	var last FindLoadResponse
	for attempt := 1; attempt <= c.cfg.PollAttempts; attempt++ {
		if err := c.doJSON(ctx, http.MethodPost, c.cfg.APIBaseURL+findLoadEndpoint, c.headers, req, &last, true); err != nil {
			return last, fmt.Errorf("find load: %w", err)
		}

		if last.Done() {
			return last, nil
		}

		if attempt < c.cfg.PollAttempts {
			select {
			case <-ctx.Done():
				return last, ctx.Err()
			case <-time.After(c.cfg.PollDelay):
			}
		}
	}

	return last, fmt.Errorf("después de %d intentos, no se cargó la factura. Último estado de API fue %q. El ID de Cargue es %s",
		c.cfg.PollAttempts, last.State(), c.transactionID)
}

// doJSON executes one JSON request. A 401 on an authenticated call triggers a
// single re-login and retry; the vendor tokens expire mid-run regularly.
func (c *Client) doJSON(ctx context.Context, method, endpoint string, headers map[string]string, body, out interface{}, retryAuth bool) error {
	status, err := c.doJSONOnce(ctx, method, endpoint, headers, body, out)
	if err != nil && status == http.StatusUnauthorized && retryAuth {
		logrus.Warn("Vendor token expired, re-authenticating")
		c.token = ""
		if loginErr := c.Login(ctx); loginErr != nil {
			return loginErr
		}
		// The retried call needs the refreshed Authorization header.
		headers = merged(c.headers, headers)
		headers["Authorization"] = c.headers["Authorization"]
		_, err = c.doJSONOnce(ctx, method, endpoint, headers, body, out)
	}
	return err
}

func (c *Client) doJSONOnce(ctx context.Context, method, endpoint string, headers map[string]string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response from %s: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("%s returned %s: %s", endpoint, resp.Status, snippet(data))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return resp.StatusCode, nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response from %s: %w", endpoint, err)
	}
	return resp.StatusCode, nil
}

// baseHeaders are the browser-shaped headers the vendor portal expects.
func (c *Client) baseHeaders() map[string]string {
	return map[string]string{
		"accept":          "application/json, text/plain, */*",
		"accept-language": "en-US,en;q=0.9",
		"cache-control":   "no-cache",
		"content-type":    "application/json",
		"origin":          c.cfg.PortalURL,
		"pragma":          "no-cache",
		"referer":         c.cfg.PortalURL,
		"user-agent":      userAgent,
	}
}

// loadCode derives the vendor load code from the wall clock, seconds plus
// four sub-second digits.
func loadCode(t time.Time) string {
	return t.Format("20060102150405") + fmt.Sprintf("%04d", t.Nanosecond()/100000)
}

func merged(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
