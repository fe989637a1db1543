package mutualser

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-relay-go/internal/config"
)

// vendorServer is a scripted stand-in for the Mutual Ser API, complete enough
// to drive the whole upload conversation.
type vendorServer struct {
	*httptest.Server

	logins       int32
	rejectLogin  bool
	expireFirst  bool // first config-info call answers 401
	configCalls  int32
	putBodies    [][]byte
	confirmCalls int32
	findLoads    []FindLoadResponse
	findCalls    int32
}

func newVendorServer(t *testing.T) *vendorServer {
	t.Helper()

	vs := &vendorServer{}
	mux := http.NewServeMux()

	mux.HandleFunc(loginEndpoint, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&vs.logins, 1)
		if vs.rejectLogin {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"detail":"bad credentials"}`)
			return
		}
		var req loginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "facturacion@logifarma.co", req.Username)
		json.NewEncoder(w).Encode(loginResponse{AccessToken: "tok-123", TokenType: "bearer"})
	})

	mux.HandleFunc(configInfoEndpoint, func(w http.ResponseWriter, r *http.Request) {
		calls := atomic.AddInt32(&vs.configCalls, 1)
		if vs.expireFirst && calls == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, applicationCode, r.URL.Query().Get("codigo_aplicacion"))
		json.NewEncoder(w).Encode(configInfoResponse{Tipos: []tipo{
			{Codigo: "XML_REG-FACT", ID: "tipo-xml"},
			{Codigo: zipTipoCode, ID: "tipo-zip"},
		}})
	})

	mux.HandleFunc(registerLoadEndpoint, func(w http.ResponseWriter, r *http.Request) {
		var req registerLoadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tipo-zip", req.IDTipo)
		assert.Equal(t, 1, req.Cantidad)
		assert.Equal(t, []string{"LGFM1574823_900073223.zip"}, req.Nombres)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc(signedURLEndpoint, func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("fileNames")
		json.NewEncoder(w).Encode(map[string]string{name: vs.URL + "/bucket/" + name})
	})

	mux.HandleFunc("/bucket/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		vs.putBodies = append(vs.putBodies, body)
	})

	mux.HandleFunc(confirmUploadEndpoint, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&vs.confirmCalls, 1)
		var req []confirmUploadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req, 1)
		assert.Equal(t, "zip", req[0].Extension)
		assert.Equal(t, "LGFM1574823_900073223.zip", req[0].Nombre)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc(findLoadEndpoint, func(w http.ResponseWriter, r *http.Request) {
		call := atomic.AddInt32(&vs.findCalls, 1)
		idx := int(call) - 1
		if idx >= len(vs.findLoads) {
			idx = len(vs.findLoads) - 1
		}
		json.NewEncoder(w).Encode(vs.findLoads[idx])
	})

	vs.Server = httptest.NewServer(mux)
	t.Cleanup(vs.Close)
	return vs
}

func (vs *vendorServer) clientConfig() *config.VendorConfig {
	return &config.VendorConfig{
		AuthBaseURL:      vs.URL,
		APIBaseURL:       vs.URL,
		PortalURL:        vs.URL,
		Username:         "facturacion@logifarma.co",
		Password:         "secret",
		NIT:              "900073223",
		UserID:           "u-1",
		OrganizationName: "LOGIFARMA SAS",
		PollAttempts:     3,
		PollDelay:        time.Millisecond,
		Timeout:          5 * time.Second,
	}
}

func TestUploadSuccess(t *testing.T) {
	vs := newVendorServer(t)
	vs.findLoads = []FindLoadResponse{
		{ID: "load-1", Estado: "EN_PROCESO"},
		{ID: "load-1", Archivos: []Archivo{{Estado: "CARGADO"}}},
	}

	client := NewClient(vs.clientConfig())
	blob := []byte("zip-bytes")

	outcome := client.Upload(context.Background(), "LGFM1574823_900073223.zip", blob)

	assert.True(t, outcome.Succeeded)
	assert.Equal(t, "load-1", outcome.LoadID)
	assert.Empty(t, outcome.ErrorDetail)

	require.Len(t, vs.putBodies, 1)
	assert.Equal(t, blob, vs.putBodies[0])
	assert.EqualValues(t, 1, vs.confirmCalls)
	assert.EqualValues(t, 2, vs.findCalls)
	assert.EqualValues(t, 1, vs.logins)
}

func TestUploadVendorRejection(t *testing.T) {
	vs := newVendorServer(t)
	vs.findLoads = []FindLoadResponse{
		{ID: "load-2", Archivos: []Archivo{{
			Estado: "CARGADO",
			Mensajes: []Mensaje{
				{Codigo: "E001", Descripcion: "El archivo /tmp/uploads/LGFM1574823_900073223.zip no es válido"},
				{Codigo: "E002", Descripcion: "Factura duplicada"},
			},
		}}},
	}

	client := NewClient(vs.clientConfig())
	outcome := client.Upload(context.Background(), "LGFM1574823_900073223.zip", []byte("zip"))

	assert.False(t, outcome.Succeeded)
	assert.Equal(t, "load-2", outcome.LoadID)
	assert.Equal(t, "E001. El archivo LGFM1574823_900073223.zip no es válido| E002. Factura duplicada", outcome.ErrorDetail)
}

func TestUploadPollExhausted(t *testing.T) {
	vs := newVendorServer(t)
	vs.findLoads = []FindLoadResponse{{ID: "load-3", Estado: "EN_PROCESO"}}

	client := NewClient(vs.clientConfig())
	outcome := client.Upload(context.Background(), "LGFM1574823_900073223.zip", []byte("zip"))

	assert.False(t, outcome.Succeeded)
	assert.Contains(t, outcome.ErrorDetail, "intentos, no se cargó la factura")
	assert.Contains(t, outcome.ErrorDetail, `"EN_PROCESO"`)
	assert.EqualValues(t, 3, vs.findCalls)
}

func TestUploadReauthenticatesOn401(t *testing.T) {
	vs := newVendorServer(t)
	vs.expireFirst = true
	vs.findLoads = []FindLoadResponse{
		{ID: "load-4", Archivos: []Archivo{{Estado: "CARGADO"}}},
	}

	client := NewClient(vs.clientConfig())
	outcome := client.Upload(context.Background(), "LGFM1574823_900073223.zip", []byte("zip"))

	assert.True(t, outcome.Succeeded)
	assert.EqualValues(t, 2, vs.logins)
	assert.EqualValues(t, 2, vs.configCalls)
}

func TestUploadLoginFailure(t *testing.T) {
	vs := newVendorServer(t)
	vs.rejectLogin = true

	client := NewClient(vs.clientConfig())
	outcome := client.Upload(context.Background(), "LGFM1574823_900073223.zip", []byte("zip"))

	assert.False(t, outcome.Succeeded)
	assert.Contains(t, outcome.ErrorDetail, "authentication failed")
	assert.False(t, client.Authenticated())
}

func TestLoginError(t *testing.T) {
	vs := newVendorServer(t)
	vs.rejectLogin = true

	client := NewClient(vs.clientConfig())
	err := client.Login(context.Background())

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestSessionReuse(t *testing.T) {
	vs := newVendorServer(t)
	vs.findLoads = []FindLoadResponse{
		{ID: "load-5", Archivos: []Archivo{{Estado: "CARGADO"}}},
	}

	client := NewClient(vs.clientConfig())
	first := client.Upload(context.Background(), "LGFM1574823_900073223.zip", []byte("zip"))
	second := client.Upload(context.Background(), "LGFM1574823_900073223.zip", []byte("zip"))

	assert.True(t, first.Succeeded)
	assert.True(t, second.Succeeded)
	assert.EqualValues(t, 1, vs.logins)
}

func TestSimplifiedDescription(t *testing.T) {
	m := Mensaje{Descripcion: `Error en C:\cargas\LGFM1574823_900073223.zip durante validación`}
	assert.Equal(t, "Error en LGFM1574823_900073223.zip durante validación", m.SimplifiedDescription())

	plain := Mensaje{Descripcion: "Factura duplicada"}
	assert.Equal(t, "Factura duplicada", plain.SimplifiedDescription())
}

func TestLoadCode(t *testing.T) {
	ts := time.Date(2025, 7, 29, 14, 51, 18, 123456789, time.UTC)
	assert.Equal(t, "202507291451181234", loadCode(ts))
}
