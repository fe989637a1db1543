package mutualser

import (
	"path"
	"strings"
)

// loginRequest is the payload for /login/users/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse carries the bearer token for the session.
type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// configInfoResponse lists the file types the REG-FACT application accepts.
type configInfoResponse struct {
	Tipos []tipo `json:"tipos"`
}

type tipo struct {
	Codigo string `json:"codigo"`
	ID     string `json:"id"`
}

// registerLoadRequest announces an upload of one ZIP package.
type registerLoadRequest struct {
	IDCargue     string   `json:"id_cargue"`
	IDTipo       string   `json:"id_tipo"`
	Organizacion string   `json:"organizacion"`
	Cantidad     int      `json:"cantidad"`
	Nombres      []string `json:"nombres"`
}

// confirmUploadRequest confirms the blob placed at the signed URL.
type confirmUploadRequest struct {
	Codigo    string   `json:"codigo"`
	Mensajes  []string `json:"mensajes"`
	IDArchivo string   `json:"id_archivo"`
	IDCargue  string   `json:"id_cargue"`
	Extension string   `json:"extension"`
	Tamano    float64  `json:"tamano"`
	IDTipo    string   `json:"id_tipo"`
	Nombre    string   `json:"nombre"`
}

// findLoadRequest polls the state of a registered load.
type findLoadRequest struct {
	ID           string `json:"id"`
	FechaInicial string `json:"fecha_inicial"`
	FechaFinal   string `json:"fecha_final"`
	Organizacion string `json:"organizacion"`
}

// Mensaje is one validation message attached to an uploaded file.
type Mensaje struct {
	Codigo      string `json:"codigo"`
	Descripcion string `json:"descripcion"`
	Tipo        string `json:"tipo"`
}

// SimplifiedDescription reduces any full file path inside the description to
// its base name, keeping the report readable.
func (m Mensaje) SimplifiedDescription() string {
	words := strings.Fields(m.Descripcion)
	for i, word := range words {
		if strings.ContainsAny(word, `/\`) {
			words[i] = path.Base(strings.ReplaceAll(word, `\`, "/"))
		}
	}
	return strings.Join(words, " ")
}

// Archivo is the per-file state inside a findLoad response.
type Archivo struct {
	Codigo   string    `json:"codigo"`
	Estado   string    `json:"estado"`
	Nombre   string    `json:"nombre"`
	Mensajes []Mensaje `json:"mensajes"`
}

// Loaded reports whether the vendor finished processing the file.
func (a Archivo) Loaded() bool {
	return a.Estado == "CARGADO"
}

// Clean reports whether the file produced no validation messages. Any message
// at all means the invoice was rejected.
func (a Archivo) Clean() bool {
	return len(a.Mensajes) == 0
}

// ErrorDetail joins the validation messages into one diagnostic line.
func (a Archivo) ErrorDetail() string {
	parts := make([]string, 0, len(a.Mensajes))
	for _, m := range a.Mensajes {
		parts = append(parts, m.Codigo+". "+m.SimplifiedDescription())
	}
	return strings.Join(parts, "| ")
}

// FindLoadResponse is the vendor's answer to a findLoad poll.
type FindLoadResponse struct {
	ID       string    `json:"id"`
	Estado   string    `json:"estado"`
	Archivos []Archivo `json:"archivos"`
	Nombres  []string  `json:"nombres"`
}

// File returns the single file of the load; uploads always register exactly one.
func (r FindLoadResponse) File() (Archivo, bool) {
	if len(r.Archivos) == 0 {
		return Archivo{}, false
	}
	return r.Archivos[0], true
}

// Done reports whether polling can stop.
func (r FindLoadResponse) Done() bool {
	f, ok := r.File()
	return ok && f.Loaded()
}

// Estado of the load, preferring the per-file state when present.
func (r FindLoadResponse) State() string {
	if f, ok := r.File(); ok {
		return f.Estado
	}
	return r.Estado
}
