package backend

import (
	"encoding/base64"
	"mime"
	"net/http"
	"strconv"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/fields"
	"github.com/relabs-tech/restful/core/translate"
)

// content serves the decoded contents of an attachment
func (b *Backend) content(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	e, err := b.env(r).Store.Read(r.Context(), fields.AttachmentKind, id)
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	encoded, _ := e.Get("datas").(string)
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		b.writeError(w, r, core.FormatError("datas", id, "base64"))
		return
	}
	name, _ := e.Get("name").(string)
	mimetype, _ := e.Get("mimetype").(string)
	if mimetype == "" {
		mimetype = translate.Mimetype(name, encoded)
	}
	w.Header().Set("Content-Type", mimetype)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if name != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": name}))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
